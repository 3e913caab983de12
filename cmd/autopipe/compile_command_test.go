package main

import (
	"errors"
	"strings"
	"testing"

	"autopipe/internal/services"
	"autopipe/internal/testsupport"
)

func TestCompilePrintsPlan(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeDAG(t, env, testsupport.LinearDAG)

	out, _, err := runCLI(t, env, "compile", path)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, want := range []string{"save-media", "tester/A:latest", "/mnt/data/video.mp4", "/mnt/data/A.tar.gz", "/mnt/data/C"} {
		requireContains(t, out, want)
	}
	if strings.Index(out, "tester/A:latest") > strings.Index(out, "tester/C:latest") {
		t.Fatalf("expected A before C in plan:\n%s", out)
	}
}

func TestCompileDOT(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeDAG(t, env, testsupport.LinearDAG)

	out, _, err := runCLI(t, env, "compile", "--dot", path)
	if err != nil {
		t.Fatalf("compile --dot: %v", err)
	}
	requireContains(t, out, "digraph")
}

func TestCompileDockerPackage(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeDAG(t, env, testsupport.LinearDAG)

	out, _, err := runCLI(t, env, "compile", "--package", "--backend", "docker", path)
	if err != nil {
		t.Fatalf("compile --package: %v", err)
	}
	requireContains(t, out, `"volume_parameter"`)
}

func TestCompileRejectsCycle(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeDAG(t, env, `
components: [A, B]
dependencies:
  - [A, B, x]
  - [B, A, y]
initial_input: video.mp4
`)

	_, _, err := runCLI(t, env, "compile", path)
	if !errors.Is(err, services.ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if code := services.ExitCode(err); code != services.ExitCycleDetected {
		t.Fatalf("exit code = %d, want %d", code, services.ExitCycleDetected)
	}
}
