package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "local docker volumes")
	requireContains(t, out, "local docker, 4 steps in parallel")
	requireContains(t, out, env.historyDB)
	if strings.Contains(out, "from DOCKER_USERNAME") {
		t.Fatalf("prefix set in the file should not be attributed to the environment:\n%s", out)
	}

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigInitLocalValidatesWithoutCluster(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("DOCKER_USERNAME", "media-team")

	target := filepath.Join(t.TempDir(), "local.toml")
	if _, _, err := runCLI(t, env, "config", "init", "--path", target, "--local"); err != nil {
		t.Fatalf("config init --local: %v", err)
	}

	env.configPath = target
	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("validate local sample: %v", err)
	}
	requireContains(t, out, "media-team (from DOCKER_USERNAME)")
	requireContains(t, out, "local docker volumes")
	requireContains(t, out, "Configuration valid")
	if strings.Contains(out, "kubeflow") {
		t.Fatalf("local sample should not report kubeflow settings:\n%s", out)
	}
}

func TestConfigValidateReportsMissingKubeflowURL(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "cluster.toml")
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err != nil {
		t.Fatalf("config init: %v", err)
	}
	env.configPath = target
	if _, _, err := runCLI(t, env, "config", "validate"); err == nil || !strings.Contains(err.Error(), "kubeflow.api_url") {
		t.Fatalf("expected missing api_url error, got %v", err)
	}
}
