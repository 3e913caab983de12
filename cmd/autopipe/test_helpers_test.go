package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"autopipe/internal/services"
	"autopipe/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	outputDir  string
	historyDB  string
	executor   *dockerSimulator
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("DOCKER_USERNAME", "")
	t.Setenv("KFP_API_URL", "")
	t.Setenv("KFP_TOKEN", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(homeDir, ".config", "autopipe", "config.toml"),
		outputDir:  filepath.Join(base, "output"),
		historyDB:  filepath.Join(base, "state", "history.db"),
		executor:   &dockerSimulator{},
	}
	if err := os.MkdirAll(filepath.Dir(env.configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, env)
	return env
}

func writeTestConfig(t *testing.T, env *cliTestEnv) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
output_dir = %q
log_dir = %q
history_db = %q

[images]
registry_prefix = "tester"

[storage]
backend = "docker"
ready_backoff_ms = 1

[execution]
backend = "docker"
poll_interval_seconds = 1
`, env.outputDir, filepath.Join(env.baseDir, "logs"), env.historyDB)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	ctx := newCommandContext()
	ctx.executor = env.executor
	cmd := newRootCommandWithContext(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeDAG(t *testing.T, env *cliTestEnv, content string) string {
	t.Helper()
	return testsupport.WriteDAG(t, env.baseDir, "pipeline.yaml", content)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// dockerSimulator answers docker CLI calls the way a healthy daemon would.
// Steps whose image contains failImage exit non-zero.
type dockerSimulator struct {
	mu        sync.Mutex
	calls     []string
	failImage string
}

func (d *dockerSimulator) Run(_ context.Context, binary string, args []string, _ []byte) (services.Output, error) {
	d.mu.Lock()
	d.calls = append(d.calls, strings.Join(append([]string{binary}, args...), " "))
	failImage := d.failImage
	d.mu.Unlock()

	if len(args) == 0 {
		return services.Output{}, nil
	}
	last := args[len(args)-1]
	switch {
	case len(args) >= 2 && args[0] == "volume" && args[1] == "inspect":
		return services.Output{Stdout: last + "\n"}, nil
	case len(args) >= 2 && args[0] == "container" && args[1] == "inspect":
		return services.Output{Stdout: "created\n"}, nil
	case args[0] == "cp":
		if err := os.MkdirAll(last, 0o755); err != nil {
			return services.Output{}, err
		}
		return services.Output{}, os.WriteFile(filepath.Join(last, "result.txt"), []byte("done"), 0o644)
	case args[0] == "run" && failImage != "":
		for _, arg := range args {
			if strings.Contains(arg, failImage) {
				return services.Output{Stderr: "boom"}, &services.CommandError{Binary: binary, Args: args, Stderr: "boom", Err: fmt.Errorf("exit status 1")}
			}
		}
	}
	return services.Output{}, nil
}

func (d *dockerSimulator) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}
