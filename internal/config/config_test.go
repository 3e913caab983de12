package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"autopipe/internal/config"
)

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	t.Setenv("KFP_API_URL", "https://kfp.example.com/pipeline/")
	t.Setenv("KFP_TOKEN", "token-123")
	t.Setenv("DOCKER_USERNAME", "myapp")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "autopipe", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	if !filepath.IsAbs(cfg.Paths.OutputDir) {
		t.Fatalf("expected absolute output dir, got %q", cfg.Paths.OutputDir)
	}
	if cfg.Kubeflow.APIURL != "https://kfp.example.com/pipeline" {
		t.Fatalf("expected trailing slash trimmed from env api url, got %q", cfg.Kubeflow.APIURL)
	}
	if cfg.Kubeflow.AuthToken != "token-123" {
		t.Fatalf("expected token from env, got %q", cfg.Kubeflow.AuthToken)
	}
	if cfg.Images.RegistryPrefix != "myapp" {
		t.Fatalf("expected registry prefix from DOCKER_USERNAME, got %q", cfg.Images.RegistryPrefix)
	}
	if cfg.Pipeline.MountRoot != "/mnt/data" {
		t.Fatalf("unexpected mount root %q", cfg.Pipeline.MountRoot)
	}
	if cfg.Pipeline.IngestComponent != "save-media" {
		t.Fatalf("unexpected ingest component %q", cfg.Pipeline.IngestComponent)
	}
	if cfg.Storage.Size != "5Gi" || cfg.Storage.NamePrefix != "mypipe-pvc" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.RunTimeout().Seconds() != 3600 {
		t.Fatalf("unexpected timeout %s", cfg.RunTimeout())
	}
	if cfg.PollInterval().Seconds() != 10 {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval())
	}
	if !cfg.Execution.CancelOnTimeout {
		t.Fatal("expected cancel_on_timeout enabled by default")
	}
	if cfg.Kubeflow.Experiment != "auto_kubepipe" {
		t.Fatalf("unexpected experiment %q", cfg.Kubeflow.Experiment)
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("DOCKER_USERNAME", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "autopipe.toml")

	type payload struct {
		Images struct {
			RegistryPrefix string   `toml:"registry_prefix"`
			Command        []string `toml:"command"`
		} `toml:"images"`
		Storage struct {
			Backend string `toml:"backend"`
			Size    string `toml:"size"`
		} `toml:"storage"`
		Execution struct {
			Backend        string `toml:"backend"`
			TimeoutSeconds int    `toml:"timeout_seconds"`
		} `toml:"execution"`
		Pipeline struct {
			MountRoot string `toml:"mount_root"`
		} `toml:"pipeline"`
	}
	custom := payload{}
	custom.Images.RegistryPrefix = "registry.example.com/team/"
	custom.Images.Command = []string{"python3", " run.py "}
	custom.Storage.Backend = "Docker"
	custom.Storage.Size = "10Gi"
	custom.Execution.Backend = "docker"
	custom.Execution.TimeoutSeconds = 120
	custom.Pipeline.MountRoot = "/workspace/"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Images.RegistryPrefix != "registry.example.com/team" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Images.RegistryPrefix)
	}
	if strings.Join(cfg.Images.Command, " ") != "python3 run.py" {
		t.Fatalf("unexpected command %q", cfg.Images.Command)
	}
	if cfg.Storage.Backend != config.BackendDocker {
		t.Fatalf("expected lowercased backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Size != "10Gi" {
		t.Fatalf("unexpected size %q", cfg.Storage.Size)
	}
	if cfg.Execution.TimeoutSeconds != 120 {
		t.Fatalf("unexpected timeout %d", cfg.Execution.TimeoutSeconds)
	}
	if cfg.Pipeline.MountRoot != "/workspace" {
		t.Fatalf("expected trailing slash trimmed from mount root, got %q", cfg.Pipeline.MountRoot)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path, false); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Pipeline.IngestComponent != "save-media" {
		t.Fatalf("unexpected sample ingest component %q", cfg.Pipeline.IngestComponent)
	}
	if !strings.Contains(cfg.Paths.HistoryDB, "autopipe") {
		t.Fatalf("expected history db to contain autopipe, got %q", cfg.Paths.HistoryDB)
	}
}

func TestCreateLocalSampleSelectsDocker(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "local.toml")
	if err := config.CreateSample(path, true); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load local sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Storage.Backend != config.BackendDocker || cfg.Execution.Backend != config.BackendDocker {
		t.Fatalf("expected docker backends, got %s/%s", cfg.Storage.Backend, cfg.Execution.Backend)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Kubeflow.APIURL = "https://kfp.example.com"
		return cfg
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing api url", func(c *config.Config) { c.Kubeflow.APIURL = "" }},
		{"non http api url", func(c *config.Config) { c.Kubeflow.APIURL = "kfp.local" }},
		{"unknown storage backend", func(c *config.Config) { c.Storage.Backend = "s3" }},
		{"unknown execution backend", func(c *config.Config) { c.Execution.Backend = "argo" }},
		{"negative timeout", func(c *config.Config) { c.Execution.TimeoutSeconds = -1 }},
		{"zero poll interval", func(c *config.Config) { c.Execution.PollIntervalSeconds = 0 }},
		{"zero poll errors", func(c *config.Config) { c.Execution.MaxPollErrors = 0 }},
		{"zero ready attempts", func(c *config.Config) { c.Storage.ReadyAttempts = 0 }},
		{"relative mount root", func(c *config.Config) { c.Pipeline.MountRoot = "mnt/data" }},
		{"ingest with separator", func(c *config.Config) { c.Pipeline.IngestComponent = "a/b" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"docker without parallelism", func(c *config.Config) {
			c.Execution.Backend = config.BackendDocker
			c.Docker.Parallelism = 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestZeroTimeoutIsAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.Backend = config.BackendDocker
	cfg.Execution.TimeoutSeconds = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero timeout to validate, got %v", err)
	}
}
