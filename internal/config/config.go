package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	HistoryDB string `toml:"history_db"`
}

// Images describes how component names map to container images.
type Images struct {
	RegistryPrefix string   `toml:"registry_prefix"`
	Tag            string   `toml:"tag"`
	Command        []string `toml:"command"`
}

// Pipeline contains compilation conventions shared by every step.
type Pipeline struct {
	Name            string `toml:"name"`
	Description     string `toml:"description"`
	MountRoot       string `toml:"mount_root"`
	IngestComponent string `toml:"ingest_component"`
	VolumeParameter string `toml:"volume_parameter"`
}

// Storage contains shared volume lifecycle settings.
type Storage struct {
	Backend                string `toml:"backend"`
	NamePrefix             string `toml:"name_prefix"`
	Size                   string `toml:"size"`
	Namespace              string `toml:"namespace"`
	StorageClass           string `toml:"storage_class"`
	AccessImage            string `toml:"access_image"`
	ReadyAttempts          int    `toml:"ready_attempts"`
	ReadyBackoffMS         int    `toml:"ready_backoff_ms"`
	CopyAttempts           int    `toml:"copy_attempts"`
	TeardownTimeoutSeconds int    `toml:"teardown_timeout_seconds"`
}

// Execution contains run submission and monitoring settings.
type Execution struct {
	Backend             string `toml:"backend"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxPollErrors       int    `toml:"max_poll_errors"`
	CancelOnTimeout     bool   `toml:"cancel_on_timeout"`
}

// Kubeflow contains Kubeflow Pipelines API settings.
type Kubeflow struct {
	APIURL                string `toml:"api_url"`
	Namespace             string `toml:"namespace"`
	Experiment            string `toml:"experiment"`
	AuthToken             string `toml:"auth_token"`
	SessionCookie         string `toml:"session_cookie"`
	SkipTLSVerify         bool   `toml:"skip_tls_verify"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	EnableCaching         bool   `toml:"enable_caching"`
}

// Docker contains local docker backend settings.
type Docker struct {
	Binary      string `toml:"binary"`
	Parallelism int    `toml:"parallelism"`
}

// Kubectl contains kubectl volume backend settings.
type Kubectl struct {
	Binary  string `toml:"binary"`
	Context string `toml:"context"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for autopipe.
//
// Configuration sections by subsystem:
//   - Paths: local output, log, and history locations
//   - Images: component image naming convention
//   - Pipeline: mount root, ingest component, and run parameter names
//   - Storage: shared volume backend and lifecycle tuning
//   - Execution: execution backend, timeout, and polling
//   - Kubeflow: Kubeflow Pipelines API connection
//   - Docker: local docker backend
//   - Kubectl: Kubernetes volume backend
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Images    Images    `toml:"images"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Storage   Storage   `toml:"storage"`
	Execution Execution `toml:"execution"`
	Kubeflow  Kubeflow  `toml:"kubeflow"`
	Docker    Docker    `toml:"docker"`
	Kubectl   Kubectl   `toml:"kubectl"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/autopipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autopipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories autopipe writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, filepath.Dir(c.Paths.HistoryDB)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunTimeout returns the configured run timeout.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSeconds) * time.Second
}

// PollInterval returns the configured status polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Execution.PollIntervalSeconds) * time.Second
}

// ReadyBackoff returns the initial delay between readiness checks.
func (c *Config) ReadyBackoff() time.Duration {
	return time.Duration(c.Storage.ReadyBackoffMS) * time.Millisecond
}

// TeardownTimeout bounds each teardown operation that follows the run.
func (c *Config) TeardownTimeout() time.Duration {
	return time.Duration(c.Storage.TeardownTimeoutSeconds) * time.Second
}

// KubeflowRequestTimeout returns the per-request HTTP timeout for the Kubeflow API.
func (c *Config) KubeflowRequestTimeout() time.Duration {
	return time.Duration(c.Kubeflow.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration to path. With local set, the
// sample selects docker for both volumes and execution so it runs without a
// cluster.
func CreateSample(path string, local bool) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	content := sampleConfig
	if local {
		content = strings.Replace(content, `backend = "`+BackendKubectl+`"`, `backend = "`+BackendDocker+`"`, 1)
		content = strings.Replace(content, `backend = "`+BackendKubeflow+`"`, `backend = "`+BackendDocker+`"`, 1)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
