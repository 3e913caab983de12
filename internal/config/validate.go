package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Backend names accepted by storage.backend and execution.backend.
const (
	BackendKubeflow = "kubeflow"
	BackendKubectl  = "kubectl"
	BackendDocker   = "docker"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateKubeflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if !path.IsAbs(c.Pipeline.MountRoot) {
		return fmt.Errorf("pipeline.mount_root must be an absolute path, got %q", c.Pipeline.MountRoot)
	}
	if strings.ContainsAny(c.Pipeline.IngestComponent, "/\\ ") {
		return errors.New("pipeline.ingest_component must not contain path separators or spaces")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendKubectl, BackendDocker:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (expected kubectl or docker)", c.Storage.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"storage.ready_attempts":           c.Storage.ReadyAttempts,
		"storage.ready_backoff_ms":         c.Storage.ReadyBackoffMS,
		"storage.copy_attempts":            c.Storage.CopyAttempts,
		"storage.teardown_timeout_seconds": c.Storage.TeardownTimeoutSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateExecution() error {
	switch c.Execution.Backend {
	case BackendKubeflow, BackendDocker:
	default:
		return fmt.Errorf("execution.backend: unsupported value %q (expected kubeflow or docker)", c.Execution.Backend)
	}
	if c.Execution.TimeoutSeconds < 0 {
		return errors.New("execution.timeout_seconds must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"execution.poll_interval_seconds": c.Execution.PollIntervalSeconds,
		"execution.max_poll_errors":       c.Execution.MaxPollErrors,
	}); err != nil {
		return err
	}
	if c.Execution.Backend == BackendDocker && c.Docker.Parallelism <= 0 {
		return errors.New("docker.parallelism must be positive")
	}
	return nil
}

func (c *Config) validateKubeflow() error {
	if c.Execution.Backend != BackendKubeflow {
		return nil
	}
	if c.Kubeflow.APIURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/autopipe/config.toml"
		}
		return fmt.Errorf("kubeflow.api_url is required for the kubeflow backend. Set KFP_API_URL env var or edit %s (create with 'autopipe config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Kubeflow.APIURL, "http://") && !strings.HasPrefix(c.Kubeflow.APIURL, "https://") {
		return fmt.Errorf("kubeflow.api_url must be an http(s) URL, got %q", c.Kubeflow.APIURL)
	}
	if c.Kubeflow.RequestTimeoutSeconds <= 0 {
		return errors.New("kubeflow.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
