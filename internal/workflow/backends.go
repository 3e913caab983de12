package workflow

import (
	"fmt"
	"log/slog"

	"autopipe/internal/backend/docker"
	"autopipe/internal/backend/kubectl"
	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/config"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
	"autopipe/internal/storage"
)

// Backends bundles the configured volume and execution backends.
type Backends struct {
	VolumeName    string
	Volumes       storage.VolumeBackend
	ExecutionName string
	Execution     orchestrator.Backend
}

// NewBackends constructs the backends selected in cfg. A nil exec runs
// commands on the host.
func NewBackends(cfg *config.Config, exec services.Executor, logger *slog.Logger) (Backends, error) {
	var b Backends
	switch cfg.Storage.Backend {
	case config.BackendKubectl:
		b.Volumes = kubectl.New(cfg, exec, logger)
	case config.BackendDocker:
		b.Volumes = docker.NewVolume(cfg, exec, logger)
	default:
		return Backends{}, services.Wrap(services.ErrConfiguration, "config", "storage.backend",
			fmt.Sprintf("unsupported volume backend %q", cfg.Storage.Backend), nil)
	}
	b.VolumeName = cfg.Storage.Backend

	switch cfg.Execution.Backend {
	case config.BackendKubeflow:
		b.Execution = kubeflow.New(cfg, logger)
	case config.BackendDocker:
		b.Execution = docker.NewRunner(cfg, exec, logger)
	default:
		return Backends{}, services.Wrap(services.ErrConfiguration, "config", "execution.backend",
			fmt.Sprintf("unsupported execution backend %q", cfg.Execution.Backend), nil)
	}
	b.ExecutionName = b.Execution.Name()
	return b, nil
}
