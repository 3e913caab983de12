package kubeflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"autopipe/internal/compiler"
	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/orchestrator"
)

// Name identifies this backend in config and run history.
const Name = "kubeflow"

// Options holds run submission settings.
type Options struct {
	Experiment      string
	EnableCaching   bool
	VolumeParameter string
}

// Backend implements orchestrator.Backend and orchestrator.Canceler.
type Backend struct {
	client *Client
	opts   Options
	logger *slog.Logger
}

// New constructs a backend from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Backend {
	return NewWithClient(NewClient(cfg), Options{
		Experiment:      cfg.Kubeflow.Experiment,
		EnableCaching:   cfg.Kubeflow.EnableCaching,
		VolumeParameter: cfg.Pipeline.VolumeParameter,
	}, logger)
}

// NewWithClient constructs a backend around an existing client.
func NewWithClient(client *Client, opts Options, logger *slog.Logger) *Backend {
	if opts.Experiment == "" {
		opts.Experiment = "auto_kubepipe"
	}
	if opts.VolumeParameter == "" {
		opts.VolumeParameter = "pvc_name"
	}
	return &Backend{
		client: client,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "kubeflow"),
	}
}

func (b *Backend) Name() string { return Name }

// Client exposes the API client for health checks.
func (b *Backend) Client() *Client { return b.client }

// Package renders the pipeline as KFP IR.
func (b *Backend) Package(p *compiler.Pipeline) (orchestrator.Package, error) {
	return BuildIR(p, b.opts.EnableCaching)
}

// Submit uploads pkg under a unique name and starts a run with params.
func (b *Backend) Submit(ctx context.Context, pkg orchestrator.Package, params map[string]string) (string, error) {
	uploadName := fmt.Sprintf("%s-%s", pkg.Name, uuid.NewString()[:8])
	pipeline, err := b.client.UploadPipeline(ctx, uploadName, "", pkg.Body)
	if err != nil {
		return "", fmt.Errorf("upload pipeline: %w", err)
	}
	version, err := b.client.LatestVersion(ctx, pipeline.ID)
	if err != nil {
		return "", fmt.Errorf("resolve pipeline version: %w", err)
	}
	experiment, err := b.client.EnsureExperiment(ctx, b.opts.Experiment)
	if err != nil {
		return "", fmt.Errorf("ensure experiment %s: %w", b.opts.Experiment, err)
	}

	runID, err := b.client.CreateRun(ctx, RunRequest{
		DisplayName:  "Pipeline run for " + runLabel(params[b.opts.VolumeParameter], pkg.Name),
		ExperimentID: experiment.ID,
		PipelineID:   pipeline.ID,
		VersionID:    version.ID,
		Parameters:   params,
	})
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	b.logger.Info("kubeflow run created",
		logging.RunID(runID),
		logging.String("pipeline_id", pipeline.ID),
		logging.String("experiment", experiment.DisplayName),
	)
	return runID, nil
}

func runLabel(volume, fallback string) string {
	if volume != "" {
		return volume
	}
	return fallback
}

// Status maps the KFP run state onto orchestrator states.
func (b *Backend) Status(ctx context.Context, runID string) (orchestrator.Status, error) {
	run, err := b.client.GetRun(ctx, runID)
	if err != nil {
		return orchestrator.Status{}, err
	}
	return mapState(run), nil
}

func mapState(run Run) orchestrator.Status {
	detail := ""
	if run.Error != nil {
		detail = run.Error.Message
	}
	switch strings.ToUpper(run.State) {
	case "SUCCEEDED", "SKIPPED":
		return orchestrator.Status{State: orchestrator.StateSucceeded, Detail: detail}
	case "FAILED":
		if detail == "" {
			detail = "run failed without an error message"
		}
		return orchestrator.Status{State: orchestrator.StateFailed, Detail: detail}
	case "CANCELED":
		if detail == "" {
			detail = "run was canceled"
		}
		return orchestrator.Status{State: orchestrator.StateFailed, Detail: detail}
	case "RUNNING", "CANCELING", "PAUSED":
		return orchestrator.Status{State: orchestrator.StateRunning, Detail: detail}
	default:
		return orchestrator.Status{State: orchestrator.StatePending, Detail: detail}
	}
}

// ResultLocation returns the KFP UI link for the run.
func (b *Backend) ResultLocation(_ context.Context, runID string) (string, error) {
	return b.client.BaseURL() + "/#/runs/details/" + runID, nil
}

// Cancel terminates the run.
func (b *Backend) Cancel(ctx context.Context, runID string) error {
	return b.client.CancelRun(ctx, runID)
}
