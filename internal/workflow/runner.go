package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"autopipe/internal/appdag"
	"autopipe/internal/compiler"
	"autopipe/internal/config"
	"autopipe/internal/history"
	"autopipe/internal/logging"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
	"autopipe/internal/storage"
)

// LockFileName is created in the output directory while an invocation runs.
const LockFileName = ".autopipe.lock"

// History states for invocations that never reached a run.
const (
	StateRejected         = "rejected"
	StateAllocationFailed = "allocation_failed"
	StateSubmissionFailed = "submission_failed"
)

// Request describes one invocation.
type Request struct {
	SpecPath  string
	OutputDir string
	// Timeout overrides the configured run timeout when non-nil.
	Timeout *time.Duration
}

// Result reports what an invocation did. It is returned alongside any error.
type Result struct {
	HistoryID int64
	Spec      *appdag.Spec
	Pipeline  *compiler.Pipeline
	Volume    storage.Volume
	Run       *orchestrator.PipelineRun
	OutputDir string
	Fetched   bool
	Released  bool
}

// Runner sequences the pipeline stages for invocations.
type Runner struct {
	cfg          *config.Config
	compiler     *compiler.Compiler
	storage      *storage.Manager
	orchestrator *orchestrator.Orchestrator
	history      *history.Store
	backends     Backends
	logger       *slog.Logger
}

// New wires a runner around backends. A nil store disables history.
func New(cfg *config.Config, backends Backends, store *history.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:          cfg,
		compiler:     compiler.New(cfg, logger),
		storage:      storage.NewManager(backends.Volumes, storage.OptionsFromConfig(cfg), logger),
		orchestrator: orchestrator.New(backends.Execution, orchestrator.OptionsFromConfig(cfg), logger),
		history:      store,
		backends:     backends,
		logger:       logging.NewComponentLogger(logger, "workflow"),
	}
}

// Storage exposes the volume manager for manual cleanup.
func (r *Runner) Storage() *storage.Manager { return r.storage }

// Invoke runs one pipeline document to completion. The returned error joins
// the run outcome with any teardown failures.
func (r *Runner) Invoke(ctx context.Context, req Request) (*Result, error) {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger)

	result := &Result{OutputDir: req.OutputDir}
	if result.OutputDir == "" {
		result.OutputDir = r.cfg.Paths.OutputDir
	}
	timeout := r.cfg.RunTimeout()
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	unlock, err := lockOutput(result.OutputDir)
	if err != nil {
		return result, err
	}
	defer unlock()

	record := &history.Run{
		Pipeline:         r.cfg.Pipeline.Name,
		SpecPath:         req.SpecPath,
		ExecutionBackend: r.backends.ExecutionName,
		VolumeBackend:    r.backends.VolumeName,
		OutputDir:        result.OutputDir,
	}
	r.startRecord(ctx, record, logger)
	result.HistoryID = record.ID

	err = r.invoke(ctx, req, timeout, result, logger)

	r.finishRecord(ctx, record, result, err, logger)
	if err != nil {
		logger.Error("invocation finished with errors",
			logging.String("summary", services.Describe(err)),
			logging.Bool("partial_success", services.IsPartialSuccess(err)),
			logging.Error(err),
		)
	} else {
		logger.Info("invocation complete", logging.String("output_dir", result.OutputDir))
	}
	return result, err
}

func (r *Runner) invoke(ctx context.Context, req Request, timeout time.Duration, result *Result, logger *slog.Logger) error {
	spec, err := appdag.Load(req.SpecPath)
	if err != nil {
		return err
	}
	result.Spec = spec

	pipeline, err := r.compiler.Compile(spec)
	if err != nil {
		return err
	}
	result.Pipeline = pipeline
	if unscheduled := pipeline.Unscheduled(); len(unscheduled) > 0 {
		logging.WarnWithContext(logger, "components without dependencies will not run", "unscheduled_components",
			logging.Strings("components", unscheduled),
			logging.String(logging.FieldImpact, "listed components are skipped"),
			logging.String(logging.FieldErrorHint, "add a dependency edge for each component that should run"),
		)
	}
	logger.Info("pipeline compiled",
		logging.String("pipeline", pipeline.Name),
		logging.Int("steps", pipeline.Len()),
		logging.Strings("order", pipeline.Order()),
	)

	vol, err := r.storage.Allocate(ctx, "")
	if err != nil {
		return err
	}
	result.Volume = vol

	run, runErr := r.orchestrator.Run(ctx, pipeline, vol, timeout)
	result.Run = run

	var fetchErr error
	if run != nil {
		fetchCtx, cancelFetch := r.teardownContext(ctx)
		fetchErr = r.storage.Fetch(fetchCtx, vol, result.OutputDir)
		cancelFetch()
		if fetchErr == nil {
			result.Fetched = true
		} else {
			logging.WarnWithContext(logger, "fetch failed", "fetch_failed",
				logging.Volume(vol.Name),
				logging.Error(fetchErr),
				logging.String(logging.FieldImpact, "outputs were not copied to the output directory"),
			)
		}
	}
	releaseCtx, cancelRelease := r.teardownContext(ctx)
	releaseErr := r.storage.Release(releaseCtx, vol)
	cancelRelease()
	if releaseErr == nil {
		result.Released = true
	} else {
		logging.WarnWithContext(logger, "release failed", "release_failed",
			logging.Volume(vol.Name),
			logging.Error(releaseErr),
			logging.String(logging.FieldImpact, "volume is leaked until released manually"),
			logging.String(logging.FieldErrorHint, "run autopipe volume release "+vol.Name),
		)
	}
	return errors.Join(runErr, fetchErr, releaseErr)
}

// teardownContext detaches from the caller's cancellation and applies the
// per-operation teardown bound.
func (r *Runner) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.cfg.TeardownTimeout()
	if timeout <= 0 {
		return context.WithCancel(context.WithoutCancel(ctx))
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func lockOutput(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "create output directory", dir, err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "acquire", dir, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "acquire",
			fmt.Sprintf("another invocation is writing to %s", dir), nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (r *Runner) startRecord(ctx context.Context, record *history.Run, logger *slog.Logger) {
	if r.history == nil {
		return
	}
	if err := r.history.Start(ctx, record); err != nil {
		logger.Warn("history record not created", logging.Error(err))
	}
}

func (r *Runner) finishRecord(ctx context.Context, record *history.Run, result *Result, err error, logger *slog.Logger) {
	if r.history == nil || record.ID == 0 {
		return
	}
	ended := time.Now().UTC()
	record.EndedAt = &ended
	if result.Pipeline != nil {
		record.Pipeline = result.Pipeline.Name
	}
	record.Volume = result.Volume.Name
	record.Fetched = result.Fetched
	record.Released = result.Released || result.Volume.Name == ""
	record.State = historyState(result, err)
	record.ExitCode = services.ExitCode(err)
	if err != nil {
		record.ErrorMessage = err.Error()
	}
	if run := result.Run; run != nil {
		record.BackendRunID = run.ID
		record.Detail = run.Detail
		record.ResultLocation = run.ResultLocation
	}
	if updateErr := r.history.Update(context.WithoutCancel(ctx), record); updateErr != nil {
		logger.Warn("history record not updated", logging.Int("history_id", int(record.ID)), logging.Error(updateErr))
	}
}

func historyState(result *Result, err error) string {
	switch {
	case result.Run != nil:
		return string(result.Run.State)
	case result.Volume.Name != "":
		return StateSubmissionFailed
	case errors.Is(err, services.ErrVolumeAllocation):
		return StateAllocationFailed
	case err != nil:
		return StateRejected
	default:
		return string(orchestrator.StateSucceeded)
	}
}
