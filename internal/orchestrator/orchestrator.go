package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autopipe/internal/compiler"
	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/services"
	"autopipe/internal/storage"
)

const cancelTimeout = 30 * time.Second

// PipelineRun records the outcome of one submitted pipeline.
type PipelineRun struct {
	ID             string
	Backend        string
	Pipeline       string
	Volume         string
	StartedAt      time.Time
	EndedAt        time.Time
	State          State
	Detail         string
	ResultLocation string
}

// Duration returns how long the run was tracked.
func (r *PipelineRun) Duration() time.Duration {
	if r == nil || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Options control polling.
type Options struct {
	PollInterval time.Duration
	// MaxPollErrors is how many consecutive status errors are retried
	// before the run is failed.
	MaxPollErrors   int
	CancelOnTimeout bool
}

// OptionsFromConfig reads the execution section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:    cfg.PollInterval(),
		MaxPollErrors:   cfg.Execution.MaxPollErrors,
		CancelOnTimeout: cfg.Execution.CancelOnTimeout,
	}
}

// Orchestrator runs pipelines on one backend.
type Orchestrator struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// New constructs an orchestrator.
func New(backend Backend, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = 1
	}
	return &Orchestrator{
		backend: backend,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// Backend returns the execution backend.
func (o *Orchestrator) Backend() Backend {
	return o.backend
}

// Parameters binds the pipeline's volume parameter to the allocated volume.
func Parameters(p *compiler.Pipeline, vol storage.Volume) map[string]string {
	return map[string]string{p.Mount.Parameter: vol.Name}
}

// Run packages and submits p with vol bound, then waits for a terminal state.
// A nil run is returned only when submission did not happen. A timeout of zero
// or less times out right after submission.
func (o *Orchestrator) Run(ctx context.Context, p *compiler.Pipeline, vol storage.Volume, timeout time.Duration) (*PipelineRun, error) {
	ctx = services.WithVolume(services.WithStage(ctx, "submit"), vol.Name)
	logger := logging.WithContext(ctx, o.logger)

	pkg, err := o.backend.Package(p)
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, "submit", "package", p.Name, err)
	}

	started := time.Now().UTC()
	runID, err := o.backend.Submit(ctx, pkg, Parameters(p, vol))
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, "submit", o.backend.Name(), p.Name, err)
	}

	run := &PipelineRun{
		ID:        runID,
		Backend:   o.backend.Name(),
		Pipeline:  p.Name,
		Volume:    vol.Name,
		StartedAt: started,
		State:     StatePending,
	}
	ctx = services.WithRunID(services.WithStage(ctx, "monitor"), runID)
	logger = logging.WithContext(ctx, o.logger)
	logger.Info("pipeline submitted", logging.Duration("timeout", timeout))

	err = o.await(ctx, run, started.Add(timeout), timeout <= 0, logger)
	run.EndedAt = time.Now().UTC()

	if run.State == StateTimedOut {
		o.cancel(ctx, run, logger)
	}
	if run.State == StateSucceeded {
		location, locErr := o.backend.ResultLocation(ctx, runID)
		if locErr != nil {
			logger.Debug("result location unavailable", logging.Error(locErr))
		}
		run.ResultLocation = location
	}
	logger.Info("pipeline finished",
		logging.String("state", string(run.State)),
		logging.Duration("elapsed", run.Duration()),
	)
	return run, err
}

func (o *Orchestrator) await(ctx context.Context, run *PipelineRun, deadline time.Time, expired bool, logger *slog.Logger) error {
	if expired {
		run.State = StateTimedOut
		run.Detail = "timeout elapsed before the first status check"
		return services.Wrap(services.ErrRunTimedOut, "monitor", run.ID, run.Detail, nil)
	}

	consecutiveErrors := 0
	for {
		status, err := o.backend.Status(ctx, run.ID)
		switch {
		case err != nil && ctx.Err() == nil:
			consecutiveErrors++
			logger.Warn("status check failed",
				logging.Int("consecutive_errors", consecutiveErrors),
				logging.Int("max_errors", o.opts.MaxPollErrors),
				logging.Error(err),
			)
			if consecutiveErrors > o.opts.MaxPollErrors {
				run.State = StateFailed
				run.Detail = fmt.Sprintf("status unavailable after %d attempts: %v", consecutiveErrors, err)
				return services.Wrap(services.ErrRunFailed, "monitor", run.ID, "status polling exhausted", err)
			}
		case err == nil:
			consecutiveErrors = 0
			if status.State != run.State {
				logger.Debug("run state changed", logging.String("state", string(status.State)))
			}
			run.State = status.State
			run.Detail = status.Detail
			switch status.State {
			case StateSucceeded:
				return nil
			case StateFailed:
				return services.Wrap(services.ErrRunFailed, "monitor", run.ID, status.Detail, nil)
			case StateTimedOut:
				return services.Wrap(services.ErrRunTimedOut, "monitor", run.ID, status.Detail, nil)
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			last := run.State
			run.State = StateTimedOut
			run.Detail = fmt.Sprintf("timeout elapsed while run was %s", last)
			if ctx.Err() != nil {
				run.Detail = "monitoring interrupted: " + ctx.Err().Error()
			}
			return services.Wrap(services.ErrRunTimedOut, "monitor", run.ID, run.Detail, ctx.Err())
		}

		wait := o.opts.PollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (o *Orchestrator) cancel(ctx context.Context, run *PipelineRun, logger *slog.Logger) {
	if !o.opts.CancelOnTimeout {
		logging.WarnWithContext(logger, "run left in flight after timeout", "run_orphaned",
			logging.String(logging.FieldImpact, "backend run keeps consuming resources"),
			logging.String(logging.FieldErrorHint, "cancel the run manually or enable execution.cancel_on_timeout"),
		)
		return
	}
	canceler, ok := o.backend.(Canceler)
	if !ok {
		logger.Info("backend does not support cancellation", logging.String("backend", o.backend.Name()))
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := canceler.Cancel(cancelCtx, run.ID); err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(logger, "run cancellation failed", "run_cancel_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "backend run may still be running"),
		)
		return
	}
	logger.Info("run cancelled after timeout")
}
