package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autopipe/internal/compiler"
	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
)

// Name identifies this backend in config and run history.
const Name = "docker"

// StepState is the outcome of one step in a local run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// RunnerOptions configures local execution.
type RunnerOptions struct {
	Binary      string
	Parallelism int
}

// Runner implements orchestrator.Backend and orchestrator.Canceler on the
// local docker daemon.
type Runner struct {
	opts   RunnerOptions
	exec   services.Executor
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	id       string
	cancel   context.CancelFunc
	state    orchestrator.State
	detail   string
	volume   string
	steps    map[string]StepState
	canceled bool
	done     chan struct{}
}

// NewRunner constructs a runner from configuration.
func NewRunner(cfg *config.Config, exec services.Executor, logger *slog.Logger) *Runner {
	return NewRunnerWithOptions(RunnerOptions{
		Binary:      cfg.Docker.Binary,
		Parallelism: cfg.Docker.Parallelism,
	}, exec, logger)
}

// NewRunnerWithOptions constructs a runner with explicit options.
func NewRunnerWithOptions(opts RunnerOptions, exec services.Executor, logger *slog.Logger) *Runner {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if exec == nil {
		exec = services.CommandExecutor{}
	}
	return &Runner{
		opts:   opts,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, "docker"),
		runs:   make(map[string]*localRun),
	}
}

func (r *Runner) Name() string { return Name }

// Package renders the pipeline as a docker plan.
func (r *Runner) Package(p *compiler.Pipeline) (orchestrator.Package, error) {
	return BuildPlan(p)
}

// Submit starts executing the plan in the background and returns its run ID.
// The run outlives ctx; use Cancel to stop it.
func (r *Runner) Submit(ctx context.Context, pkg orchestrator.Package, params map[string]string) (string, error) {
	plan, err := DecodePlan(pkg)
	if err != nil {
		return "", err
	}
	volume := params[plan.VolumeParameter]
	if volume == "" {
		return "", fmt.Errorf("parameter %s is required", plan.VolumeParameter)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runID := uuid.NewString()
	run := &localRun{
		id:     runID,
		cancel: cancel,
		state:  orchestrator.StateRunning,
		volume: volume,
		steps:  make(map[string]StepState, len(plan.Steps)),
		done:   make(chan struct{}),
	}
	for _, step := range plan.Steps {
		run.steps[step.Name] = StepPending
	}
	r.mu.Lock()
	r.runs[runID] = run
	r.mu.Unlock()

	r.logger.Info("docker run started",
		logging.RunID(runID),
		logging.Volume(volume),
		logging.Int("steps", len(plan.Steps)),
	)
	go r.execute(runCtx, runID, run, plan)
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, runID string, run *localRun, plan Plan) {
	defer close(run.done)
	defer run.cancel()
	logger := r.logger.With(logging.RunID(runID))

	finished := make(map[string]chan struct{}, len(plan.Steps))
	for _, step := range plan.Steps {
		finished[step.Name] = make(chan struct{})
	}

	var failMu sync.Mutex
	var failures []string

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Parallelism)
	for _, step := range plan.Steps {
		g.Go(func() error {
			defer close(finished[step.Name])
			for _, dep := range step.After {
				<-finished[dep]
			}
			blocked := r.blockedBy(run, step.After)
			if blocked != "" || ctx.Err() != nil || !r.startStep(run, step.Name) {
				r.setStep(run, step.Name, StepSkipped)
				logger.Info("step skipped", logging.Step(step.Name), logging.String("blocked_by", blocked))
				return nil
			}

			logger.Info("step started", logging.Step(step.Name), logging.String("image", step.Image))
			args := append([]string{
				"run", "--rm",
				"--name", containerName(run.id, step.Name),
				"--label", managedLabel,
				"-v", run.volume + ":" + plan.MountPath,
				step.Image,
			}, step.Argv...)
			if _, err := r.exec.Run(ctx, r.opts.Binary, args, nil); err != nil {
				r.setStep(run, step.Name, StepFailed)
				failMu.Lock()
				failures = append(failures, fmt.Sprintf("step %s failed: %v", step.Name, err))
				failMu.Unlock()
				logger.Warn("step failed",
					logging.Step(step.Name),
					logging.Error(err),
					logging.String(logging.FieldEventType, "step_failed"),
					logging.String(logging.FieldImpact, "downstream steps will be skipped"),
				)
				return nil
			}
			r.setStep(run, step.Name, StepSucceeded)
			logger.Info("step succeeded", logging.Step(step.Name))
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case run.canceled:
		run.state = orchestrator.StateFailed
		run.detail = "run was canceled"
	case len(failures) > 0:
		sort.Strings(failures)
		run.state = orchestrator.StateFailed
		run.detail = strings.Join(failures, "; ")
		if skipped := stepsIn(run.steps, StepSkipped); len(skipped) > 0 {
			run.detail += "; skipped: " + strings.Join(skipped, ", ")
		}
	default:
		run.state = orchestrator.StateSucceeded
	}
	logger.Info("docker run finished", logging.String("state", string(run.state)))
}

// containerName is the daemon-side name of a step container, so Cancel can
// remove it after the client process is gone.
func containerName(runID, step string) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
			return c
		default:
			return '-'
		}
	}, step)
	return "autopipe-" + runID + "-" + safe
}

// blockedBy returns the first dependency that did not succeed.
func (r *Runner) blockedBy(run *localRun, after []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range after {
		if run.steps[dep] != StepSucceeded {
			return dep
		}
	}
	return ""
}

// startStep marks the step running unless the run was canceled.
func (r *Runner) startStep(run *localRun, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.canceled {
		return false
	}
	run.steps[name] = StepRunning
	return true
}

func (r *Runner) setStep(run *localRun, name string, state StepState) {
	r.mu.Lock()
	run.steps[name] = state
	r.mu.Unlock()
}

func stepsIn(steps map[string]StepState, state StepState) []string {
	var names []string
	for name, s := range steps {
		if s == state {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Runner) lookup(runID string) (*localRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("unknown docker run %q", runID)
	}
	return run, nil
}

// Status reports the run's current state.
func (r *Runner) Status(_ context.Context, runID string) (orchestrator.Status, error) {
	run, err := r.lookup(runID)
	if err != nil {
		return orchestrator.Status{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return orchestrator.Status{State: run.state, Detail: run.detail}, nil
}

// Steps returns a snapshot of per-step states.
func (r *Runner) Steps(runID string) (map[string]StepState, error) {
	run, err := r.lookup(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StepState, len(run.steps))
	for name, state := range run.steps {
		out[name] = state
	}
	return out, nil
}

// Wait blocks until the run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context, runID string) error {
	run, err := r.lookup(runID)
	if err != nil {
		return err
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResultLocation names the volume holding the run's outputs.
func (r *Runner) ResultLocation(_ context.Context, runID string) (string, error) {
	run, err := r.lookup(runID)
	if err != nil {
		return "", err
	}
	return "docker volume " + run.volume, nil
}

// Cancel skips steps that have not started and force-removes the containers
// of running steps on the daemon.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	run, err := r.lookup(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if run.state.Terminal() {
		r.mu.Unlock()
		return errors.New("run already finished")
	}
	run.canceled = true
	running := stepsIn(run.steps, StepRunning)
	r.mu.Unlock()
	run.cancel()
	if len(running) == 0 {
		return nil
	}
	args := []string{"rm", "-f"}
	for _, step := range running {
		args = append(args, containerName(run.id, step))
	}
	if _, err := r.exec.Run(ctx, r.opts.Binary, args, nil); err != nil {
		return fmt.Errorf("remove step containers of run %s: %w", runID, err)
	}
	r.logger.Info("step containers removed",
		logging.RunID(runID),
		logging.Strings("steps", running),
	)
	return nil
}
