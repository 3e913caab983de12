package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopipe/internal/appdag"
	"autopipe/internal/compiler"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
	"autopipe/internal/steps"
	"autopipe/internal/storage"
	"autopipe/internal/testsupport"
)

func compiled(t *testing.T) *compiler.Pipeline {
	t.Helper()
	spec := &appdag.Spec{
		Components:   []string{"A", "B"},
		Edges:        []appdag.Edge{{Upstream: "A", Downstream: "B"}},
		InitialInput: "video.mp4",
	}
	p, err := compiler.NewWithOptions(compiler.Options{Name: "demo"}, steps.Factory{}, nil).Compile(spec)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	return p
}

func newOrchestrator(backend orchestrator.Backend, maxErrors int, cancel bool) *orchestrator.Orchestrator {
	return orchestrator.New(backend, orchestrator.Options{
		PollInterval:    time.Millisecond,
		MaxPollErrors:   maxErrors,
		CancelOnTimeout: cancel,
	}, nil)
}

var volume = storage.Volume{Name: "mypipe-pvc-123"}

func TestRunSucceedsAndBindsVolume(t *testing.T) {
	backend := &testsupport.ExecutionBackend{
		Statuses: []orchestrator.Status{{State: orchestrator.StatePending}, {State: orchestrator.StateRunning}, {State: orchestrator.StateSucceeded}},
		Location: "http://kfp/runs",
	}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.State != orchestrator.StateSucceeded || run.ID != "run-1" {
		t.Fatalf("unexpected run %+v", run)
	}
	if backend.Submitted[0]["pvc_name"] != "mypipe-pvc-123" {
		t.Fatalf("expected volume bound to pvc_name, got %v", backend.Submitted[0])
	}
	if run.ResultLocation != "http://kfp/runs/run-1" {
		t.Fatalf("unexpected result location %q", run.ResultLocation)
	}
	if backend.StatusHits != 3 {
		t.Fatalf("expected 3 status polls, got %d", backend.StatusHits)
	}
}

func TestRunFailedSurfacesDetail(t *testing.T) {
	backend := &testsupport.ExecutionBackend{
		Statuses: []orchestrator.Status{{State: orchestrator.StateFailed, Detail: "step B exited with code 2"}},
	}
	run, err := newOrchestrator(backend, 2, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if !errors.Is(err, services.ErrRunFailed) {
		t.Fatalf("expected run failure, got %v", err)
	}
	if run.Detail != "step B exited with code 2" {
		t.Fatalf("expected backend detail unmodified, got %q", run.Detail)
	}
	if backend.StatusHits != 1 {
		t.Fatalf("failed runs must not be retried, got %d polls", backend.StatusHits)
	}
}

func TestRunZeroTimeoutTimesOutAfterSubmit(t *testing.T) {
	backend := &testsupport.ExecutionBackend{}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, 0)
	if !errors.Is(err, services.ErrRunTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if run.State != orchestrator.StateTimedOut || len(backend.Submitted) != 1 {
		t.Fatalf("expected submitted and timed out, got %+v", run)
	}
	if backend.StatusHits != 0 {
		t.Fatalf("expected no status polls, got %d", backend.StatusHits)
	}
	if len(backend.Cancelled) != 1 || backend.Cancelled[0] != run.ID {
		t.Fatalf("expected cancellation of %s, got %v", run.ID, backend.Cancelled)
	}
}

func TestRunTimeoutWhileRunning(t *testing.T) {
	backend := &testsupport.ExecutionBackend{CancelErr: errors.New("forbidden")}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, 20*time.Millisecond)
	if !errors.Is(err, services.ErrRunTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if run.State != orchestrator.StateTimedOut {
		t.Fatalf("unexpected state %s", run.State)
	}
	if backend.StatusHits == 0 {
		t.Fatal("expected at least one status poll")
	}
}

func TestRunTimeoutWithoutCancel(t *testing.T) {
	backend := &testsupport.ExecutionBackend{}
	_, err := newOrchestrator(backend, 3, false).Run(context.Background(), compiled(t), volume, 0)
	if !errors.Is(err, services.ErrRunTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(backend.Cancelled) != 0 {
		t.Fatal("expected no cancellation when disabled")
	}
}

func TestRunRetriesTransientPollErrors(t *testing.T) {
	transient := errors.New("503 service unavailable")
	backend := &testsupport.ExecutionBackend{
		StatusErr: []error{transient, transient, nil},
		Statuses:  []orchestrator.Status{{}, {}, {State: orchestrator.StateSucceeded}},
	}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.State != orchestrator.StateSucceeded {
		t.Fatalf("unexpected state %s", run.State)
	}
}

func TestRunEscalatesExhaustedPollErrors(t *testing.T) {
	transient := errors.New("connection refused")
	backend := &testsupport.ExecutionBackend{StatusErr: []error{transient, transient, transient}}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if !errors.Is(err, services.ErrRunFailed) {
		t.Fatalf("expected run failure, got %v", err)
	}
	if run.State != orchestrator.StateFailed || backend.StatusHits != 3 {
		t.Fatalf("expected failure after 3 polls, got state %s after %d", run.State, backend.StatusHits)
	}
}

func TestRunSingleRetryToleratesOneError(t *testing.T) {
	transient := errors.New("502 bad gateway")
	backend := &testsupport.ExecutionBackend{
		StatusErr: []error{transient, nil},
		Statuses:  []orchestrator.Status{{}, {State: orchestrator.StateSucceeded}},
	}
	run, err := newOrchestrator(backend, 1, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.State != orchestrator.StateSucceeded || backend.StatusHits != 2 {
		t.Fatalf("expected success on the retry, got state %s after %d polls", run.State, backend.StatusHits)
	}
}

func TestRunSubmissionFailure(t *testing.T) {
	backend := &testsupport.ExecutionBackend{SubmitErr: errors.New("backend unreachable")}
	run, err := newOrchestrator(backend, 3, true).Run(context.Background(), compiled(t), volume, time.Minute)
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if run != nil {
		t.Fatalf("expected no run on submission failure, got %+v", run)
	}
}
