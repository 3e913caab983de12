package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autopipe/internal/compiler"
	"autopipe/internal/orchestrator"
	"autopipe/internal/services"
	"autopipe/internal/storage"
)

// VolumeBackend is an in-memory storage.VolumeBackend that counts calls.
type VolumeBackend struct {
	mu sync.Mutex

	Volumes map[string]string
	Calls   map[string]int
	Log     []string

	CreateErr    error
	NeverReady   bool
	CopyErrs     []error
	DetachErr    error
	DeleteErr    error
	BlockDelete  bool
	CopiedFiles  map[string]string
	accessPoints int
}

// NewVolumeBackend returns an empty fake volume backend.
func NewVolumeBackend() *VolumeBackend {
	return &VolumeBackend{
		Volumes:     make(map[string]string),
		Calls:       make(map[string]int),
		CopiedFiles: map[string]string{"A.tar.gz": "archive"},
	}
}

func (f *VolumeBackend) record(op string) {
	f.Calls[op]++
	f.Log = append(f.Log, op)
}

// Count returns how many times op was invoked.
func (f *VolumeBackend) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// TotalCalls returns the number of backend calls of any kind.
func (f *VolumeBackend) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Log)
}

// Sequence returns the ordered operation log.
func (f *VolumeBackend) Sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Log...)
}

func (f *VolumeBackend) Create(_ context.Context, name, size string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.Volumes[name] = size
	return nil
}

func (f *VolumeBackend) Ready(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ready")
	if _, ok := f.Volumes[name]; !ok {
		return false, fmt.Errorf("volume %s: %w", name, services.ErrVolumeNotFound)
	}
	return !f.NeverReady, nil
}

func (f *VolumeBackend) AttachForCopy(_ context.Context, volume string) (storage.AccessPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("attach")
	f.accessPoints++
	return storage.AccessPoint{Name: fmt.Sprintf("access-%d", f.accessPoints), Volume: volume, MountPath: "/mnt/data"}, nil
}

func (f *VolumeBackend) AccessReady(context.Context, storage.AccessPoint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("access_ready")
	return true, nil
}

func (f *VolumeBackend) Copy(_ context.Context, _ storage.AccessPoint, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("copy")
	if len(f.CopyErrs) > 0 {
		err := f.CopyErrs[0]
		f.CopyErrs = f.CopyErrs[1:]
		if err != nil {
			return err
		}
	}
	for name, content := range f.CopiedFiles {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *VolumeBackend) Detach(context.Context, storage.AccessPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("detach")
	return f.DetachErr
}

// Delete removes the volume. With BlockDelete set it waits for ctx to end,
// like a kubectl delete held by a protection finalizer.
func (f *VolumeBackend) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("delete")
	if f.BlockDelete {
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.Volumes[name]; !ok {
		return fmt.Errorf("volume %s: %w", name, services.ErrVolumeNotFound)
	}
	delete(f.Volumes, name)
	return nil
}

// ExecutionBackend is a scripted orchestrator.Backend.
type ExecutionBackend struct {
	mu sync.Mutex

	// Statuses are returned in order; the last entry repeats.
	Statuses  []orchestrator.Status
	StatusErr []error
	SubmitErr error
	CancelErr error
	Location  string

	Submitted  []map[string]string
	Packages   []orchestrator.Package
	Cancelled  []string
	StatusHits int
}

func (f *ExecutionBackend) Name() string { return "fake" }

func (f *ExecutionBackend) Package(p *compiler.Pipeline) (orchestrator.Package, error) {
	return orchestrator.Package{
		Name:        p.Name,
		ContentType: "text/plain",
		Body:        []byte(strings.Join(p.Order(), "\n")),
	}, nil
}

func (f *ExecutionBackend) Submit(_ context.Context, pkg orchestrator.Package, params map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.Packages = append(f.Packages, pkg)
	f.Submitted = append(f.Submitted, params)
	return fmt.Sprintf("run-%d", len(f.Submitted)), nil
}

func (f *ExecutionBackend) Status(context.Context, string) (orchestrator.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.StatusHits
	f.StatusHits++
	if idx < len(f.StatusErr) && f.StatusErr[idx] != nil {
		return orchestrator.Status{}, f.StatusErr[idx]
	}
	if len(f.Statuses) == 0 {
		return orchestrator.Status{State: orchestrator.StateRunning}, nil
	}
	if idx >= len(f.Statuses) {
		idx = len(f.Statuses) - 1
	}
	return f.Statuses[idx], nil
}

func (f *ExecutionBackend) ResultLocation(_ context.Context, runID string) (string, error) {
	if f.Location == "" {
		return "", nil
	}
	return f.Location + "/" + runID, nil
}

func (f *ExecutionBackend) Cancel(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, runID)
	return f.CancelErr
}

// StubExecutor records commands and replays scripted responses keyed by the
// joined "binary arg0 arg1" prefix.
type StubExecutor struct {
	mu        sync.Mutex
	Calls     [][]string
	Stdins    [][]byte
	Responses map[string]StubResponse
}

// StubResponse is one scripted command result.
type StubResponse struct {
	Stdout string
	Stderr string
	Err    error
}

// Run implements services.Executor.
func (s *StubExecutor) Run(_ context.Context, binary string, args []string, stdin []byte) (services.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := append([]string{binary}, args...)
	s.Calls = append(s.Calls, call)
	s.Stdins = append(s.Stdins, stdin)

	joined := strings.Join(call, " ")
	best := ""
	for prefix := range s.Responses {
		if strings.HasPrefix(joined, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return services.Output{}, nil
	}
	resp := s.Responses[best]
	out := services.Output{Stdout: resp.Stdout, Stderr: resp.Stderr}
	if resp.Err != nil {
		return out, &services.CommandError{Binary: binary, Args: args, Stderr: resp.Stderr, Err: resp.Err}
	}
	return out, nil
}

// Commands returns each recorded call joined with spaces.
func (s *StubExecutor) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Calls))
	for _, call := range s.Calls {
		out = append(out, strings.Join(call, " "))
	}
	return out
}
