package orchestrator

import (
	"context"

	"autopipe/internal/compiler"
)

// State is the normalized lifecycle state of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Package is a pipeline serialized into a backend's run format.
type Package struct {
	Name        string
	ContentType string
	Body        []byte
}

// Status is one observation of a submitted run.
type Status struct {
	State  State
	Detail string
}

// Backend executes packaged pipelines.
type Backend interface {
	Name() string
	Package(p *compiler.Pipeline) (Package, error)
	Submit(ctx context.Context, pkg Package, params map[string]string) (string, error)
	Status(ctx context.Context, runID string) (Status, error)
	ResultLocation(ctx context.Context, runID string) (string, error)
}

// Canceler is implemented by backends that can stop an in-flight run.
type Canceler interface {
	Cancel(ctx context.Context, runID string) error
}
