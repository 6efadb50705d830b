package workflow

import (
	"context"
	"fmt"
)

// Stage is one step of a pipeline. Run receives a private copy of the state
// and returns the updated state or a failure.
type Stage interface {
	Name() string
	Run(ctx context.Context, s State) (State, error)
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, s State) (State, error)
}

// NewStage adapts a function to Stage.
func NewStage(name string, fn func(ctx context.Context, s State) (State, error)) Stage {
	return funcStage{name: name, fn: fn}
}

func (f funcStage) Name() string { return f.name }

func (f funcStage) Run(ctx context.Context, s State) (State, error) {
	return f.fn(ctx, s)
}

// Status is the engine's position in a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusFallback Status = "fallback"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusFailed},
	StatusRunning:  {StatusRunning, StatusRetrying, StatusFallback, StatusDone, StatusFailed},
	StatusRetrying: {StatusRunning, StatusFailed},
	StatusFallback: {StatusDone, StatusFailed},
}

// CanTransition reports whether next may follow s. Done and Failed are
// terminal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the run status together with the current stage index.
type machine struct {
	status Status
	index  int
}

func (m *machine) to(next Status, index int) error {
	if !m.status.CanTransition(next) {
		return fmt.Errorf("invalid transition %s(%d) -> %s(%d)", m.status, m.index, next, index)
	}
	if next == StatusRunning && m.status == StatusRunning && index != m.index+1 {
		return fmt.Errorf("invalid transition running(%d) -> running(%d)", m.index, index)
	}
	if next == StatusRunning && m.status == StatusRetrying && index != m.index {
		return fmt.Errorf("invalid transition retrying(%d) -> running(%d)", m.index, index)
	}
	m.status, m.index = next, index
	return nil
}
