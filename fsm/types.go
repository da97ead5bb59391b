// Package fsm is a small finite-state-machine engine meant to be driven by a
// metronome.Metronome.
//
// A Machine owns a table of States. Each State holds an ordered list of
// guarded Transitions; on every Tick the current State returns the first
// Transition whose guard holds and the Machine moves to its target. An
// optional Delegate observes every change:
//
//	enter := D.EnterState(next)  // current is still the old state
//	old.OnExit(next)
//	current = next
//	next.OnEnter(old)
//	D.ExitState(old)             // current is already the new state
//
// Machines are not goroutines. They only move when something ticks them,
// either directly or by registering with a metronome through WithMetronome.
package fsm

import (
	"context"
	"time"
)

// Status is the run status of a Machine.
type Status int32

const (
	// StatusStopped is the initial status. The machine has no current state.
	StatusStopped Status = iota
	// StatusRunning machines evaluate transitions on every tick.
	StatusRunning
	// StatusPaused machines keep their current state but ignore ticks.
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Transition is a guarded edge to the state named by Target.
type Transition[C any] interface {
	Target() string
	Evaluate(ctx context.Context, c C, now time.Time) bool
}

// State is a node of a Machine. Name must be unique within the machine and
// stable for the state's lifetime.
type State[C any] interface {
	Name() string
	// Evaluate returns the first transition which applies, or nil.
	Evaluate(ctx context.Context, c C, now time.Time) Transition[C]
	// OnEnter is called after the machine made this state current. previous
	// is nil when the machine is starting.
	OnEnter(ctx context.Context, previous State[C], c C, now time.Time)
	// OnExit is called while this state is still current. next is nil when
	// the machine is stopping.
	OnExit(ctx context.Context, next State[C], c C, now time.Time)
	OnPause(ctx context.Context, c C, now time.Time)
	OnResume(ctx context.Context, c C, now time.Time)
}

// Delegate observes the state changes of one Machine.
type Delegate[C any] interface {
	// EnterState is called before anything changes; the machine still
	// reports the outgoing state as current.
	EnterState(ctx context.Context, next State[C], c C, now time.Time)
	// ExitState is called once next is current.
	ExitState(ctx context.Context, previous State[C], c C, now time.Time)
	PauseState(ctx context.Context, current State[C], c C, now time.Time)
	ResumeState(ctx context.Context, current State[C], c C, now time.Time)
}

// DelegateFuncs implements Delegate with optional functions. Nil fields are
// skipped.
type DelegateFuncs[C any] struct {
	OnEnterState  func(ctx context.Context, next State[C], c C, now time.Time)
	OnExitState   func(ctx context.Context, previous State[C], c C, now time.Time)
	OnPauseState  func(ctx context.Context, current State[C], c C, now time.Time)
	OnResumeState func(ctx context.Context, current State[C], c C, now time.Time)
}

func (d DelegateFuncs[C]) EnterState(ctx context.Context, next State[C], c C, now time.Time) {
	if d.OnEnterState != nil {
		d.OnEnterState(ctx, next, c, now)
	}
}

func (d DelegateFuncs[C]) ExitState(ctx context.Context, previous State[C], c C, now time.Time) {
	if d.OnExitState != nil {
		d.OnExitState(ctx, previous, c, now)
	}
}

func (d DelegateFuncs[C]) PauseState(ctx context.Context, current State[C], c C, now time.Time) {
	if d.OnPauseState != nil {
		d.OnPauseState(ctx, current, c, now)
	}
}

func (d DelegateFuncs[C]) ResumeState(ctx context.Context, current State[C], c C, now time.Time) {
	if d.OnResumeState != nil {
		d.OnResumeState(ctx, current, c, now)
	}
}

// stateName is used for logs and metric labels, where a nil state is valid.
func stateName[C any](s State[C]) string {
	if s == nil {
		return "none"
	}

	return s.Name()
}
