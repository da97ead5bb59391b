package fsm

import (
	"context"
	"time"
)

// Guard decides whether a transition applies. Guards may read c but should
// not change anything other guards depend on.
type Guard[C any] func(ctx context.Context, c C, now time.Time) bool

// BaseTransition is a Transition backed by a Guard. A nil guard always
// applies.
type BaseTransition[C any] struct {
	target string
	guard  Guard[C]
}

// NewTransition returns a transition to target guarded by guard.
func NewTransition[C any](target string, guard Guard[C]) *BaseTransition[C] {
	return &BaseTransition[C]{
		target: target,
		guard:  guard,
	}
}

// Target returns the name of the state this transition leads to.
func (t *BaseTransition[C]) Target() string {
	return t.target
}

// Evaluate runs the guard.
func (t *BaseTransition[C]) Evaluate(ctx context.Context, c C, now time.Time) bool {
	if t.guard == nil {
		return true
	}

	return t.guard(ctx, c, now)
}

// TimedTransition applies once its source state has been current for at
// least After, and its optional guard holds.
type TimedTransition[C any] struct {
	BaseTransition[C]

	source *BaseState[C]
	after  time.Duration
}

// NewTimedTransition returns a transition from source to target which becomes
// eligible after source has been current for d.
func NewTimedTransition[C any](source *BaseState[C], target string, d time.Duration, guard Guard[C]) *TimedTransition[C] {
	return &TimedTransition[C]{
		BaseTransition: BaseTransition[C]{target: target, guard: guard},
		source:         source,
		after:          d,
	}
}

// After returns how long the source state must be current.
func (t *TimedTransition[C]) After() time.Duration {
	return t.after
}

// Evaluate reports whether the delay has passed and the guard holds.
func (t *TimedTransition[C]) Evaluate(ctx context.Context, c C, now time.Time) bool {
	entered, ok := t.source.EnteredAt()
	if !ok || now.Sub(entered) < t.after {
		return false
	}

	return t.BaseTransition.Evaluate(ctx, c, now)
}
