package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
)

// BaseState is a State whose callbacks are optional functions. It also keeps
// track of when it was last entered, which TimedTransition relies on.
//
// Transitions should be added before the machine starts; adding them later is
// safe but races with evaluation in the obvious way.
type BaseState[C any] struct {
	name string

	onEnter  func(ctx context.Context, previous State[C], c C, now time.Time)
	onExit   func(ctx context.Context, next State[C], c C, now time.Time)
	onPause  func(ctx context.Context, c C, now time.Time)
	onResume func(ctx context.Context, c C, now time.Time)

	mut         sync.RWMutex
	transitions []Transition[C]
	enteredAt   time.Time
	active      bool
}

// StateOption configures a BaseState.
type StateOption[C any] func(*BaseState[C])

// WithOnEnter sets the function called when the state becomes current.
func WithOnEnter[C any](f func(ctx context.Context, previous State[C], c C, now time.Time)) StateOption[C] {
	return func(s *BaseState[C]) {
		s.onEnter = f
	}
}

// WithOnExit sets the function called when the state stops being current.
func WithOnExit[C any](f func(ctx context.Context, next State[C], c C, now time.Time)) StateOption[C] {
	return func(s *BaseState[C]) {
		s.onExit = f
	}
}

// WithOnPause sets the function called when the machine pauses in this state.
func WithOnPause[C any](f func(ctx context.Context, c C, now time.Time)) StateOption[C] {
	return func(s *BaseState[C]) {
		s.onPause = f
	}
}

// WithOnResume sets the function called when the machine resumes in this state.
func WithOnResume[C any](f func(ctx context.Context, c C, now time.Time)) StateOption[C] {
	return func(s *BaseState[C]) {
		s.onResume = f
	}
}

// NewState creates a state with no transitions.
func NewState[C any](name string, opts ...StateOption[C]) *BaseState[C] {
	s := &BaseState[C]{name: name}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the state's key.
func (s *BaseState[C]) Name() string {
	return s.name
}

// AddTransition appends t to the evaluation order. Adding the same transition
// twice is a programming error and returns ErrDuplicateTransition. Transitions
// are compared by identity, so they must be comparable (pointers are).
func (s *BaseState[C]) AddTransition(t Transition[C]) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	for _, existing := range s.transitions {
		if existing == t {
			return fmt.Errorf("%w: %s -> %s", errors.ErrDuplicateTransition, s.name, t.Target())
		}
	}

	s.transitions = append(s.transitions, t)

	return nil
}

// MustAddTransition is AddTransition for topology built from code, where a
// duplicate can only be a bug.
func (s *BaseState[C]) MustAddTransition(t Transition[C]) *BaseState[C] {
	if err := s.AddTransition(t); err != nil {
		panic(err)
	}

	return s
}

// To adds a guarded transition to target and returns the state for chaining.
func (s *BaseState[C]) To(target string, guard Guard[C]) *BaseState[C] {
	return s.MustAddTransition(NewTransition(target, guard))
}

// ToAfter adds a timed transition to target and returns the state for
// chaining.
func (s *BaseState[C]) ToAfter(target string, d time.Duration, guard Guard[C]) *BaseState[C] {
	return s.MustAddTransition(NewTimedTransition(s, target, d, guard))
}

// Transitions returns the transitions in evaluation order.
func (s *BaseState[C]) Transitions() []Transition[C] {
	s.mut.RLock()
	defer s.mut.RUnlock()

	out := make([]Transition[C], len(s.transitions))
	copy(out, s.transitions)

	return out
}

// EnteredAt returns when the state last became current. ok is false while
// the state isn't current.
func (s *BaseState[C]) EnteredAt() (time.Time, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	return s.enteredAt, s.active
}

// Evaluate returns the first transition whose guard holds, or nil.
func (s *BaseState[C]) Evaluate(ctx context.Context, c C, now time.Time) Transition[C] { //nolint:ireturn
	for _, t := range s.Transitions() {
		if t.Evaluate(ctx, c, now) {
			return t
		}
	}

	return nil
}

func (s *BaseState[C]) OnEnter(ctx context.Context, previous State[C], c C, now time.Time) {
	s.mut.Lock()
	s.enteredAt = now
	s.active = true
	s.mut.Unlock()

	if s.onEnter != nil {
		s.onEnter(ctx, previous, c, now)
	}
}

func (s *BaseState[C]) OnExit(ctx context.Context, next State[C], c C, now time.Time) {
	if s.onExit != nil {
		s.onExit(ctx, next, c, now)
	}

	s.mut.Lock()
	s.active = false
	s.mut.Unlock()
}

func (s *BaseState[C]) OnPause(ctx context.Context, c C, now time.Time) {
	if s.onPause != nil {
		s.onPause(ctx, c, now)
	}
}

func (s *BaseState[C]) OnResume(ctx context.Context, c C, now time.Time) {
	if s.onResume != nil {
		s.onResume(ctx, c, now)
	}
}
