package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/metronome"
	"github.com/google/uuid"
)

var _ metronome.Ticker = (*Machine[struct{}])(nil)

// Machine runs one instance of a state table against a context value c.
//
// Lifecycle calls and ticks are serialized per machine: callbacks never run
// concurrently and changeState is never re-entered. A lifecycle call made
// while another one is in progress, including from inside a callback, is
// queued and run by the goroutine already working through the machine once
// its current step returns. Its result reflects the queued status.
type Machine[C any] struct {
	id        string
	name      string
	context   C
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger

	mut          sync.RWMutex
	states       map[string]State[C]
	order        []string
	defaultState string
	delegate     Delegate[C]
	current      State[C]
	status       Status

	// intent is the status once pending work has run. Lifecycle calls are
	// validated against it.
	intent  Status
	busy    bool
	pending []func()
}

// NewMachine creates a stopped machine with an empty state table. c is handed
// to every guard and callback.
func NewMachine[C any](c C, opts ...Option) *Machine[C] {
	options := &machineOptions{
		name: "machine",
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Machine[C]{
		id:           uuid.New().String(),
		name:         options.name,
		context:      c,
		scheduler:    options.scheduler,
		now:          options.now,
		logger:       options.logger,
		states:       make(map[string]State[C]),
		defaultState: options.defaultState,
		status:       StatusStopped,
		intent:       StatusStopped,
	}
}

// ID returns a random identifier unique to this machine.
func (m *Machine[C]) ID() string {
	return m.id
}

// Name returns the name given with WithName.
func (m *Machine[C]) Name() string {
	return m.name
}

// Context returns the value handed to guards and callbacks.
func (m *Machine[C]) Context() C {
	return m.context
}

// AddState adds s to the state table. Names must be unique.
func (m *Machine[C]) AddState(s State[C]) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	if _, found := m.states[s.Name()]; found {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateState, s.Name())
	}

	m.states[s.Name()] = s
	m.order = append(m.order, s.Name())

	return nil
}

// AddStates adds several states, stopping at the first error.
func (m *Machine[C]) AddStates(states ...State[C]) error {
	for _, s := range states {
		if err := m.AddState(s); err != nil {
			return err
		}
	}

	return nil
}

// State looks up a state by name.
func (m *Machine[C]) State(name string) (State[C], bool) { //nolint:ireturn
	m.mut.RLock()
	defer m.mut.RUnlock()

	s, ok := m.states[name]

	return s, ok
}

// States returns the state table in the order states were added.
func (m *Machine[C]) States() []State[C] {
	m.mut.RLock()
	defer m.mut.RUnlock()

	out := make([]State[C], 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.states[name])
	}

	return out
}

// DefaultState returns the name of the state entered by Start.
func (m *Machine[C]) DefaultState() string {
	m.mut.RLock()
	defer m.mut.RUnlock()

	return m.defaultStateLocked()
}

// SetDefaultState changes the state entered by the next Start.
func (m *Machine[C]) SetDefaultState(name string) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.defaultState = name
}

func (m *Machine[C]) defaultStateLocked() string {
	if m.defaultState == "" && len(m.order) > 0 {
		return m.order[0]
	}

	return m.defaultState
}

// SetDelegate replaces the delegate. nil removes it.
func (m *Machine[C]) SetDelegate(d Delegate[C]) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.delegate = d
}

// Delegate returns the current delegate, or nil.
func (m *Machine[C]) Delegate() Delegate[C] { //nolint:ireturn
	m.mut.RLock()
	defer m.mut.RUnlock()

	return m.delegate
}

// CurrentState returns the current state, nil while stopped.
func (m *Machine[C]) CurrentState() State[C] { //nolint:ireturn
	m.mut.RLock()
	defer m.mut.RUnlock()

	return m.current
}

// Status returns the run status.
func (m *Machine[C]) Status() Status {
	m.mut.RLock()
	defer m.mut.RUnlock()

	return m.status
}

func (m *Machine[C]) setStatus(status Status) {
	m.mut.Lock()
	m.status = status
	m.mut.Unlock()

	machineStatusChanges.WithLabelValues(m.name, status.String()).Inc()
}

// Start enters the default state and begins evaluating transitions. It fails
// with ErrInvalidStatus unless the machine is stopped, ErrNoStates when the
// table is empty and ErrStateNotFound when the default state is unknown.
func (m *Machine[C]) Start(ctx context.Context) error {
	m.mut.Lock()

	if m.intent != StatusStopped {
		status := m.intent
		m.mut.Unlock()

		return fmt.Errorf("%w: cannot start machine %s while %s", errors.ErrInvalidStatus, m.name, status)
	}

	count := len(m.states)
	name := m.defaultStateLocked()
	initial, found := m.states[name]

	if count == 0 {
		m.mut.Unlock()

		return fmt.Errorf("%w: %s", errors.ErrNoStates, m.name)
	}

	if !found {
		m.mut.Unlock()

		return fmt.Errorf("%w: default state %q of machine %s", errors.ErrStateNotFound, name, m.name)
	}

	m.intent = StatusRunning
	m.submitLocked(func() {
		m.changeState(ctx, initial, m.now())
		m.setStatus(StatusRunning)
		machinesRunning.WithLabelValues(m.name).Inc()

		if m.scheduler != nil {
			m.scheduler.AddTicker(m)
		}

		m.log(ctx).Debug("Machine started", "state", name)
	})

	return nil
}

// Stop leaves the current state and clears it. It returns false when the
// machine was already stopped.
func (m *Machine[C]) Stop(ctx context.Context) bool {
	m.mut.Lock()

	if m.intent == StatusStopped {
		m.mut.Unlock()

		return false
	}

	m.intent = StatusStopped
	m.submitLocked(func() {
		if m.scheduler != nil {
			m.scheduler.RemoveTicker(m)
		}

		m.setStatus(StatusStopped)
		m.changeState(ctx, nil, m.now())
		machinesRunning.WithLabelValues(m.name).Dec()

		m.log(ctx).Debug("Machine stopped")
	})

	return true
}

// Pause keeps the current state but stops evaluating transitions. It returns
// false unless the machine was running.
func (m *Machine[C]) Pause(ctx context.Context) bool {
	m.mut.Lock()

	if m.intent != StatusRunning {
		m.mut.Unlock()

		return false
	}

	m.intent = StatusPaused
	m.submitLocked(func() {
		if m.scheduler != nil {
			m.scheduler.RemoveTicker(m)
		}

		now := m.now()
		current := m.CurrentState()

		if current != nil {
			current.OnPause(ctx, m.context, now)
		}

		m.setStatus(StatusPaused)

		if d := m.Delegate(); d != nil {
			d.PauseState(ctx, current, m.context, now)
		}

		m.log(ctx).Debug("Machine paused", "state", stateName(current))
	})

	return true
}

// Resume undoes Pause. It returns false unless the machine was paused.
func (m *Machine[C]) Resume(ctx context.Context) bool {
	m.mut.Lock()

	if m.intent != StatusPaused {
		m.mut.Unlock()

		return false
	}

	m.intent = StatusRunning
	m.submitLocked(func() {
		now := m.now()
		current := m.CurrentState()

		if d := m.Delegate(); d != nil {
			d.ResumeState(ctx, current, m.context, now)
		}

		m.setStatus(StatusRunning)

		if current != nil {
			current.OnResume(ctx, m.context, now)
		}

		if m.scheduler != nil {
			m.scheduler.AddTicker(m)
		}

		m.log(ctx).Debug("Machine resumed", "state", stateName(current))
	})

	return true
}

// Tick evaluates the current state's transitions and follows the first one
// that applies. It does nothing unless the machine is running, and is
// skipped while another call is still working through the machine.
func (m *Machine[C]) Tick(ctx context.Context, now time.Time, _ time.Duration) {
	m.mut.Lock()

	if m.busy || m.status != StatusRunning || m.current == nil {
		m.mut.Unlock()

		return
	}

	current := m.current

	m.submitLocked(func() {
		m.step(ctx, current, now)
	})
}

func (m *Machine[C]) step(ctx context.Context, current State[C], now time.Time) {
	transition := current.Evaluate(ctx, m.context, now)
	if transition == nil {
		return
	}

	// A guard may have paused or stopped the machine.
	m.mut.RLock()
	running := m.intent == StatusRunning
	m.mut.RUnlock()

	if !running {
		return
	}

	next, found := m.State(transition.Target())
	if !found {
		machineUnknownTargets.WithLabelValues(m.name).Inc()
		m.log(ctx).Error("Transition targets an unknown state, staying put",
			"state", current.Name(),
			"target", transition.Target(),
			"error", errors.ErrStateNotFound)

		return
	}

	m.changeState(ctx, next, now)
}

// submitLocked queues work and, unless a drain is already in progress, drains
// the queue on the calling goroutine. It must be called with mut held and
// returns with mut released. Work queued from inside a callback runs after
// the current item returns.
func (m *Machine[C]) submitLocked(work func()) {
	m.pending = append(m.pending, work)

	if m.busy {
		m.mut.Unlock()

		return
	}

	m.busy = true
	m.mut.Unlock()

	m.drain()
}

func (m *Machine[C]) drain() {
	done := false

	defer func() {
		if done {
			return
		}

		// A callback panicked: drop queued work so the machine stays usable.
		m.mut.Lock()
		m.busy = false
		m.pending = nil
		m.intent = m.status
		m.mut.Unlock()
	}()

	for {
		m.mut.Lock()

		if len(m.pending) == 0 {
			m.busy = false
			m.mut.Unlock()

			done = true

			return
		}

		work := m.pending[0]
		m.pending[0] = nil
		m.pending = m.pending[1:]
		m.mut.Unlock()

		work()
	}
}

// changeState moves to next, firing callbacks in this order: delegate enter,
// old exit, pointer flip, next enter, delegate exit. It is a no-op returning
// false when next is already current.
func (m *Machine[C]) changeState(ctx context.Context, next State[C], now time.Time) bool {
	old := m.CurrentState()

	if old == nil && next == nil {
		return false
	}

	if old != nil && next != nil && old.Name() == next.Name() {
		return false
	}

	ctx, span := startChangeStateSpan(ctx, m.name, m.id, stateName(old), stateName(next))
	defer span.End()

	delegate := m.Delegate()

	if delegate != nil {
		delegate.EnterState(ctx, next, m.context, now)
	}

	if old != nil {
		old.OnExit(ctx, next, m.context, now)
	}

	m.mut.Lock()
	m.current = next
	m.mut.Unlock()

	if next != nil {
		next.OnEnter(ctx, old, m.context, now)
	}

	if delegate != nil {
		delegate.ExitState(ctx, old, m.context, now)
	}

	machineTransitions.WithLabelValues(m.name, stateName(old), stateName(next)).Inc()
	m.log(ctx).Debug("Machine changed state", "from", stateName(old), "to", stateName(next))

	return true
}

func (m *Machine[C]) log(ctx context.Context) *slog.Logger {
	return logger.From(ctx, m.logger).With("machine", m.name, "machine_id", m.id)
}
