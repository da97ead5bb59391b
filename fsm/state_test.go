package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constGuard(result bool, calls *int) Guard[struct{}] {
	return func(context.Context, struct{}, time.Time) bool {
		*calls++

		return result
	}
}

func TestEvaluateFirstMatch(t *testing.T) {
	t.Parallel()

	var calls1, calls2, calls3 int

	t1 := NewTransition("one", constGuard(true, &calls1))
	t2 := NewTransition("two", constGuard(false, &calls2))
	t3 := NewTransition("three", constGuard(true, &calls3))

	state := NewState[struct{}]("start")
	require.NoError(t, state.AddTransition(t1))
	require.NoError(t, state.AddTransition(t2))
	require.NoError(t, state.AddTransition(t3))

	got := state.Evaluate(t.Context(), struct{}{}, testutil.Epoch)
	assert.Same(t, t1, got)
	assert.Equal(t, 1, calls1)
	assert.Equal(t, 0, calls2)
	assert.Equal(t, 0, calls3)
}

func TestEvaluateSkipsFalseGuards(t *testing.T) {
	t.Parallel()

	var calls1, calls2, calls3 int

	t3 := NewTransition("three", constGuard(true, &calls3))

	state := NewState[struct{}]("start")
	state.MustAddTransition(NewTransition("one", constGuard(false, &calls1)))
	state.MustAddTransition(NewTransition("two", constGuard(false, &calls2)))
	state.MustAddTransition(t3)

	assert.Same(t, t3, state.Evaluate(t.Context(), struct{}{}, testutil.Epoch))
	assert.Equal(t, []int{1, 1, 1}, []int{calls1, calls2, calls3})
}

func TestEvaluateNoMatch(t *testing.T) {
	t.Parallel()

	var calls int

	state := NewState[struct{}]("start").
		To("other", constGuard(false, &calls))

	assert.Nil(t, state.Evaluate(t.Context(), struct{}{}, testutil.Epoch))
	assert.Nil(t, NewState[struct{}]("empty").Evaluate(t.Context(), struct{}{}, testutil.Epoch))
}

func TestAddTransitionDuplicate(t *testing.T) {
	t.Parallel()

	state := NewState[struct{}]("start")
	tr := NewTransition[struct{}]("next", nil)

	require.NoError(t, state.AddTransition(tr))
	require.ErrorIs(t, state.AddTransition(tr), errors.ErrDuplicateTransition)

	// Same target, different instance.
	require.NoError(t, state.AddTransition(NewTransition[struct{}]("next", nil)))
	assert.Len(t, state.Transitions(), 2)

	assert.Panics(t, func() {
		state.MustAddTransition(tr)
	})
}

func TestNilGuardAlwaysApplies(t *testing.T) {
	t.Parallel()

	tr := NewTransition[struct{}]("next", nil)
	assert.Equal(t, "next", tr.Target())
	assert.True(t, tr.Evaluate(t.Context(), struct{}{}, testutil.Epoch))
}

func TestTimedTransition(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	state := NewState[struct{}]("waiting")
	tr := NewTimedTransition(state, "done", 100*time.Millisecond, nil)
	state.MustAddTransition(tr)

	assert.Equal(t, 100*time.Millisecond, tr.After())
	assert.False(t, tr.Evaluate(ctx, struct{}{}, testutil.Epoch), "not current yet")

	state.OnEnter(ctx, nil, struct{}{}, testutil.Epoch)

	entered, ok := state.EnteredAt()
	require.True(t, ok)
	assert.Equal(t, testutil.Epoch, entered)

	assert.False(t, tr.Evaluate(ctx, struct{}{}, testutil.Epoch.Add(50*time.Millisecond)))
	assert.True(t, tr.Evaluate(ctx, struct{}{}, testutil.Epoch.Add(100*time.Millisecond)))

	state.OnExit(ctx, nil, struct{}{}, testutil.Epoch.Add(time.Second))

	_, ok = state.EnteredAt()
	assert.False(t, ok)
	assert.False(t, tr.Evaluate(ctx, struct{}{}, testutil.Epoch.Add(time.Hour)))
}

func TestTimedTransitionWithGuard(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	open := false

	state := NewState[struct{}]("waiting")
	state.ToAfter("done", time.Second, func(context.Context, struct{}, time.Time) bool {
		return open
	})
	state.OnEnter(ctx, nil, struct{}{}, testutil.Epoch)

	later := testutil.Epoch.Add(2 * time.Second)
	assert.Nil(t, state.Evaluate(ctx, struct{}{}, later))

	open = true
	require.NotNil(t, state.Evaluate(ctx, struct{}{}, later))
	assert.Equal(t, "done", state.Evaluate(ctx, struct{}{}, later).Target())
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "paused", StatusPaused.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestDelegateFuncsSkipsNil(t *testing.T) {
	t.Parallel()

	var d Delegate[struct{}] = DelegateFuncs[struct{}]{}

	assert.NotPanics(t, func() {
		d.EnterState(t.Context(), nil, struct{}{}, testutil.Epoch)
		d.ExitState(t.Context(), nil, struct{}{}, testutil.Epoch)
		d.PauseState(t.Context(), nil, struct{}{}, testutil.Epoch)
		d.ResumeState(t.Context(), nil, struct{}{}, testutil.Epoch)
	})
}
