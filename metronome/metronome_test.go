package metronome

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/daemon"
	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/internal/testutil"
	"github.com/amp-labs/amp-fsm/runner"
	"github.com/neilotoole/slogt"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	mut      sync.Mutex
	elapsed  []time.Duration
	onTick   func()
	name     string
	recorder *testutil.Recorder
}

func (c *countingTicker) Tick(_ context.Context, _ time.Time, elapsed time.Duration) {
	c.mut.Lock()
	c.elapsed = append(c.elapsed, elapsed)
	c.mut.Unlock()

	if c.recorder != nil {
		c.recorder.Record(c.name)
	}

	if c.onTick != nil {
		c.onTick()
	}
}

func (c *countingTicker) count() int {
	c.mut.Lock()
	defer c.mut.Unlock()

	return len(c.elapsed)
}

func newTestMetronome(t *testing.T, clock *testutil.ManualClock, opts ...Option) *Metronome {
	t.Helper()

	opts = append([]Option{
		WithName(t.Name()),
		WithClock(clock.Now),
		WithLogger(slogt.New(t)),
	}, opts...)

	m, err := New(opts...)
	require.NoError(t, err)

	return m
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)

	assert.Equal(t, DefaultInterval, m.Interval())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, runner.StageInit, m.Stage())

	m, err = New(WithInterval(0))
	require.NoError(t, err)
	assert.Equal(t, MinInterval, m.Interval())
}

func TestNewInvalidDaemonInterval(t *testing.T) {
	t.Parallel()

	_, err := New(WithDaemonOptions(daemon.WithInterval(-time.Second)))
	require.ErrorIs(t, err, errors.ErrInvalidInterval)
}

func TestAddRemoveTicker(t *testing.T) {
	t.Parallel()

	m := newTestMetronome(t, testutil.NewManualClock())

	a := &countingTicker{}
	b := &countingTicker{}

	assert.True(t, m.AddTicker(a))
	assert.False(t, m.AddTicker(a))
	assert.True(t, m.AddTicker(b))
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.Contains(a))
	assert.InDelta(t, 2, promtestutil.ToFloat64(metronomeTickers.WithLabelValues(t.Name())), 0)

	assert.True(t, m.RemoveTicker(a))
	assert.False(t, m.RemoveTicker(a))
	assert.False(t, m.Contains(a))
	assert.Equal(t, 1, m.Len())
	assert.InDelta(t, 1, promtestutil.ToFloat64(metronomeTickers.WithLabelValues(t.Name())), 0)
}

func TestTickerFuncIdentity(t *testing.T) {
	t.Parallel()

	m := newTestMetronome(t, testutil.NewManualClock())

	f := func(context.Context, time.Time, time.Duration) {}

	first := TickerFunc(f)
	second := TickerFunc(f)

	assert.True(t, m.AddTicker(first))
	assert.True(t, m.AddTicker(second))
	assert.True(t, m.RemoveTicker(first))
	assert.True(t, m.Contains(second))
}

func TestEmptyRegistryYields(t *testing.T) {
	t.Parallel()

	clock := testutil.NewManualClock()
	m := newTestMetronome(t, clock)

	clock.Advance(time.Second)
	assert.True(t, m.Step(t.Context()))
	assert.False(t, m.Process(t.Context()))
	assert.InDelta(t, 0, promtestutil.ToFloat64(metronomeDrives.WithLabelValues(t.Name())), 0)
}

func TestDriveRespectsInterval(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()
	m := newTestMetronome(t, clock)

	ticker := &countingTicker{}
	m.AddTicker(ticker)

	// Setup records the first drive timestamp, nothing is due yet.
	require.True(t, m.Step(ctx))
	assert.Equal(t, runner.StageHandling, m.Stage())
	assert.Equal(t, 0, ticker.count())

	clock.Advance(DefaultInterval / 2)
	require.True(t, m.Step(ctx))
	assert.Equal(t, 0, ticker.count())

	clock.Advance(DefaultInterval / 2)
	require.True(t, m.Step(ctx))
	assert.Equal(t, 1, ticker.count(), "exactly one pass once the interval elapsed")

	// Same instant, nothing due.
	require.True(t, m.Step(ctx))
	assert.Equal(t, 1, ticker.count())

	clock.Advance(3 * DefaultInterval)
	require.True(t, m.Step(ctx))
	assert.Equal(t, 2, ticker.count())

	assert.Equal(t, []time.Duration{DefaultInterval, 3 * DefaultInterval}, ticker.elapsed)
	assert.InDelta(t, 2, promtestutil.ToFloat64(metronomeDrives.WithLabelValues(t.Name())), 0)
}

func TestDriveRegistrationOrder(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()
	m := newTestMetronome(t, clock)

	rec := &testutil.Recorder{}

	for i := range 5 {
		m.AddTicker(&countingTicker{name: fmt.Sprintf("t%d", i), recorder: rec})
	}

	m.Step(ctx)
	clock.Advance(DefaultInterval)
	m.Step(ctx)

	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4"}, rec.Events())
}

func TestDriveUsesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()
	m := newTestMetronome(t, clock)

	late := &countingTicker{}
	removed := &countingTicker{}

	first := &countingTicker{}
	first.onTick = func() {
		m.AddTicker(late)
		m.RemoveTicker(removed)
	}

	m.AddTicker(first)
	m.AddTicker(removed)

	m.Step(ctx)
	clock.Advance(DefaultInterval)
	m.Step(ctx)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, removed.count(), "removed during the pass, still ticked from the snapshot")
	assert.Equal(t, 0, late.count(), "added during the pass, waits for the next one")

	clock.Advance(DefaultInterval)
	m.Step(ctx)

	assert.Equal(t, 2, first.count())
	assert.Equal(t, 1, removed.count())
	assert.Equal(t, 1, late.count())
}

func TestDriveContainsTickerPanic(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()
	m := newTestMetronome(t, clock)

	before := &countingTicker{}
	after := &countingTicker{}

	m.AddTicker(before)
	m.AddTicker(TickerFunc(func(context.Context, time.Time, time.Duration) {
		panic("boom")
	}))
	m.AddTicker(after)

	m.Step(ctx)
	clock.Advance(DefaultInterval)
	require.True(t, m.Step(ctx))

	assert.Equal(t, 1, before.count())
	assert.Equal(t, 1, after.count())
	assert.Equal(t, runner.StageHandling, m.Stage(), "a ticker panic must not stop the metronome")
	assert.InDelta(t, 1, promtestutil.ToFloat64(metronomeTickerPanics.WithLabelValues(t.Name())), 0)
}

func TestDriveOnPool(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()

	pool := pond.NewPool(4)
	defer pool.StopAndWait()

	m := newTestMetronome(t, clock, WithPool(pool))

	tickers := make([]*countingTicker, 20)
	for i := range tickers {
		tickers[i] = &countingTicker{}
		m.AddTicker(tickers[i])
	}

	m.Step(ctx)

	for range 3 {
		clock.Advance(DefaultInterval)
		m.Step(ctx)
	}

	for i, ticker := range tickers {
		assert.Equal(t, 3, ticker.count(), "ticker %d", i)
	}
}

func TestStartAndClose(t *testing.T) {
	t.Parallel()

	m, err := New(
		WithName(t.Name()),
		WithInterval(2*time.Millisecond),
		WithDaemonOptions(daemon.WithInterval(time.Millisecond)),
		WithLogger(slogt.New(t)),
	)
	require.NoError(t, err)

	ticker := &countingTicker{}
	m.AddTicker(ticker)

	require.NoError(t, m.Start(t.Context()))
	require.ErrorIs(t, m.Start(t.Context()), errors.ErrAlreadyRunning)

	assert.Eventually(t, func() bool {
		return ticker.count() >= 3
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	assert.Equal(t, runner.StageStopped, m.Stage())
	assert.False(t, m.IsRunning())

	count := ticker.count()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, count, ticker.count(), "no ticks after Close")
}

func TestCloseWithoutStart(t *testing.T) {
	t.Parallel()

	m := newTestMetronome(t, testutil.NewManualClock())
	require.NoError(t, m.Close())
	assert.False(t, m.IsRunning())
}

func TestCancelledContextStopsMetronome(t *testing.T) {
	t.Parallel()

	m := newTestMetronome(t, testutil.NewManualClock(), WithDaemonOptions(daemon.WithInterval(time.Millisecond)))
	m.AddTicker(&countingTicker{})

	ctx, cancel := context.WithCancel(t.Context())

	require.NoError(t, m.Start(ctx))
	require.Eventually(t, m.IsRunning, time.Second, time.Millisecond)

	cancel()

	require.Eventually(t, func() bool { return !m.IsRunning() }, time.Second, time.Millisecond)
	require.ErrorIs(t, m.Start(t.Context()), errors.ErrAlreadyRunning)
	require.NoError(t, m.Close())
}
