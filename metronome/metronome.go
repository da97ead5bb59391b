// Package metronome drives a registry of Tickers at a bounded cadence.
//
// A Metronome is a runner.Runner whose Process ticks every registered Ticker
// once per drive pass, never more often than the configured interval. It is
// stepped by its own daemon.Daemon, so a single goroutine keeps any number of
// machines moving.
//
//	m, err := metronome.New(metronome.WithInterval(100 * time.Millisecond))
//	if err != nil {
//		return err
//	}
//
//	if err := m.Start(ctx); err != nil {
//		return err
//	}
//	defer m.Close()
//
//	m.AddTicker(machine)
package metronome

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/daemon"
	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/runner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
)

const (
	// DefaultInterval is the minimum time between two drive passes.
	DefaultInterval = 100 * time.Millisecond
	// MinInterval is the lower bound for any configured interval.
	MinInterval = time.Millisecond
)

// Ticker is anything a Metronome can drive. Implementations must be
// comparable (in practice: pointers), since the registry is a set.
type Ticker interface {
	Tick(ctx context.Context, now time.Time, elapsed time.Duration)
}

type tickerFunc struct {
	f func(ctx context.Context, now time.Time, elapsed time.Duration)
}

func (t *tickerFunc) Tick(ctx context.Context, now time.Time, elapsed time.Duration) {
	t.f(ctx, now, elapsed)
}

// TickerFunc wraps a function as a Ticker. Every call returns a distinct
// Ticker, so keep the result around to remove it later.
func TickerFunc(f func(ctx context.Context, now time.Time, elapsed time.Duration)) Ticker { //nolint:ireturn
	return &tickerFunc{f: f}
}

// Metronome ticks registered Tickers no more often than its interval.
type Metronome struct {
	*runner.Runner

	name     string
	interval time.Duration
	now      func() time.Time
	pool     pond.Pool
	logger   *slog.Logger

	mut     sync.RWMutex
	tickers []Ticker
	index   map[Ticker]struct{}

	lastDrive *atomic.Time
	daemon    *daemon.Daemon
	started   *atomic.Bool
}

// New creates a metronome. It does not start driving until Start is called.
func New(opts ...Option) (*Metronome, error) {
	options := &metronomeOptions{
		name:     "metronome",
		interval: DefaultInterval,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.interval < MinInterval {
		options.interval = MinInterval
	}

	m := &Metronome{
		name:      options.name,
		interval:  options.interval,
		now:       options.now,
		pool:      options.pool,
		logger:    options.logger,
		index:     make(map[Ticker]struct{}),
		lastDrive: atomic.NewTime(time.Time{}),
		started:   atomic.NewBool(false),
	}

	m.Runner = runner.New(m,
		runner.WithName(options.name),
		runner.WithSetup(m.setup),
		runner.WithLogger(options.logger),
	)

	daemonOpts := append([]daemon.Option{
		daemon.WithName(options.name),
		daemon.WithLogger(options.logger),
	}, options.daemonOpts...)

	d, err := daemon.New(m.Runner, daemonOpts...)
	if err != nil {
		return nil, fmt.Errorf("metronome %s: %w", options.name, err)
	}

	m.daemon = d

	metronomeTickers.WithLabelValues(m.name).Set(0)

	return m, nil
}

// Interval returns the minimum time between two drive passes.
func (m *Metronome) Interval() time.Duration {
	return m.interval
}

// Start launches the daemon which steps the metronome. A metronome can only
// be started once; after Stop, Close or cancellation of ctx it stays stopped.
func (m *Metronome) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("metronome %s: %w", m.name, errors.ErrAlreadyRunning)
	}

	return m.daemon.Start(ctx)
}

// Close stops the metronome and waits for its daemon to exit. Tickers still
// registered are left alone; they simply stop being ticked.
func (m *Metronome) Close() error {
	m.Stop()

	if m.started.Load() {
		m.daemon.Wait()
	}

	return nil
}

// IsRunning reports whether the metronome is handling drive passes and its
// daemon is still alive. It turns false once the ctx given to Start is
// cancelled.
func (m *Metronome) IsRunning() bool {
	return m.Runner.IsRunning() && m.daemon.IsRunning()
}

// AddTicker registers t. It returns false if t was already registered.
func (m *Metronome) AddTicker(t Ticker) bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	if _, found := m.index[t]; found {
		return false
	}

	m.index[t] = struct{}{}
	m.tickers = append(m.tickers, t)

	metronomeTickers.WithLabelValues(m.name).Set(float64(len(m.tickers)))

	return true
}

// RemoveTicker deregisters t. It returns false if t wasn't registered.
func (m *Metronome) RemoveTicker(t Ticker) bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	if _, found := m.index[t]; !found {
		return false
	}

	delete(m.index, t)

	for i, existing := range m.tickers {
		if existing == t {
			m.tickers = append(m.tickers[:i:i], m.tickers[i+1:]...)

			break
		}
	}

	metronomeTickers.WithLabelValues(m.name).Set(float64(len(m.tickers)))

	return true
}

// Contains reports whether t is registered.
func (m *Metronome) Contains(t Ticker) bool {
	m.mut.RLock()
	defer m.mut.RUnlock()

	_, found := m.index[t]

	return found
}

// Len returns the number of registered tickers.
func (m *Metronome) Len() int {
	m.mut.RLock()
	defer m.mut.RUnlock()

	return len(m.tickers)
}

// Process runs one drive pass if the registry isn't empty and the interval
// has elapsed since the previous pass. It returns true when a pass ran.
func (m *Metronome) Process(ctx context.Context) bool {
	if m.Len() == 0 {
		return false
	}

	now := m.now()

	elapsed := now.Sub(m.lastDrive.Load())
	if elapsed < m.interval {
		return false
	}

	m.drive(ctx, m.snapshot(), now, elapsed)
	m.lastDrive.Store(now)

	return true
}

func (m *Metronome) setup(context.Context) bool {
	m.lastDrive.Store(m.now())

	return false
}

// snapshot copies the registry so tickers added or removed during a pass
// only take effect on the next one.
func (m *Metronome) snapshot() []Ticker {
	m.mut.RLock()
	defer m.mut.RUnlock()

	out := make([]Ticker, len(m.tickers))
	copy(out, m.tickers)

	return out
}

func (m *Metronome) drive(ctx context.Context, tickers []Ticker, now time.Time, elapsed time.Duration) {
	ctx, span := otel.Tracer("metronome").Start(ctx, "metronome.drive")
	defer span.End()

	span.SetAttributes(
		attribute.String("metronome", m.name),
		attribute.Int("tickers", len(tickers)),
		attribute.Int64("elapsed_ms", elapsed.Milliseconds()),
	)

	start := time.Now()
	failures := atomic.NewInt64(0)

	if m.pool != nil {
		group := m.pool.NewGroup()

		for _, t := range tickers {
			group.Submit(func() {
				if !m.tickOne(ctx, t, now, elapsed) {
					failures.Inc()
				}
			})
		}

		// tickOne recovers its own panics, so the group never fails.
		_ = group.Wait()
	} else {
		for _, t := range tickers {
			if !m.tickOne(ctx, t, now, elapsed) {
				failures.Inc()
			}
		}
	}

	if n := failures.Load(); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d tickers failed", n))
	} else {
		span.SetStatus(codes.Ok, "completed")
	}

	metronomeDrives.WithLabelValues(m.name).Inc()
	metronomeDriveDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
}

// tickOne ticks a single ticker, containing any panic. It returns false when
// the ticker panicked.
func (m *Metronome) tickOne(ctx context.Context, t Ticker, now time.Time, elapsed time.Duration) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metronomeTickerPanics.WithLabelValues(m.name).Inc()
			logger.From(ctx, m.logger).Error("Ticker panicked during drive pass",
				"metronome", m.name,
				"ticker", fmt.Sprintf("%T", t),
				"error", errors.FromPanic(rec, debug.Stack()))

			ok = false
		}
	}()

	t.Tick(ctx, now, elapsed)

	return true
}
