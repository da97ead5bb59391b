// Package daemon repeatedly drives a Steppable at a fixed minimum interval.
//
// A Daemon is the only place in the scheduler that waits: between two calls
// to Step it sleeps on a timer. Step itself must return promptly. The loop
// ends when Step returns false, when Stop is called, or when the context
// given to Start is cancelled.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"go.uber.org/atomic"
)

// DefaultInterval is the wait between two steps when none is configured.
const DefaultInterval = 256 * time.Millisecond

// Steppable is anything a Daemon can drive. Step returns true to be called
// again after the interval, false when it is done.
type Steppable interface {
	Step(ctx context.Context) bool
}

// StepFunc adapts a plain function to the Steppable interface.
type StepFunc func(ctx context.Context) bool

// Step calls f(ctx).
func (f StepFunc) Step(ctx context.Context) bool {
	return f(ctx)
}

// run holds the state of one Start..exit cycle, so that a stopped daemon can
// be started again once the previous loop has exited.
type run struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  *atomic.Bool
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
}

// Daemon drives a Steppable on its own goroutine, or on a worker pool.
type Daemon struct {
	name     string
	target   Steppable
	interval time.Duration
	pool     pond.Pool
	logger   *slog.Logger

	mut     sync.Mutex
	current *run
}

// New creates a daemon for target. It fails when target is nil or the
// interval isn't positive.
func New(target Steppable, opts ...Option) (*Daemon, error) {
	if target == nil {
		return nil, errors.ErrNilTarget
	}

	options := &daemonOptions{
		name:     "daemon",
		interval: DefaultInterval,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.interval <= 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidInterval, options.interval)
	}

	return &Daemon{
		name:     options.name,
		target:   target,
		interval: options.interval,
		pool:     options.pool,
		logger:   options.logger,
	}, nil
}

// Name returns the name used in logs and metrics.
func (d *Daemon) Name() string {
	return d.name
}

// Interval returns the wait between two steps.
func (d *Daemon) Interval() time.Duration {
	return d.interval
}

// Start begins stepping the target. The first step happens immediately. It
// fails with ErrAlreadyRunning until the previous loop has exited, even if
// that loop was already asked to stop, so the target is never stepped by two
// loops at once.
func (d *Daemon) Start(ctx context.Context) error {
	d.mut.Lock()
	defer d.mut.Unlock()

	if d.current != nil && !isClosed(d.current.done) {
		if d.current.stopped.Load() {
			return fmt.Errorf("daemon %s: previous loop still exiting: %w", d.name, errors.ErrAlreadyRunning)
		}

		return fmt.Errorf("daemon %s: %w", d.name, errors.ErrAlreadyRunning)
	}

	r := &run{
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		stopped: atomic.NewBool(false),
	}

	previous := d.current
	d.current = r

	daemonRunning.WithLabelValues(d.name).Set(1)

	loop := func() {
		d.loop(ctx, r)
	}

	if d.pool != nil {
		if err := d.pool.Go(loop); err != nil {
			d.current = previous

			daemonRunning.WithLabelValues(d.name).Set(0)

			return fmt.Errorf("daemon %s: failed to submit loop: %w", d.name, err)
		}
	} else {
		go loop()
	}

	return nil
}

// Stop asks the loop to exit. The step in flight, if any, is not interrupted;
// the loop exits before invoking the next one.
func (d *Daemon) Stop() {
	d.mut.Lock()
	r := d.current
	d.mut.Unlock()

	if r != nil {
		r.requestStop()
	}
}

// Wait blocks until the current loop has exited. It returns immediately if
// the daemon was never started.
func (d *Daemon) Wait() {
	d.mut.Lock()
	r := d.current
	d.mut.Unlock()

	if r != nil {
		<-r.done
	}
}

// StopAndWait stops the loop and waits for it to exit.
func (d *Daemon) StopAndWait() {
	d.Stop()
	d.Wait()
}

// IsRunning reports whether the loop is alive and hasn't been asked to stop.
func (d *Daemon) IsRunning() bool {
	d.mut.Lock()
	r := d.current
	d.mut.Unlock()

	return r != nil && !r.stopped.Load() && !isClosed(r.done)
}

func (d *Daemon) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			daemonPanics.WithLabelValues(d.name).Inc()
			d.log(ctx).Error("Daemon step panicked, stopping loop",
				"daemon", d.name, "error", errors.FromPanic(rec, debug.Stack()))
		}

		d.mut.Lock()
		if d.current == r {
			daemonRunning.WithLabelValues(d.name).Set(0)
		}
		d.mut.Unlock()
	}()

	d.log(ctx).Debug("Daemon started", "daemon", d.name, "interval", d.interval)

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			d.log(ctx).Debug("Daemon stopped", "daemon", d.name)

			return
		case <-ctx.Done():
			d.log(ctx).Debug("Daemon context done", "daemon", d.name)

			return
		default:
		}

		daemonSteps.WithLabelValues(d.name).Inc()

		if !d.target.Step(ctx) {
			d.log(ctx).Debug("Daemon target finished", "daemon", d.name)

			return
		}

		timer.Reset(d.interval)

		select {
		case <-r.stop:
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func (d *Daemon) log(ctx context.Context) *slog.Logger {
	return logger.From(ctx, d.logger)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
