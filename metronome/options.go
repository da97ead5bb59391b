package metronome

import (
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/daemon"
)

type metronomeOptions struct {
	name       string
	interval   time.Duration
	now        func() time.Time
	pool       pond.Pool
	logger     *slog.Logger
	daemonOpts []daemon.Option
}

// Option configures a Metronome.
type Option func(*metronomeOptions)

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *metronomeOptions) {
		o.name = name
	}
}

// WithInterval sets the minimum time between two drive passes. Values below
// MinInterval are raised to MinInterval.
func WithInterval(interval time.Duration) Option {
	return func(o *metronomeOptions) {
		o.interval = interval
	}
}

// WithClock replaces time.Now as the source of drive timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *metronomeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPool ticks the tickers of a pass concurrently on pool. The pass still
// waits for every ticker before it completes, and each ticker is ticked at
// most once per pass. If the daemon runs on the same pool, the pool needs at
// least one more worker than the daemon occupies.
func WithPool(pool pond.Pool) Option {
	return func(o *metronomeOptions) {
		o.pool = pool
	}
}

// WithDaemonOptions passes options through to the daemon which steps the
// metronome, e.g. daemon.WithInterval or daemon.WithPool.
func WithDaemonOptions(opts ...daemon.Option) Option {
	return func(o *metronomeOptions) {
		o.daemonOpts = append(o.daemonOpts, opts...)
	}
}

// WithLogger makes the metronome log through l instead of the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *metronomeOptions) {
		o.logger = l
	}
}
