package daemon

import (
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
)

type daemonOptions struct {
	name     string
	interval time.Duration
	pool     pond.Pool
	logger   *slog.Logger
}

// Option configures a Daemon.
type Option func(*daemonOptions)

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *daemonOptions) {
		o.name = name
	}
}

// WithInterval sets the wait between two steps.
func WithInterval(interval time.Duration) Option {
	return func(o *daemonOptions) {
		o.interval = interval
	}
}

// WithPool runs the loop on a shared worker pool instead of a dedicated
// goroutine. The loop occupies one worker for as long as it runs.
func WithPool(pool pond.Pool) Option {
	return func(o *daemonOptions) {
		o.pool = pool
	}
}

// WithLogger makes the daemon log through l instead of the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *daemonOptions) {
		o.logger = l
	}
}
