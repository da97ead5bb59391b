package fsm

import (
	"log/slog"
	"time"

	"github.com/amp-labs/amp-fsm/metronome"
)

// Scheduler is what a self-scheduling machine registers with. A
// *metronome.Metronome satisfies it.
type Scheduler interface {
	AddTicker(t metronome.Ticker) bool
	RemoveTicker(t metronome.Ticker) bool
}

type machineOptions struct {
	name         string
	defaultState string
	scheduler    Scheduler
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Machine.
type Option func(*machineOptions)

// WithName sets the name used in logs, spans and metric labels.
func WithName(name string) Option {
	return func(o *machineOptions) {
		o.name = name
	}
}

// WithDefaultState names the state entered by Start. Without it the first
// added state is used.
func WithDefaultState(name string) Option {
	return func(o *machineOptions) {
		o.defaultState = name
	}
}

// WithMetronome makes the machine self-scheduling: it registers with s on
// Start and Resume, and deregisters on Pause and Stop.
func WithMetronome(s Scheduler) Option {
	return func(o *machineOptions) {
		o.scheduler = s
	}
}

// WithClock replaces time.Now for Start, Stop, Pause and Resume. Ticks carry
// their own timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *machineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger makes the machine log through l instead of the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *machineOptions) {
		o.logger = l
	}
}
