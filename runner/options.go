package runner

import "log/slog"

type runnerOptions struct {
	name   string
	setup  Hook
	finish Hook
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*runnerOptions)

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *runnerOptions) {
		o.name = name
	}
}

// WithSetup installs a hook called during StageInit.
func WithSetup(setup Hook) Option {
	return func(o *runnerOptions) {
		o.setup = setup
	}
}

// WithFinish installs a hook called during StageCleaning.
func WithFinish(finish Hook) Option {
	return func(o *runnerOptions) {
		o.finish = finish
	}
}

// WithLogger makes the runner log through l instead of the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *runnerOptions) {
		o.logger = l
	}
}
