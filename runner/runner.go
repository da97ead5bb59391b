// Package runner provides a staged, resumable unit of work.
//
// A Runner moves through four stages: Init, Handling, Cleaning and Stopped.
// A driver loop (see the daemon package) calls Step repeatedly; every call
// does a bounded amount of work and reports whether it wants to be called
// again. Nothing in a Runner blocks: when there is no work to do, Step
// returns true and the driver loop waits before calling it again.
//
//	r := runner.New(runner.ProcessorFunc(func(ctx context.Context) bool {
//		job, ok := queue.Pop()
//		if !ok {
//			return false // nothing to do, yield
//		}
//		job.Run(ctx)
//		return true // try the next job immediately
//	}))
//
//	for r.Step(ctx) {
//		time.Sleep(runner.IntervalNormal)
//	}
package runner

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"go.uber.org/atomic"
)

// Frame intervals commonly used to drive runners.
const (
	IntervalSlow   = time.Second / 10 // 100ms
	IntervalNormal = time.Second / 25 // 40ms
	IntervalFast   = time.Second / 60 // ~16ms
)

// Stage is one of the sequential phases of a Runner.
type Stage int32

const (
	// StageInit calls Setup until it reports ready.
	StageInit Stage = iota
	// StageHandling calls Handle, which in turn calls Process.
	StageHandling
	// StageCleaning calls Finish until it reports done.
	StageCleaning
	// StageStopped is terminal; Step always returns false.
	StageStopped
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageHandling:
		return "handling"
	case StageCleaning:
		return "cleaning"
	case StageStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Processor does one unit of work per call. It returns true when work was
// done and another unit should be attempted immediately, false when nothing
// is available right now.
type Processor interface {
	Process(ctx context.Context) bool
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context) bool

// Process calls f(ctx).
func (f ProcessorFunc) Process(ctx context.Context) bool {
	return f(ctx)
}

// Hook is a Setup or Finish step. Returning true means "not finished yet,
// call me again after the interval".
type Hook func(ctx context.Context) bool

// Runner is a staged unit of work. Its stage and running flag are only
// mutated by Step and Stop, so a Runner can be stopped from any goroutine.
type Runner struct {
	name      string
	processor Processor
	setup     Hook
	finish    Hook
	logger    *slog.Logger

	stage         *atomic.Int32
	running       *atomic.Bool
	stopRequested *atomic.Bool
}

// New creates a runner around a processor.
func New(processor Processor, opts ...Option) *Runner {
	options := &runnerOptions{
		name: "runner",
	}

	for _, opt := range opts {
		opt(options)
	}

	runnerCreated.WithLabelValues(options.name).Inc()

	return &Runner{
		name:          options.name,
		processor:     processor,
		setup:         options.setup,
		finish:        options.finish,
		logger:        options.logger,
		stage:         atomic.NewInt32(int32(StageInit)),
		running:       atomic.NewBool(false),
		stopRequested: atomic.NewBool(false),
	}
}

// Name returns the name used in logs and metrics.
func (r *Runner) Name() string {
	return r.name
}

// Stage returns the current stage.
func (r *Runner) Stage() Stage {
	return Stage(r.stage.Load())
}

// IsRunning reports whether the runner is between Setup and Finish and
// hasn't been asked to stop.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Stop asks the runner to leave the Handling stage. It takes effect the next
// time Handle checks the running flag; an in-flight Process call finishes
// normally.
func (r *Runner) Stop() {
	r.stopRequested.Store(true)
	r.running.Store(false)
}

// Step advances the stage machine. It returns true while the runner wants to
// be called again and false once it has reached StageStopped.
func (r *Runner) Step(ctx context.Context) bool {
	if r.Stage() == StageInit {
		if r.Setup(ctx) {
			return true
		}

		r.moveTo(ctx, StageHandling)
	}

	if r.Stage() == StageHandling {
		if r.Handle(ctx) {
			return true
		}

		r.moveTo(ctx, StageCleaning)
	}

	if r.Stage() == StageCleaning {
		if r.Finish(ctx) {
			return true
		}

		r.moveTo(ctx, StageStopped)
	}

	return false
}

// Setup prepares the runner. It returns true while not ready yet. Once ready
// the runner is marked running, unless Stop was called in the meantime.
func (r *Runner) Setup(ctx context.Context) bool {
	if r.setup != nil && r.setup(ctx) {
		return true
	}

	if !r.stopRequested.Load() {
		r.running.Store(true)
		runnerRunning.WithLabelValues(r.name).Set(1)
	}

	return false
}

// Handle calls Process in a tight loop while the runner is running. It
// returns true when Process ran out of work (yield and try again later) and
// false when the runner was stopped, the context was cancelled or Process
// panicked.
func (r *Runner) Handle(ctx context.Context) (yield bool) {
	defer func() {
		if rec := recover(); rec != nil {
			err := errors.FromPanic(rec, debug.Stack())
			runnerPanics.WithLabelValues(r.name).Inc()
			r.log(ctx).Error("Runner failed while handling, moving to cleanup",
				"runner", r.name, "error", err)

			yield = false
		}
	}()

	for r.running.Load() {
		if ctx.Err() != nil {
			r.log(ctx).Debug("Context done, leaving handling stage", "runner", r.name)

			return false
		}

		if !r.processor.Process(ctx) {
			return true
		}

		runnerProcessed.WithLabelValues(r.name).Inc()
	}

	return false
}

// Finish cleans up after handling. It returns true while cleanup is still in
// progress.
func (r *Runner) Finish(ctx context.Context) bool {
	if r.finish != nil && r.finish(ctx) {
		return true
	}

	r.running.Store(false)
	runnerRunning.WithLabelValues(r.name).Set(0)

	return false
}

func (r *Runner) moveTo(ctx context.Context, stage Stage) {
	r.stage.Store(int32(stage))
	runnerStages.WithLabelValues(r.name, stage.String()).Inc()
	r.log(ctx).Debug("Runner stage changed", "runner", r.name, "stage", stage.String())
}

func (r *Runner) log(ctx context.Context) *slog.Logger {
	return logger.From(ctx, r.logger)
}
