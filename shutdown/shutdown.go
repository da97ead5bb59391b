// Package shutdown runs teardown hooks when the process is asked to stop,
// either by SIGINT/SIGTERM or programmatically.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/amp-labs/amp-fsm/logger"
)

// DefaultTimeout bounds the time all hooks together may take.
const DefaultTimeout = 10 * time.Second

// Hook tears something down. Its context expires when the shutdown timeout
// is reached.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	hook Hook
}

// Handler collects hooks and runs them once, in reverse registration order,
// so that things set up last are torn down first.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mut   sync.Mutex
	hooks []namedHook

	trigger chan string
	once    sync.Once
	done    chan struct{}
	err     error
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds the time all hooks together may take.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// WithLogger makes the handler log through l instead of the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// New creates a handler with no hooks.
func New(opts ...Option) *Handler {
	h := &Handler{
		timeout: DefaultTimeout,
		trigger: make(chan string, 1),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// BeforeShutdown registers a hook. Hooks registered after shutdown started
// are ignored.
func (h *Handler) BeforeShutdown(name string, hook Hook) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.hooks = append(h.hooks, namedHook{name: name, hook: hook})
}

// Shutdown starts the shutdown programmatically. It does not wait; use Done.
func (h *Handler) Shutdown() {
	select {
	case h.trigger <- "shutdown requested":
	default:
	}
}

// SetupHandler listens for SIGINT and SIGTERM and returns a context which
// is cancelled once a signal (or Shutdown) was received and every hook ran.
// Cancelling parent has the same effect.
func (h *Handler) SetupHandler(parent context.Context) context.Context {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer signal.Stop(signals)
		defer cancel()

		var reason string

		select {
		case sig := <-signals:
			reason = "received " + sig.String()
		case reason = <-h.trigger:
		case <-parent.Done():
			reason = "context done"
		}

		logger.From(ctx, h.logger).Warn("Shutting down...", "reason", reason)

		//nolint:contextcheck // the parent may already be cancelled, hooks get a fresh deadline
		h.run(context.WithoutCancel(ctx))
	}()

	return ctx
}

// Done is closed once every hook has run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Err returns the joined hook errors. It is only meaningful after Done is
// closed.
func (h *Handler) Err() error {
	<-h.done

	return h.err
}

// Run executes the hooks directly, without waiting for a signal. It is safe
// to call more than once; only the first call runs anything.
func (h *Handler) Run(ctx context.Context) error {
	h.run(ctx)

	return h.Err()
}

func (h *Handler) run(ctx context.Context) {
	h.once.Do(func() {
		defer close(h.done)

		h.mut.Lock()
		hooks := h.hooks
		h.hooks = nil
		h.mut.Unlock()

		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		var errs []error

		for i := len(hooks) - 1; i >= 0; i-- {
			hook := hooks[i]

			if err := hook.hook(ctx); err != nil {
				logger.From(ctx, h.logger).Error("Shutdown hook failed", "hook", hook.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))

				continue
			}

			logger.From(ctx, h.logger).Debug("Shutdown hook finished", "hook", hook.name)
		}

		h.err = errors.Join(errs...)
	})
}
