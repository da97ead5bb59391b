// Package logger configures slog for the process and hands out loggers which
// carry the subsystem, pod name and any values stored in the context.
package logger

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/amp-labs/amp-fsm/config"
)

// Name of the subsystem used when the context doesn't override it.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex serializes ConfigureLoggingWithOptions, which mutates global state.
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer

	// Extra handlers receive every record in addition to the text/JSON
	// handler, e.g. an OpenTelemetry log bridge.
	Extra []slog.Handler
}

// Option is a functional option for ConfigureLogging.
type Option func(*Options)

// WithHandler adds a handler which receives a copy of every record.
func WithHandler(h slog.Handler) Option {
	return func(o *Options) {
		if h != nil {
			o.Extra = append(o.Extra, h)
		}
	}
}

// WithOutput overrides the configured output writer.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// ConfigureLoggingWithOptions installs a default slog logger built from opts
// and redirects the standard log package into it. It returns the new logger.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var handler slog.Handler

	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	} else {
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	}

	if len(opts.Extra) > 0 {
		handler = newFanout(append([]slog.Handler{handler}, opts.Extra...)...)
	}

	logger := slog.New(handler)

	slog.SetDefault(logger)

	// Third party packages may still use the log package.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, opts.LegacyLevel)

	subsystem.Store(opts.Subsystem)

	return logger
}

// ConfigureLogging configures logging for app from the logging section of the
// runtime configuration.
func ConfigureLogging(app string, cfg config.Logging, opts ...Option) *slog.Logger {
	output := io.Writer(os.Stdout)
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	options := Options{
		Subsystem:   app,
		JSON:        cfg.JSON,
		MinLevel:    cfg.Level,
		LegacyLevel: cfg.LegacyLevel,
		Output:      output,
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options)
}

// WithMuted marks the context as muted. Loggers obtained from a muted context
// discard everything, which keeps high-frequency paths such as drive passes
// quiet when needed.
func WithMuted(ctx context.Context, muted bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("mute"), muted)
}

func isMuted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	muted, ok := ctx.Value(contextKey("mute")).(bool)

	return ok && muted
}

// WithSubsystem overrides the subsystem name for loggers obtained from ctx.
func WithSubsystem(ctx context.Context, subsystem string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("subsystem"), subsystem)
}

// GetSubsystem returns the subsystem from the context, falling back to the
// one given to ConfigureLogging.
func GetSubsystem(ctx context.Context) string { //nolint:contextcheck
	if ctx == nil {
		ctx = context.Background()
	}

	if val, ok := ctx.Value(contextKey("subsystem")).(string); ok {
		return val
	}

	if val, ok := subsystem.Load().(string); ok {
		return val
	}

	return ""
}

// hostname is the pod name in k8s, the machine name elsewhere.
var hostname = sync.OnceValue(func() string { //nolint:gochecknoglobals
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}

	return h
})

// GetPodName returns the pod name (or hostname if not running in k8s).
func GetPodName() string {
	return hostname()
}

// With returns a new context carrying extra key/value pairs. Loggers obtained
// from the context include them automatically.
func With(ctx context.Context, values ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(values) == 0 {
		return ctx
	}

	existing := getValues(ctx)
	vals := make([]any, 0, len(existing)+len(values))
	vals = append(vals, existing...)
	vals = append(vals, values...)

	return context.WithValue(ctx, contextKey("loggerValues"), vals)
}

func getValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	vals, _ := ctx.Value(contextKey("loggerValues")).([]any)

	return vals
}

// getRealContext returns the first non-nil context, or context.Background().
func getRealContext(ctx ...context.Context) context.Context {
	for _, c := range ctx {
		if c != nil {
			return c
		}
	}

	return context.Background()
}

type nullHandler struct{}

func (n *nullHandler) Enabled(_ context.Context, _ slog.Level) bool { return false }

func (n *nullHandler) Handle(_ context.Context, _ slog.Record) error { return nil }

func (n *nullHandler) WithAttrs(_ []slog.Attr) slog.Handler { return n }

func (n *nullHandler) WithGroup(_ string) slog.Handler { return n }

var nullLogger = slog.New(&nullHandler{}) //nolint:gochecknoglobals

// Get returns a logger for the (optional) context. The logger carries the
// subsystem, the pod name and every value added with With.
func Get(ctx ...context.Context) *slog.Logger { //nolint:contextcheck
	realCtx := getRealContext(ctx...)

	return From(realCtx, slog.Default())
}

// From decorates base the same way Get decorates the default logger. It lets
// components that were handed an explicit logger keep the context values.
func From(ctx context.Context, base *slog.Logger) *slog.Logger {
	if isMuted(ctx) {
		return nullLogger
	}

	if base == nil {
		base = slog.Default()
	}

	logger := base.With(
		"subsystem", GetSubsystem(ctx),
		"pod", hostname())

	if vals := getValues(ctx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}
