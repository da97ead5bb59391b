// Package config loads runtime settings for the scheduler, logging and
// telemetry from environment variables.
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//
//	m := metronome.New(metronome.WithInterval(cfg.Scheduler.MetronomeInterval))
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultMetronomeInterval is the minimum time between two drive passes.
	DefaultMetronomeInterval = 100 * time.Millisecond
	// DefaultDaemonInterval is the wait between two steps of a driver loop.
	DefaultDaemonInterval = 256 * time.Millisecond
	// DefaultWorkerCount is the size of the shared worker pool.
	DefaultWorkerCount = 10
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidLogOutput is returned when LOG_OUTPUT is neither stdout nor stderr.
	ErrInvalidLogOutput = errors.New("invalid log output")
)

// Scheduler configures the metronome and its driver loop.
type Scheduler struct {
	MetronomeInterval time.Duration `env:"FSM_METRONOME_INTERVAL" envDefault:"100ms"`
	DaemonInterval    time.Duration `env:"FSM_DAEMON_INTERVAL"    envDefault:"256ms"`
	WorkerCount       int           `env:"FSM_WORKER_COUNT"       envDefault:"10"`
	ConcurrentDrive   bool          `env:"FSM_CONCURRENT_DRIVE"   envDefault:"false"`
}

// Logging configures the slog default logger.
type Logging struct {
	JSON        bool       `env:"LOG_JSON"         envDefault:"false"`
	Level       slog.Level `env:"LOG_LEVEL"        envDefault:"info"`
	LegacyLevel slog.Level `env:"LEGACY_LOG_LEVEL" envDefault:"info"`
	Output      string     `env:"LOG_OUTPUT"       envDefault:"stdout"`
}

// Telemetry configures OpenTelemetry exporters.
type Telemetry struct {
	Enabled        bool          `env:"OTEL_ENABLED"                envDefault:"false"`
	LogsEnabled    bool          `env:"OTEL_LOGS_ENABLED"           envDefault:"false"`
	ServiceName    string        `env:"OTEL_SERVICE_NAME"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"        envDefault:"1.0.0"`
	Environment    string        `env:"RUNNING_ENV"                 envDefault:"local"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Timeout        time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT"  envDefault:"5s"`
}

// Config is the full set of runtime settings.
type Config struct {
	Scheduler   Scheduler
	Logging     Logging
	Telemetry   Telemetry
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadWith(env.Options{})
}

// LoadFromMap reads the configuration from the given key/value pairs instead
// of the process environment. Handy in tests.
func LoadFromMap(vars map[string]string) (*Config, error) {
	return LoadWith(env.Options{Environment: vars})
}

// LoadWith reads the configuration using custom parser options.
func LoadWith(opts env.Options) (*Config, error) {
	var cfg Config

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values which the parser can't check on its own.
func (c *Config) Validate() error {
	if c.Scheduler.MetronomeInterval <= 0 {
		return fmt.Errorf("%w: FSM_METRONOME_INTERVAL must be positive, got %s",
			ErrInvalidConfig, c.Scheduler.MetronomeInterval)
	}

	if c.Scheduler.DaemonInterval <= 0 {
		return fmt.Errorf("%w: FSM_DAEMON_INTERVAL must be positive, got %s",
			ErrInvalidConfig, c.Scheduler.DaemonInterval)
	}

	if c.Scheduler.WorkerCount <= 0 {
		return fmt.Errorf("%w: FSM_WORKER_COUNT must be positive, got %d",
			ErrInvalidConfig, c.Scheduler.WorkerCount)
	}

	// The driver loop holds one worker while it runs, a concurrent drive needs
	// at least one more.
	if c.Scheduler.ConcurrentDrive && c.Scheduler.WorkerCount < 2 {
		return fmt.Errorf("%w: FSM_CONCURRENT_DRIVE needs FSM_WORKER_COUNT >= 2, got %d",
			ErrInvalidConfig, c.Scheduler.WorkerCount)
	}

	switch c.Logging.Output {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogOutput, c.Logging.Output)
	}

	return nil
}
