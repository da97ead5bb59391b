// Package telemetry sets up OpenTelemetry tracing and, optionally, log export
// over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/amp-labs/amp-fsm/config"
	"github.com/amp-labs/amp-fsm/logger"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// kubernetesCollector is used when running in Kubernetes without an explicit
// endpoint.
const kubernetesCollector = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"

// Providers owns the SDK providers created by Initialize. The zero value is
// a valid, disabled set of providers.
type Providers struct {
	traces *sdktrace.TracerProvider
	logs   *sdklog.LoggerProvider
}

// Endpoint returns the collector endpoint for cfg, falling back to the
// in-cluster collector when running in Kubernetes.
func Endpoint(cfg config.Telemetry) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}

	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return kubernetesCollector
	}

	return ""
}

// Initialize sets up the global tracer provider and, when cfg.LogsEnabled, a
// log provider whose handler can be added to the slog fan-out with
// logger.WithHandler(p.LogHandler()).
func Initialize(ctx context.Context, cfg config.Telemetry) (*Providers, error) {
	if !cfg.Enabled {
		slog.Info("OpenTelemetry is disabled")

		return &Providers{}, nil
	}

	endpoint := Endpoint(cfg)
	if endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, telemetry will be disabled")

		return &Providers{}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = logger.GetSubsystem(ctx)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	providers := &Providers{
		traces: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		),
	}

	otel.SetTracerProvider(providers.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.LogsEnabled {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(endpoint),
			otlploghttp.WithTimeout(cfg.Timeout),
		)
		if err != nil {
			return nil, errors.Join(
				fmt.Errorf("failed to create OTLP log exporter: %w", err),
				providers.traces.Shutdown(ctx),
			)
		}

		providers.logs = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
	}

	slog.Info("OpenTelemetry initialized",
		"service", serviceName,
		"version", cfg.ServiceVersion,
		"environment", cfg.Environment,
		"endpoint", endpoint,
		"logs", cfg.LogsEnabled,
	)

	return providers, nil
}

// TracingEnabled reports whether spans are exported.
func (p *Providers) TracingEnabled() bool {
	return p.traces != nil
}

// LogHandler returns a slog handler exporting records over OTLP, or nil when
// log export is disabled.
func (p *Providers) LogHandler() slog.Handler {
	if p.logs == nil {
		return nil
	}

	return otelslog.NewHandler("amp-fsm", otelslog.WithLoggerProvider(p.logs))
}

// Shutdown flushes and stops every provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error

	if p.logs != nil {
		if err := p.logs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down log provider: %w", err))
		}
	}

	if p.traces != nil {
		slog.Info("Shutting down OpenTelemetry tracer provider")

		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down tracer provider: %w", err))
		}
	}

	return errors.Join(errs...)
}
