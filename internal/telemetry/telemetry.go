// Package telemetry traces adb traffic and recovery steps with OpenTelemetry.
//
// Nothing is recorded unless NVG_OTEL_ENABLED=true.
//
//	NVG_OTEL_ENABLED=true            turn tracing and metrics on
//	NVG_OTEL_TRACE_FILE=path         append spans as JSON to path (default: stderr)
//	NVG_OTEL_STDOUT=true             also print metrics to stderr every 15s
//	OTEL_EXPORTER_OTLP_ENDPOINT=...  push metrics over OTLP/HTTP (e.g. localhost:4318)
//
// A trace file is the useful form for a repair run: it can be attached to
// a bug report next to session.json.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/nvguard"

// Environment switches.
const (
	EnvEnabled   = "NVG_OTEL_ENABLED"
	EnvTraceFile = "NVG_OTEL_TRACE_FILE"
	EnvStdout    = "NVG_OTEL_STDOUT"
)

// closers run in order on Shutdown: providers flush before the trace file
// they write into is closed.
var closers []func(context.Context) error

// Enabled reports whether NVG_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv(EnvEnabled) == "true"
}

// Init installs the global providers. Disabled telemetry installs no-op
// providers so Tracer and Meter are always safe to call.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	w, closeTrace, err := traceWriter()
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		_ = closeTrace(ctx)
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(ctx, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = closeTrace(ctx)
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}
	otel.SetMeterProvider(mp)

	closers = append(closers, tp.Shutdown, mp.Shutdown, closeTrace)
	return nil
}

// traceWriter opens NVG_OTEL_TRACE_FILE for appending, or falls back to
// stderr.
func traceWriter() (io.Writer, func(context.Context) error, error) {
	path := os.Getenv(EnvTraceFile)
	if path == "" {
		return os.Stderr, func(context.Context) error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("opening trace file: %w", err)
	}
	return f, func(context.Context) error { return f.Close() }, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if os.Getenv(EnvStdout) == "true" {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	if endpoint := otlpEndpoint(); endpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	return sdkmetric.NewMeterProvider(opts...), nil
}

// otlpEndpoint prefers the metrics-specific variable.
func otlpEndpoint() string {
	if e := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); e != "" {
		return e
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Tracer returns a tracer for name, or for the module scope when empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the module scope when empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics and closes the trace file.
// Every closer runs even when an earlier one fails.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	closers = nil
	return errors.Join(errs...)
}
