// Package telemetry wires OpenTelemetry spans and metrics around the state
// machine and the backlog client.
//
// Nothing is recorded unless Settings.Enabled is set (otel.enabled in the
// config file or AGENCY_OTEL_ENABLED=true). Exporters never write to stdout:
// the pretty printers go to stderr and metrics can additionally be pushed to
// an OTLP/HTTP collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
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

const rootScope = "github.com/sdlc-agency/agency"

// Settings selects which providers Init installs.
type Settings struct {
	ServiceName string
	Version     string

	Enabled bool
	// Stderr pretty-prints spans and metrics to Output.
	Stderr bool
	// MetricsEndpoint is an OTLP/HTTP host:port. Empty falls back to the
	// standard OTEL_EXPORTER_OTLP_* variables.
	MetricsEndpoint string
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	active   atomic.Bool
	flushers []func(context.Context) error
)

// Enabled reports whether the last Init installed real providers.
func Enabled() bool {
	return active.Load()
}

// Init installs the global tracer and meter providers. With telemetry
// disabled the no-op providers are installed and the wrappers in this
// package return their argument unchanged.
func Init(ctx context.Context, s Settings) error {
	if !s.Enabled {
		active.Store(false)
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.Output == nil {
		s.Output = os.Stderr
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.ServiceName),
			semconv.ServiceVersionKey.String(s.Version),
		),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if s.Stderr {
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(s.Output), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry span exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithSyncer(spanExp))

		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(s.Output), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	}

	if endpoint := metricsEndpoint(s.MetricsEndpoint); endpoint != "" {
		exp, err := newOTLPMetricExporter(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("telemetry otlp exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	flushers = append(flushers, tp.Shutdown, mp.Shutdown)
	active.Store(true)
	return nil
}

func metricsEndpoint(configured string) string {
	for _, candidate := range []string{
		configured,
		os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Tracer returns a tracer for scope, or for the module when scope is empty.
func Tracer(scope string) trace.Tracer {
	if scope == "" {
		scope = rootScope
	}
	return otel.Tracer(scope)
}

// Meter returns a meter for scope, or for the module when scope is empty.
func Meter(scope string) metric.Meter {
	if scope == "" {
		scope = rootScope
	}
	return otel.Meter(scope)
}

// Shutdown flushes pending spans and metrics. The returned error joins the
// failures of every provider.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, flush := range flushers {
		if err := flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	flushers = nil
	active.Store(false)
	return errors.Join(errs...)
}
