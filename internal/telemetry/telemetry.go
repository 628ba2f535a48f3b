// Package telemetry sets up OpenTelemetry tracing and metrics export over
// OTLP/gRPC for the API and the worker, and ties logs to traces.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const defaultMetricInterval = 15 * time.Second

// Config holds configuration for telemetry setup.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Enabled        bool

	// SampleRatio is the fraction of root traces sampled. Location uploads
	// produce a span per batch, so busy deployments sample. Zero or one
	// samples everything.
	SampleRatio float64

	// MetricInterval is the export period of the periodic reader (default: 15s).
	MetricInterval time.Duration
}

// Provider owns the SDK providers. When telemetry is disabled it hands out
// no-op providers and Shutdown does nothing.
type Provider struct {
	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
}

// Init builds the providers and, when enabled, installs them as the otel
// globals. The W3C trace context propagator is installed either way so
// incoming trace IDs reach the logs.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	spanExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}

	p := &Provider{
		tracers: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
		),
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		),
	}
	otel.SetTracerProvider(p.tracers)
	otel.SetMeterProvider(p.meters)
	return p, nil
}

// TracerProvider returns the provider spans should be created on.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracers == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.tracers
}

// MeterProvider returns the provider instruments should be created on.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meters == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.meters
}

// Shutdown flushes and stops both providers, even when one fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracers != nil {
		errs = append(errs, p.tracers.Shutdown(ctx))
	}
	if p.meters != nil {
		errs = append(errs, p.meters.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Sampler returns the sampler for ratio. Child spans follow their parent so a
// trip request is traced end to end or not at all.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// TraceHook adds trace_id and span_id to events logged with a context that
// carries a valid span, as in log.Warn().Ctx(ctx).
type TraceHook struct{}

func (TraceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
}
