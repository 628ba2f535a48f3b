package routing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/breatheroute/navcore/internal/routing"

// MetricsRecorder observes provider calls and cache lookups.
type MetricsRecorder interface {
	RecordRequest(ctx context.Context, provider string, duration time.Duration, err error)
	RecordCacheLookup(ctx context.Context, provider string, result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(context.Context, string, time.Duration, error) {}
func (noopMetrics) RecordCacheLookup(context.Context, string, string)        {}

// Metrics records routing backend latency and cache effectiveness.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	lookups  metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global provider when
// mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"routing.provider.duration",
		metric.WithDescription("Duration of directions requests to the routing backend in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter(
		"routing.provider.requests",
		metric.WithDescription("Directions requests sent to the routing backend"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	lookups, err := meter.Int64Counter(
		"routing.cache.lookups",
		metric.WithDescription("Directions cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{duration: duration, requests: requests, lookups: lookups}, nil
}

// RecordRequest records one provider call.
func (m *Metrics) RecordRequest(ctx context.Context, provider string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.Bool("error", err != nil),
	)
	ctx = context.WithoutCancel(ctx)
	m.duration.Record(ctx, duration.Seconds(), attrs)
	m.requests.Add(ctx, 1, attrs)
}

// RecordCacheLookup records a lookup with result hit, miss, stale or bypass.
func (m *Metrics) RecordCacheLookup(ctx context.Context, provider string, result string) {
	m.lookups.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("cache.result", result),
	))
}
