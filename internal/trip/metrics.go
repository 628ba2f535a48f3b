package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breatheroute/navcore/internal/trip"

// Reasons a fix is dropped by the pipeline.
const (
	rejectAccuracy = "accuracy"
	rejectStale    = "stale_generation"
)

// Metrics holds the OpenTelemetry instruments for navigation sessions.
// A nil *Metrics records nothing.
type Metrics struct {
	fixesAccepted     metric.Int64Counter
	fixesRejected     metric.Int64Counter
	pipelineDuration  metric.Float64Histogram
	offRouteTotal     metric.Int64Counter
	reroutesTotal     metric.Int64Counter
	milestonesTotal   metric.Int64Counter
	activeSessions    metric.Int64UpDownCounter
	recorderDropTotal metric.Int64Counter
}

// NewMetrics creates the session instruments on mp. A nil provider uses the
// global one.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		fixesAccepted:     counter("navigation.fixes.accepted", "Location fixes that passed validation", "{fix}"),
		fixesRejected:     counter("navigation.fixes.rejected", "Location fixes dropped by the pipeline", "{fix}"),
		offRouteTotal:     counter("navigation.offroute.total", "Transitions from on route to off route", "{transition}"),
		reroutesTotal:     counter("navigation.reroutes.total", "Reroutes applied to sessions", "{reroute}"),
		milestonesTotal:   counter("navigation.milestones.total", "Milestones fired", "{milestone}"),
		recorderDropTotal: counter("navigation.recorder.dropped", "Trip snapshots dropped because the recorder queue was full", "{snapshot}"),
	}

	var err error
	m.pipelineDuration, err = meter.Float64Histogram("navigation.pipeline.duration",
		metric.WithDescription("Time to process one fix through the pipeline"),
		metric.WithUnit("s"))
	errs = append(errs, err)
	m.activeSessions, err = meter.Int64UpDownCounter("navigation.sessions.active",
		metric.WithDescription("Navigation sessions currently running"),
		metric.WithUnit("{session}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("creating trip instruments: %w", err)
	}
	return m, nil
}

// Metrics are recorded from the pipeline goroutine, which has no request
// context.
var bg = context.Background()

func (m *Metrics) recordFix(d time.Duration) {
	if m == nil {
		return
	}
	ctx := bg
	m.fixesAccepted.Add(ctx, 1)
	m.pipelineDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) recordRejected(reason string) {
	if m == nil {
		return
	}
	m.fixesRejected.Add(bg, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordOffRoute() {
	if m == nil {
		return
	}
	m.offRouteTotal.Add(bg, 1)
}

func (m *Metrics) recordReroute(automatic bool) {
	if m == nil {
		return
	}
	m.reroutesTotal.Add(bg, 1, metric.WithAttributes(attribute.Bool("automatic", automatic)))
}

func (m *Metrics) recordMilestone(kind string) {
	if m == nil {
		return
	}
	m.milestonesTotal.Add(bg, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Add(bg, 1)
}

func (m *Metrics) sessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Add(bg, -1)
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.recorderDropTotal.Add(bg, 1)
}
