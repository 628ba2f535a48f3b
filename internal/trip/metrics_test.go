package trip_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/breatheroute/navcore/internal/route/routetest"
	"github.com/breatheroute/navcore/internal/trip"
)

// sums collects every int64 sum by instrument name, adding up data points.
func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestMetrics_SessionPipeline(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := trip.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	r := routetest.SingleLeg()
	c := newCollector()
	s := trip.NewSession(r, trip.SessionConfig{Listener: c, AccuracyThreshold: 20, Metrics: metrics})
	defer s.Stop()

	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, fixAt(routetest.Start, 0)))
	c.next(t)

	inaccurate := fixAt(routetest.Along(r, 0, 0, 50), 10)
	inaccurate.Accuracy = 500
	require.NoError(t, s.Submit(ctx, inaccurate))
	require.NoError(t, s.Submit(ctx, fixAt(routetest.Along(r, 0, 0, 100), 10)))
	c.next(t)

	got := sums(t, reader)
	assert.Equal(t, int64(2), got["navigation.fixes.accepted"])
	assert.Equal(t, int64(1), got["navigation.fixes.rejected"])
	assert.GreaterOrEqual(t, got["navigation.milestones.total"], int64(1), "departure")
}

func TestMetrics_NilRecordsNothing(t *testing.T) {
	r := routetest.SingleLeg()
	c := newCollector()
	s := trip.NewSession(r, trip.SessionConfig{Listener: c})
	defer s.Stop()

	require.NoError(t, s.Submit(context.Background(), fixAt(routetest.Start, 0)))
	c.next(t)
}

func TestNewMetrics_GlobalProvider(t *testing.T) {
	m, err := trip.NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
