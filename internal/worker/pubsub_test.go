package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestConsumer(t *testing.T, trips TripService, logs *bytes.Buffer) (*Consumer, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	c, err := newConsumer(ConsumerConfig{
		Subscription:  "nav-jobs",
		Jobs:          newTestHandler(trips),
		Logger:        zerolog.New(logs),
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)
	return c, reader
}

// jobCounts returns worker.jobs keyed by "job_type/outcome".
func jobCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "worker.jobs" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				jt, _ := dp.Attributes.Value("job_type")
				oc, _ := dp.Attributes.Value("outcome")
				out[jt.AsString()+"/"+oc.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestConsumer_AckDecisions(t *testing.T) {
	trips := newFakeTrips()
	c, reader := newTestConsumer(t, trips, &bytes.Buffer{})
	ctx := context.Background()
	stop := []byte(`{"job_type":"stop_trip","trip_id":"trp_1"}`)

	assert.True(t, c.process(ctx, delivery{id: "1", orderingKey: "trp_1", data: stop}))
	assert.True(t, c.process(ctx, delivery{id: "2", data: []byte(`{"job_type":"health_check"}`)}), "unknown jobs are acked")
	assert.True(t, c.process(ctx, delivery{id: "3", data: []byte(`{not json`)}), "malformed jobs are acked")

	trips.err = errors.New("database unavailable")
	assert.False(t, c.process(ctx, delivery{id: "4", orderingKey: "trp_1", attempt: 2, data: stop}), "failures are nacked")

	assert.Equal(t, map[string]int64{
		"stop_trip/done":       1,
		"health_check/dropped": 1,
		"unknown/dropped":      1,
		"stop_trip/retry":      1,
	}, jobCounts(t, reader))
}

func TestConsumer_WarnsOnForeignOrderingKey(t *testing.T) {
	var logs bytes.Buffer
	c, _ := newTestConsumer(t, newFakeTrips(), &logs)

	c.process(context.Background(), delivery{
		id:          "1",
		orderingKey: "trp_2",
		published:   time.Now(),
		data:        []byte(`{"job_type":"stop_trip","trip_id":"trp_1"}`),
	})
	assert.Contains(t, logs.String(), "job ordering key does not match its trip")

	logs.Reset()
	c.process(context.Background(), delivery{
		id:          "2",
		orderingKey: "trp_1",
		data:        []byte(`{"job_type":"stop_trip","trip_id":"trp_1"}`),
	})
	assert.NotContains(t, logs.String(), "ordering key")
}

func TestConsumer_WarnsOnLateDelivery(t *testing.T) {
	var logs bytes.Buffer
	c, _ := newTestConsumer(t, newFakeTrips(), &logs)

	c.process(context.Background(), delivery{
		id:          "1",
		orderingKey: "trp_1",
		published:   time.Now().Add(-5 * time.Minute),
		data:        []byte(`{"job_type":"stop_trip","trip_id":"trp_1"}`),
	})
	assert.Contains(t, logs.String(), "job delivered late")
}

func TestConsumer_MaxOutstanding(t *testing.T) {
	c := &Consumer{}
	assert.Equal(t, 100, c.maxOutstanding(ConsumerConfig{}))
	assert.Equal(t, 8, c.maxOutstanding(ConsumerConfig{MaxOutstanding: 8}))
}
