package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/breatheroute/navcore/internal/api/middleware"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			return sum.DataPoints
		}
	}
	return nil
}

func TestMetrics_RecordsByRoutePattern(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := middleware.NewMetrics(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Post("/v1/trips/{tripId}/locations", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/trips/{tripId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"trp_1", "trp_2", "trp_3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/locations", http.NoBody))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/trips/trp_9", http.NoBody))

	points := collectSums(t, reader, "http.server.request.total")
	require.Len(t, points, 2)

	counts := map[string]int64{}
	for _, p := range points {
		route, ok := p.Attributes.Value(attribute.Key("http.route"))
		require.True(t, ok)
		counts[route.AsString()] += p.Value

		failed, ok := p.Attributes.Value(attribute.Key("error"))
		require.True(t, ok)
		assert.Equal(t, route.AsString() == "/v1/trips/{tripId}", failed.AsBool())
	}
	assert.Equal(t, map[string]int64{
		"/v1/trips/{tripId}/locations": 3,
		"/v1/trips/{tripId}":           1,
	}, counts)
}

func TestMetrics_InFlightReturnsToZero(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := middleware.NewMetrics(mp)
	require.NoError(t, err)

	var during int64
	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for _, p := range collectSums(t, reader, "http.server.active_requests") {
			during += p.Value
		}
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, int64(1), during)

	var after int64
	for _, p := range collectSums(t, reader, "http.server.active_requests") {
		after += p.Value
	}
	assert.Equal(t, int64(0), after)
}

func TestNewMetrics_GlobalProvider(t *testing.T) {
	metrics, err := middleware.NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}
