package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/api/middleware"
)

func newTestTracerProvider(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func tripRouter(tp trace.TracerProvider, status int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(tp))
	r.Route("/v1/trips", func(r chi.Router) {
		r.Get("/{tripId}", func(w http.ResponseWriter, r *http.Request) {
			if !trace.SpanFromContext(r.Context()).SpanContext().IsValid() {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			w.WriteHeader(status)
		})
	})
	return r
}

func TestTracing_NamesSpanByRoute(t *testing.T) {
	sr, tp := newTestTracerProvider(t)

	h := tripRouter(tp, http.StatusOK)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/trips/trp_2", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for i, want := range []string{"trp_1", "trp_2"} {
		assert.Equal(t, "GET /v1/trips/{tripId}", spans[i].Name())
		assert.Equal(t, trace.SpanKindServer, spans[i].SpanKind())

		id, ok := spanAttr(spans[i], "trip.id")
		require.True(t, ok)
		assert.Equal(t, want, id.AsString())

		route, ok := spanAttr(spans[i], "http.route")
		require.True(t, ok)
		assert.Equal(t, "/v1/trips/{tripId}", route.AsString())

		reqID, ok := spanAttr(spans[i], "request.id")
		require.True(t, ok)
		assert.Contains(t, reqID.AsString(), "req_")
	}
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	sr, tp := newTestTracerProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	tripRouter(tp, http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
}

func TestTracing_Status(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   codes.Code
	}{
		{name: "ok", status: http.StatusOK, code: codes.Unset},
		{name: "client error", status: http.StatusNotFound, code: codes.Unset},
		{name: "server error", status: http.StatusServiceUnavailable, code: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tp := newTestTracerProvider(t)

			tripRouter(tp, tt.status).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/trips/trp_1", http.NoBody))

			spans := sr.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.code, spans[0].Status().Code)

			code, ok := spanAttr(spans[0], "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.status), code.AsInt64())
		})
	}
}

func TestTracing_WithoutRouter(t *testing.T) {
	sr, tp := newTestTracerProvider(t)

	handler := middleware.Tracing(tp)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/trips/trp_1", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "DELETE /v1/trips/trp_1", spans[0].Name())
	_, ok := spanAttr(spans[0], "trip.id")
	assert.False(t, ok)
}
