package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens a server span per request with otelhttp, continuing any
// trace propagated by the caller. A nil provider uses the global one.
//
// The span is renamed once chi has routed the request, so all requests for
// one endpoint share a name such as "POST /v1/trips/{tripId}/locations".
func Tracing(tp trace.TracerProvider) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method }),
		// Request metrics come from Metrics.
		otelhttp.WithMeterProvider(noop.NewMeterProvider()),
	}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}

	return func(next http.Handler) http.Handler {
		annotate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := record(w)
			next.ServeHTTP(rec, r)

			span := trace.SpanFromContext(r.Context())
			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", rec.status),
			)
			if id := GetRequestID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}
			if id := tripID(r); id != "" {
				span.SetAttributes(attribute.String("trip.id", id))
			}
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
		})
		return otelhttp.NewHandler(annotate, "http.server", opts...)
	}
}
