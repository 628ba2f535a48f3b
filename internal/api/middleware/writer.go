package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/breatheroute/navcore/internal/api/models"
)

// statusRecorder captures the status code and body size written by the
// next handler. Logging, metrics and tracing share it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// routePattern returns the chi pattern that served r, for example
// "/v1/trips/{tripId}/locations". Trip IDs would otherwise explode the
// cardinality of metric and span names.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// tripID returns the {tripId} URL parameter when the route has one.
func tripID(r *http.Request) string {
	if chi.RouteContext(r.Context()) == nil {
		return ""
	}
	return chi.URLParam(r, "tripId")
}

// writeProblem answers r with a problem of kind k. The response package
// imports this one, so middleware writes problems directly.
func writeProblem(w http.ResponseWriter, r *http.Request, k models.ProblemKind, detail string) {
	p := k.New(GetRequestID(r.Context()), detail)
	p.Instance = r.URL.Path
	p.Write(w)
}
