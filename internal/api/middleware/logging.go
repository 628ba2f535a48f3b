package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger returns a middleware that writes one structured line per request.
// Server errors log at error level, client errors at warn and the ops
// checks at debug so they do not flood the output.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			evt := requestEvent(log, r, rec.status)
			if id := tripID(r); id != "" {
				evt = evt.Str("trip_id", id)
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				evt = evt.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}

			evt.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", rec.status).
				Int64("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}

func requestEvent(log zerolog.Logger, r *http.Request, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case strings.HasPrefix(r.URL.Path, "/v1/ops/"):
		return log.Debug()
	default:
		return log.Info()
	}
}
