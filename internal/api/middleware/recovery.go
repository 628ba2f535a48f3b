package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/api/models"
)

// Recovery answers a panicking handler with a 500 problem, unless the
// handler already started its response. The panic is logged with its stack
// and recorded on the request span. http.ErrAbortHandler is re-raised so the
// server aborts the connection.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := record(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", v)
				}
				span := trace.SpanFromContext(r.Context())
				span.RecordError(err, trace.WithStackTrace(true))
				span.SetStatus(codes.Error, "panic")

				log.Error().
					Err(err).
					Str("request_id", GetRequestID(r.Context())).
					Str("trip_id", tripID(r)).
					Bool("response_started", rec.wroteHeader).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !rec.wroteHeader {
					writeProblem(rec, r, models.KindInternal, "an unexpected error occurred")
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
