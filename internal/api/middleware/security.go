package middleware

import (
	"net/http"
	"strings"

	"github.com/breatheroute/navcore/internal/api/models"
)

// securityHeaders are set on every response. The API serves JSON and
// GeoJSON only, so nothing may be framed, sniffed or scripted.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
	{"Cache-Control", "no-store"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders adds the fixed security headers, plus HSTS on requests
// that arrived over HTTPS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if isHTTPS(r) {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects requests that a proxy reports as plain HTTP. Requests
// with no X-Forwarded-Proto came straight to the server and pass, as do the
// ops checks that load balancers send over HTTP.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Forwarded-Proto") != "" && !isHTTPS(r) &&
				!strings.HasPrefix(r.URL.Path, "/v1/ops/") {
				writeProblem(w, r, models.KindTLSRequired, "this endpoint requires HTTPS")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isHTTPS reports whether r reached us, or the proxy in front of us, over TLS.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
