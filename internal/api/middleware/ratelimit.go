package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/breatheroute/navcore/internal/api/models"
)

// RateLimitConfig is a request budget per window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// PerMinute returns a budget of n requests a minute.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

var (
	// ExpensiveRateLimit covers calls that may reach the routing backend.
	ExpensiveRateLimit = PerMinute(30)

	// LocationRateLimit covers location uploads for one trip. A device
	// batching once a second stays well inside it.
	LocationRateLimit = PerMinute(600)

	// StandardRateLimit covers the remaining trip endpoints.
	StandardRateLimit = PerMinute(100)
)

// RateLimitByIP limits by client address as resolved by chi's RealIP.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, httprate.KeyByRealIP)
}

// RateLimitByClient limits by authenticated client, falling back to the
// address for anonymous requests. A phone moving between networks keeps
// one budget.
func RateLimitByClient(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, clientKey)
}

// RateLimitByTrip limits per client and trip, so one runaway trip cannot
// starve the uploads of a client's other trips. It must sit on a route with
// a {tripId} parameter.
func RateLimitByTrip(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg, clientKey, func(r *http.Request) (string, error) {
		return "trip:" + tripID(r), nil
	})
}

func limit(cfg RateLimitConfig, keys ...httprate.KeyFunc) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			writeProblem(w, r, models.KindTooManyRequests, "rate limit exceeded, retry later")
		}),
	)
}

func clientKey(r *http.Request) (string, error) {
	if id := GetClientID(r.Context()); id != "" {
		return "client:" + id, nil
	}
	return httprate.KeyByRealIP(r)
}
