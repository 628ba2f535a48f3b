// Package api provides the HTTP API for the navigation service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/api/handler"
	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// RequireTLS rejects requests a proxy reports as plain HTTP.
	RequireTLS bool

	// Tokens verifies bearer tokens on the trip endpoints.
	Tokens middleware.TokenVerifier
	Trips  handler.TripService

	// Registry reports provider health on the readiness endpoint.
	Registry *resilience.Registry
	Sessions handler.SessionCounter

	// TripRateLimit is the per-client request budget per minute for trip
	// endpoints. Zero uses middleware.StandardRateLimit.
	TripRateLimit int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "navcore-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)                   // Generate/propagate request ID first
	r.Use(middleware.Tracing(cfg.TracerProvider)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Problem(w, r, models.KindNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Problem(w, r, models.KindMethodNotAllowed, r.Method+" is not allowed here")
	})

	opsHandler := handler.NewOpsHandler(serviceName, cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Sessions)

	tripLimit := middleware.StandardRateLimit
	if cfg.TripRateLimit > 0 {
		tripLimit = middleware.PerMinute(cfg.TripRateLimit)
	}

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		if cfg.Trips == nil || cfg.Tokens == nil {
			return
		}
		tripHandler := handler.NewTripHandler(cfg.Trips, cfg.Logger)

		// Trip endpoints (authenticated) - client-based rate limiting
		r.Route("/trips", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Tokens))
			r.Use(middleware.RequireJSON)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByClient(tripLimit))

				// Starting and rerouting may call the routing backend
				r.With(middleware.RateLimitByClient(middleware.ExpensiveRateLimit)).Post("/", tripHandler.StartTrip)
				r.With(middleware.RateLimitByClient(middleware.ExpensiveRateLimit)).Post("/{tripId}/reroute", tripHandler.RerouteTrip)

				r.Get("/{tripId}", tripHandler.GetTrip)
				r.Delete("/{tripId}", tripHandler.StopTrip)
				r.Get("/{tripId}/route", tripHandler.GetTripRoute)
			})

			// Location uploads are budgeted per trip
			r.With(middleware.RateLimitByTrip(middleware.LocationRateLimit)).Post("/{tripId}/locations", tripHandler.PostLocations)
		})
	})

	return r
}
