// Package app assembles the trip pipeline shared by the API server and the
// fix worker: storage, routing backend and the trip service.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/database"
	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/routing"
	"github.com/breatheroute/navcore/internal/routing/openrouteservice"
	"github.com/breatheroute/navcore/internal/telemetry"
	"github.com/breatheroute/navcore/internal/trip"
)

// Components are the long-lived pieces built from configuration.
type Components struct {
	Trips    *trip.Service
	Registry *resilience.Registry

	pool *pgxpool.Pool
}

// Close releases the database pool. Shut the trip service down first.
func (c *Components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Build connects to Postgres, prepares the trip schema and wires the trip
// service to the configured routing backend.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, tp *telemetry.Provider) (*Components, error) {
	metrics, err := trip.NewMetrics(tp.MeterProvider())
	if err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	repo := trip.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trip schema: %w", err)
	}

	registry := resilience.NewRegistry()
	router, err := Routing(cfg, log, tp, registry)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Components{
		Trips:    trip.NewService(TripConfig(cfg, repo, router, log, metrics)),
		Registry: registry,
		pool:     pool,
	}, nil
}

// TripConfig maps navigation settings onto the trip service.
func TripConfig(cfg config.Config, repo trip.Repository, router trip.Router, log zerolog.Logger, metrics *trip.Metrics) trip.ServiceConfig {
	return trip.ServiceConfig{
		Repository: repo,
		Router:     router,
		Logger:     log,
		Metrics:    metrics,
		Session: trip.SessionConfig{
			AccuracyThreshold: cfg.Navigation.AccuracyThreshold,
			Progress:          cfg.Navigation.Progress,
			OffRoute:          cfg.Navigation.OffRoute,
			QueueSize:         cfg.Navigation.QueueSize,
		},
		Replay:             cfg.Navigation.Replay,
		Profile:            routing.RouteProfile(cfg.Routing.Profile),
		DisableAutoReroute: !cfg.Navigation.AutoReroute,
		RerouteTimeout:     cfg.Navigation.RerouteTimeout,
	}
}

// Routing builds the cached ORS routing service. Without an API key it
// returns a nil router: trips then need a supplied route and cannot reroute.
func Routing(cfg config.Config, log zerolog.Logger, tp *telemetry.Provider, registry *resilience.Registry) (trip.Router, error) {
	if cfg.Routing.ORSAPIKey == "" {
		log.Warn().Msg("no routing backend configured, trips need a supplied route and cannot reroute")
		return nil, nil
	}

	metrics, err := routing.NewMetrics(tp.MeterProvider())
	if err != nil {
		return nil, err
	}
	svc := routing.NewService(routing.ServiceConfig{
		Provider: openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:         cfg.Routing.ORSAPIKey,
			BaseURL:        cfg.Routing.BaseURL,
			Timeout:        cfg.Routing.Timeout,
			Registry:       registry,
			TracerProvider: tp.TracerProvider(),
			Logger:         log,
		}),
		Logger:         log,
		CacheTTL:       cfg.Routing.CacheTTL,
		Metrics:        metrics,
		TracerProvider: tp.TracerProvider(),
	})
	log.Info().Str("provider", svc.ProviderName()).Msg("routing backend ready")
	return svc, nil
}
