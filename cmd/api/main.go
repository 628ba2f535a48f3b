// Package main provides the entrypoint for the navigation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api"
	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/app"
	"github.com/breatheroute/navcore/internal/auth"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "navcore-api"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger().
		Hook(telemetry.TraceHook{})

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("navigation API failed")
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting navigation API")

	cfg, err := config.Load(os.Getenv("NAV_CONFIG"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Error().Err(err).Msg("failed to flush telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("exporting telemetry")
	}

	httpMetrics, err := middleware.NewMetrics(tp.MeterProvider())
	if err != nil {
		return err
	}

	c, err := app.Build(ctx, cfg, log, tp)
	if err != nil {
		return err
	}
	defer c.Close()
	trips := c.Trips

	if cfg.Auth.InsecureKey {
		log.Warn().Msg("using the development JWT signing key")
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Version:     Version,
			BuildTime:   BuildTime,
			Logger:      log,
			ServiceName: serviceName,
			Metrics:     httpMetrics,
			Tokens: auth.NewTokens(auth.Config{
				SigningKey: cfg.Auth.JWTSigningKey,
				Issuer:     cfg.Auth.Issuer,
				Audience:   cfg.Auth.Audience,
				Leeway:     cfg.Auth.Leeway,
			}),
			Trips:          trips,
			Registry:       c.Registry,
			Sessions:       trips,
			TripRateLimit:  cfg.Navigation.RateLimit,
			TracerProvider: tp.TracerProvider(),
			RequireTLS:     cfg.RequireTLS,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop taking requests first, then end sessions so their last snapshots
	// are written.
	return errors.Join(
		server.Shutdown(shutdownCtx),
		trips.Shutdown(shutdownCtx),
	)
}
