// Package main provides the entrypoint for the navigation job worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api/handler"
	"github.com/breatheroute/navcore/internal/app"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/telemetry"
	"github.com/breatheroute/navcore/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "navcore-worker"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger().
		Hook(telemetry.TraceHook{})

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("navigation worker failed")
	}
	log.Info().Msg("worker stopped")
}

func run(log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting navigation worker")

	cfg, err := config.Load(os.Getenv("NAV_CONFIG"))
	if err != nil {
		return err
	}
	if cfg.Worker.ProjectID == "" {
		return errors.New("GOOGLE_CLOUD_PROJECT is required")
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

	c, err := app.Build(ctx, cfg, log, tp)
	if err != nil {
		return err
	}
	defer c.Close()

	// Trips that were live when the previous worker stopped.
	resumed, err := c.Trips.ResumeActive(ctx, cfg.Worker.ResumeLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to resume active trips")
	}
	log.Info().Int("resumed", resumed).Msg("active trips resumed")

	jobs, err := worker.NewConsumer(ctx, worker.ConsumerConfig{
		ProjectID:     cfg.Worker.ProjectID,
		Subscription:  cfg.Worker.SubscriptionID,
		Jobs:          worker.NewJobHandler(c.Trips, log),
		Logger:        log,
		MeterProvider: tp.MeterProvider(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := jobs.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pubsub client")
		}
	}()

	// Same health endpoints as the API.
	ops := handler.NewOpsHandler(serviceName, Version, BuildTime, c.Registry, c.Trips)
	mux := chi.NewRouter()
	mux.Get("/health", ops.HealthCheck)
	mux.Get("/v1/ops/health", ops.HealthCheck)
	mux.Get("/v1/ops/ready", ops.ReadinessCheck)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	received := make(chan error, 1)
	go func() { received <- jobs.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-received:
		if err != nil {
			runErr = fmt.Errorf("pubsub receive: %w", err)
		}
	}
	stop()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return errors.Join(
		runErr,
		server.Shutdown(shutdownCtx),
		c.Trips.Shutdown(shutdownCtx),
	)
}
