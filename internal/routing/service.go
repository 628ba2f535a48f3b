package routing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long a response is served without asking the provider
	// (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL is how long a response may stand in for a failing
	// provider (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// OriginGridSize is the cache cell size in degrees for the origin
	// (default: 0.0005, about 55m).
	OriginGridSize float64

	// StopGridSize is the cache cell size in degrees for waypoints and the
	// destination (default: 0.005, about 550m).
	StopGridSize float64

	// CleanupInterval is the minimum time between sweeps of dead entries
	// (default: 5 minutes).
	CleanupInterval time.Duration

	Metrics        MetricsRecorder
	TracerProvider trace.TracerProvider
}

// Service fronts a Provider with a response cache. Concurrent identical
// misses share one provider call.
type Service struct {
	provider Provider
	logger   zerolog.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer
	cache    *directionsCache
	flights  singleflight.Group
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	cache := &directionsCache{
		ttl:        orDefault(cfg.CacheTTL, 5*time.Minute),
		staleTTL:   orDefault(cfg.StaleIfErrorTTL, 15*time.Minute),
		originGrid: orDefault(cfg.OriginGridSize, 0.0005),
		stopGrid:   orDefault(cfg.StopGridSize, 0.005),
		sweepEvery: orDefault(cfg.CleanupInterval, 5*time.Minute),
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
	if cache.staleTTL < cache.ttl {
		cache.staleTTL = cache.ttl
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger.With().Str("component", "routing").Str("provider", cfg.Provider.Name()).Logger(),
		metrics:  metrics,
		tracer:   tp.Tracer(instrumentationName),
		cache:    cache,
	}
}

func orDefault[T time.Duration | float64](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// GetDirections returns routes through the request's coordinates. A fresh
// cached response is returned unless SkipCache is set. When the provider
// fails, a response younger than StaleIfErrorTTL for the same cells is
// served instead.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := req.Validate(s.provider.Name()); err != nil {
		return nil, err
	}

	name := s.provider.Name()
	key := s.cache.key(req)
	if req.SkipCache {
		s.metrics.RecordCacheLookup(ctx, name, string(cacheBypass))
	} else if resp, ok := s.cache.fresh(key); ok {
		s.metrics.RecordCacheLookup(ctx, name, string(cacheHit))
		s.logger.Debug().Str("cache_key", key).Msg("directions cache hit")
		return resp, nil
	} else {
		s.metrics.RecordCacheLookup(ctx, name, string(cacheMiss))
	}

	// The shared call outlives any single caller so one canceled request
	// does not fail the others waiting on it. The provider bounds it with
	// its own timeout.
	flight := s.flights.DoChan(key, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx), req, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return s.fallback(ctx, key, res.Err)
		}
		return res.Val.(*DirectionsResponse), nil
	}
}

func (s *Service) fetch(ctx context.Context, req DirectionsRequest, key string) (*DirectionsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "routing.directions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("routing.provider", s.provider.Name()),
			attribute.String("routing.profile", string(req.Profile)),
			attribute.Int("routing.waypoints", len(req.Waypoints)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := s.provider.GetDirections(ctx, req)
	elapsed := time.Since(start)
	s.metrics.RecordRequest(ctx, s.provider.Name(), elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider request failed")
		s.logger.Error().Ctx(ctx).Err(err).
			Str("profile", string(req.Profile)).
			Int("waypoints", len(req.Waypoints)).
			Dur("duration", elapsed).
			Msg("directions request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("routing.routes", len(resp.Routes)))

	if removed := s.cache.put(key, resp); removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("swept expired directions")
	}
	return resp, nil
}

func (s *Service) fallback(ctx context.Context, key string, err error) (*DirectionsResponse, error) {
	if errors.Is(err, ErrNoRouteFound) || errors.Is(err, ErrInvalidCoordinates) {
		return nil, err
	}
	entry, ok := s.cache.stale(key)
	if !ok {
		return nil, err
	}
	s.metrics.RecordCacheLookup(ctx, s.provider.Name(), string(cacheStale))
	s.logger.Warn().Ctx(ctx).Err(err).
		Str("cache_key", key).
		Time("fetched_at", entry.fetchedAt).
		Msg("serving stale directions after provider error")
	return entry.response, nil
}

// InvalidateCache drops every cached response.
func (s *Service) InvalidateCache() {
	s.cache.clear()
}

// CacheStats reports the cache contents.
func (s *Service) CacheStats() CacheStats {
	st := s.cache.stats()
	st.Provider = s.provider.Name()
	return st
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
