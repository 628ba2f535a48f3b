package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/routing"
	"github.com/breatheroute/navcore/internal/telemetry"
	"github.com/breatheroute/navcore/internal/trip"
)

func TestRouting_WithoutKey(t *testing.T) {
	router, err := Routing(config.Default(), zerolog.Nop(), &telemetry.Provider{}, resilience.NewRegistry())
	require.NoError(t, err)
	assert.Nil(t, router)
}

func TestRouting_WithKey(t *testing.T) {
	cfg := config.Default()
	cfg.Routing.ORSAPIKey = "test-key"

	router, err := Routing(cfg, zerolog.Nop(), &telemetry.Provider{}, resilience.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, router)

	svc, ok := router.(*routing.Service)
	require.True(t, ok)
	assert.Equal(t, "openrouteservice", svc.ProviderName())
}

func TestTripConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Navigation.AutoReroute = false
	cfg.Navigation.AccuracyThreshold = 35
	cfg.Routing.Profile = "cycling-regular"

	repo := trip.NewInMemoryRepository()
	got := TripConfig(cfg, repo, nil, zerolog.Nop(), nil)

	assert.Same(t, repo, got.Repository)
	assert.Nil(t, got.Router)
	assert.True(t, got.DisableAutoReroute)
	assert.Equal(t, 35.0, got.Session.AccuracyThreshold)
	assert.Equal(t, cfg.Navigation.QueueSize, got.Session.QueueSize)
	assert.Equal(t, cfg.Navigation.OffRoute, got.Session.OffRoute)
	assert.Equal(t, routing.RouteProfile("cycling-regular"), got.Profile)
	assert.Equal(t, cfg.Navigation.RerouteTimeout, got.RerouteTimeout)
}
