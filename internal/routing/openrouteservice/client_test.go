package openrouteservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/routing"
)

// fixtureServer answers every request with status and the named fixture,
// handing each decoded request body to inspect.
func fixtureServer(t *testing.T, status int, fixture string, inspect func(*http.Request, directionsBody)) *httptest.Server {
	t.Helper()
	var reply []byte
	if fixture != "" {
		var err error
		reply, err = os.ReadFile("testdata/" + fixture)
		require.NoError(t, err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body directionsBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})
}

func amsterdamToUtrecht(profile routing.RouteProfile) routing.DirectionsRequest {
	return routing.DirectionsRequest{
		Origin:      routing.Coordinate{Lat: 52.3676, Lon: 4.9041},
		Destination: routing.Coordinate{Lat: 52.0907, Lon: 5.1214},
		Profile:     profile,
	}
}

func TestGetDirections_Success(t *testing.T) {
	server := fixtureServer(t, http.StatusOK, "directions_response.json", func(r *http.Request, body directionsBody) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/directions/cycling-regular", r.URL.Path)
		assert.Equal(t, "mock123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		assert.Equal(t, []orb.Point{{4.9041, 52.3676}, {5.1214, 52.0907}}, body.Coordinates)
		if assert.NotNil(t, body.Alternatives) {
			assert.Equal(t, 3, body.Alternatives.TargetCount)
		}
		assert.True(t, body.Instructions)
		assert.Equal(t, "en", body.Language)
	})

	resp, err := newTestClient(server).GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))
	require.NoError(t, err)

	assert.Equal(t, ProviderName, resp.Provider)
	require.Len(t, resp.Routes, 2)

	rt := resp.Routes[0]
	assert.InDelta(t, 1099.6, rt.DistanceMeters, 1e-9)
	assert.InDelta(t, 220.4, rt.DurationSeconds, 1e-9)
	assert.NotEmpty(t, rt.GeometryPolyline)
	assert.Equal(t, &orb.Bound{Min: orb.Point{4.9, 52.37}, Max: orb.Point{4.908, 52.375}}, rt.Bounds)
	require.Len(t, rt.Legs, 1)

	instructions := rt.Instructions()
	require.Len(t, instructions, 3)
	assert.Equal(t, [2]int{1, 2}, instructions[1].WayPoints)
	assert.Equal(t, "Oosterdokskade", instructions[1].Name)
	assert.Empty(t, instructions[2].Name, "unnamed way")
	assert.Equal(t, "via Prins Hendrikkade", rt.Summary)

	assert.Empty(t, resp.Routes[1].Summary, "no named street")
}

func TestGetDirections_Waypoints(t *testing.T) {
	server := fixtureServer(t, http.StatusOK, "waypoint_response.json", func(r *http.Request, body directionsBody) {
		assert.Equal(t, "/v2/directions/driving-car", r.URL.Path)
		assert.Equal(t, []orb.Point{{4.9, 52.37}, {4.908, 52.375}, {4.908, 52.38}}, body.Coordinates)
		assert.Nil(t, body.Alternatives, "alternatives are not requested with waypoints")
	})

	resp, err := newTestClient(server).GetDirections(context.Background(), routing.DirectionsRequest{
		Origin:      routing.Coordinate{Lat: 52.37, Lon: 4.9},
		Waypoints:   []routing.Coordinate{{Lat: 52.375, Lon: 4.908}},
		Destination: routing.Coordinate{Lat: 52.38, Lon: 4.908},
		Profile:     routing.ProfileDrive,
	})
	require.NoError(t, err)
	require.Len(t, resp.Routes, 1)
	require.Len(t, resp.Routes[0].Legs, 2)

	nav, err := resp.Routes[0].NavigationRoute("rte_ors")
	require.NoError(t, err)
	require.Len(t, nav.Legs, 2)
	assert.Equal(t, 5, nav.NumSteps())
	assert.Equal(t, "right", nav.Legs[0].Steps[1].Maneuver.Modifier)
}

func TestGetDirections_Language(t *testing.T) {
	server := fixtureServer(t, http.StatusOK, "directions_response.json", func(_ *http.Request, body directionsBody) {
		assert.Equal(t, "nl", body.Language)
	})
	client := NewClient(ClientConfig{
		APIKey:     "mock123",
		BaseURL:    server.URL,
		Language:   "nl",
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	_, err := client.GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileWalk))
	require.NoError(t, err)
}

func TestGetDirections_ErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantErr  error
	}{
		{"route not found", http.StatusNotFound, `{"error":{"code":2009,"message":"Route could not be found"}}`, "NO_ROUTE", routing.ErrNoRouteFound},
		{"point not routable", http.StatusNotFound, `{"error":{"code":2010,"message":"Could not find routable point"}}`, "NO_ROUTE", routing.ErrNoRouteFound},
		{"route too long", http.StatusBadRequest, `{"error":{"code":2004,"message":"Request parameters exceed the server configuration limits"}}`, "LIMIT_EXCEEDED", routing.ErrNoRouteFound},
		{"invalid parameter", http.StatusBadRequest, `{"error":{"code":2003,"message":"Parameter 'profile' has incorrect value"}}`, "BAD_REQUEST", routing.ErrInvalidCoordinates},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Rate limit exceeded"}`, "RATE_LIMIT", routing.ErrRateLimitExceeded},
		{"bad key", http.StatusForbidden, `{"error":"Access to this API has been disallowed"}`, "FORBIDDEN", routing.ErrProviderUnavailable},
		{"server error", http.StatusInternalServerError, `{"error":{"code":2099,"message":"Unknown internal error"}}`, "HTTP_500", routing.ErrProviderUnavailable},
		{"html gateway page", http.StatusBadGateway, `<html>bad gateway</html>`, "HTTP_502", routing.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))

			var routingErr *routing.Error
			require.ErrorAs(t, err, &routingErr)
			assert.Equal(t, ProviderName, routingErr.Provider)
			assert.Equal(t, tt.wantCode, routingErr.Code)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotEmpty(t, routingErr.Message)
		})
	}
}

func TestGetDirections_NoRouteFixture(t *testing.T) {
	server := fixtureServer(t, http.StatusNotFound, "error_response.json", nil)

	_, err := newTestClient(server).GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))

	assert.ErrorIs(t, err, routing.ErrNoRouteFound)
	assert.ErrorContains(t, err, "Unable to find a route between points")
}

func TestGetDirections_EmptyAndMalformedReplies(t *testing.T) {
	for name, body := range map[string]string{
		"no routes": `{"routes":[]}`,
		"not json":  `{"routes":`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := newTestClient(server).GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))

			var routingErr *routing.Error
			require.ErrorAs(t, err, &routingErr)
		})
	}
}

func TestGetDirections_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		req      routing.DirectionsRequest
		wantCode string
	}{
		{"origin latitude", routing.DirectionsRequest{Origin: routing.Coordinate{Lat: 91, Lon: 4.9}, Destination: routing.Coordinate{Lat: 52, Lon: 5.1}}, "INVALID_ORIGIN"},
		{"origin latitude negative", routing.DirectionsRequest{Origin: routing.Coordinate{Lat: -91, Lon: 4.9}, Destination: routing.Coordinate{Lat: 52, Lon: 5.1}}, "INVALID_ORIGIN"},
		{"destination longitude", routing.DirectionsRequest{Origin: routing.Coordinate{Lat: 52, Lon: 4.9}, Destination: routing.Coordinate{Lat: 52, Lon: 181}}, "INVALID_DESTINATION"},
		{"waypoint", routing.DirectionsRequest{
			Origin:      routing.Coordinate{Lat: 52.37, Lon: 4.9},
			Waypoints:   []routing.Coordinate{{Lat: 95, Lon: 4.9}},
			Destination: routing.Coordinate{Lat: 52.38, Lon: 4.908},
		}, "INVALID_WAYPOINT"},
	}

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer server.Close()
	client := newTestClient(server)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Profile = routing.ProfileBike
			_, err := client.GetDirections(context.Background(), tt.req)

			var routingErr *routing.Error
			require.ErrorAs(t, err, &routingErr)
			assert.Equal(t, tt.wantCode, routingErr.Code)
			assert.ErrorIs(t, err, routing.ErrInvalidCoordinates)
		})
	}
	assert.Zero(t, calls)
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestGetDirections_TransportErrors(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		client := NewClient(ClientConfig{
			HTTPClient: doerFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") }),
			Logger:     zerolog.Nop(),
		})
		_, err := client.GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))

		var routingErr *routing.Error
		require.ErrorAs(t, err, &routingErr)
		assert.Equal(t, "REQUEST_FAILED", routingErr.Code)
		assert.ErrorIs(t, err, routing.ErrProviderUnavailable)
		assert.True(t, routingErr.IsRetryable())
	})

	t.Run("circuit open", func(t *testing.T) {
		client := NewClient(ClientConfig{
			HTTPClient: doerFunc(func(*http.Request) (*http.Response, error) { return nil, resilience.ErrCircuitOpen }),
			Logger:     zerolog.Nop(),
		})
		_, err := client.GetDirections(context.Background(), amsterdamToUtrecht(routing.ProfileBike))

		var routingErr *routing.Error
		require.ErrorAs(t, err, &routingErr)
		assert.Equal(t, "CIRCUIT_OPEN", routingErr.Code)
		assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	})

	t.Run("caller canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := NewClient(ClientConfig{
			HTTPClient: doerFunc(func(*http.Request) (*http.Response, error) {
				cancel()
				return nil, context.Canceled
			}),
			Logger: zerolog.Nop(),
		})
		_, err := client.GetDirections(ctx, amsterdamToUtrecht(routing.ProfileBike))
		assert.ErrorIs(t, err, context.Canceled)

		var routingErr *routing.Error
		assert.False(t, errors.As(err, &routingErr))
	})
}

func TestNewClient_DefaultsToResilientClient(t *testing.T) {
	registry := resilience.NewRegistry()
	client := NewClient(ClientConfig{APIKey: "key", Registry: registry, Logger: zerolog.Nop()})

	assert.IsType(t, &resilience.Client{}, client.http)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	_, ok := registry.Health(ProviderName)
	assert.True(t, ok, "client registers for readiness")
}

func TestClient_Identity(t *testing.T) {
	client := NewClient(ClientConfig{Logger: zerolog.Nop()})

	assert.Equal(t, ProviderName, client.Name())
	assert.ElementsMatch(t,
		[]routing.RouteProfile{routing.ProfileWalk, routing.ProfileBike, routing.ProfileDrive},
		client.SupportedProfiles())
}

func TestSummarize(t *testing.T) {
	got := summarize([]routing.Instruction{
		{Name: "Damrak", DistanceMeters: 300},
		{Name: "Rokin", DistanceMeters: 400},
		{Name: "Damrak", DistanceMeters: 200},
		{DistanceMeters: 900},
	})
	assert.Equal(t, "via Damrak", got)
	assert.Empty(t, summarize(nil))
}
