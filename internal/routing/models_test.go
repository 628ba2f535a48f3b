package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionsRequest_Coordinates(t *testing.T) {
	req := DirectionsRequest{
		Origin:      Coordinate{Lat: 1, Lon: 1},
		Waypoints:   []Coordinate{{Lat: 2, Lon: 2}, {Lat: 3, Lon: 3}},
		Destination: Coordinate{Lat: 4, Lon: 4},
	}
	assert.Equal(t, []Coordinate{{1, 1}, {2, 2}, {3, 3}, {4, 4}}, req.Coordinates())
}

func TestDirectionsRequest_Validate(t *testing.T) {
	valid := DirectionsRequest{
		Origin:      Coordinate{Lat: 90, Lon: -180},
		Destination: Coordinate{Lat: -90, Lon: 180},
	}
	assert.NoError(t, valid.Validate("ors"))

	tests := []struct {
		req      DirectionsRequest
		wantCode string
		wantMsg  string
	}{
		{DirectionsRequest{Origin: Coordinate{Lat: 90.1}}, "INVALID_ORIGIN", "origin (90.100000, 0.000000)"},
		{DirectionsRequest{Destination: Coordinate{Lon: -180.1}}, "INVALID_DESTINATION", "destination"},
		{DirectionsRequest{Waypoints: []Coordinate{{}, {Lat: -91}}}, "INVALID_WAYPOINT", "waypoint 2"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			err := tt.req.Validate("ors")

			var routingErr *Error
			require.ErrorAs(t, err, &routingErr)
			assert.Equal(t, "ors", routingErr.Provider)
			assert.Equal(t, tt.wantCode, routingErr.Code)
			assert.Contains(t, routingErr.Message, tt.wantMsg)
			assert.ErrorIs(t, err, ErrInvalidCoordinates)
		})
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrProviderUnavailable, true},
		{ErrRateLimitExceeded, true},
		{fmt.Errorf("%w: dial tcp: connection refused", ErrProviderUnavailable), true},
		{ErrNoRouteFound, false},
		{ErrInvalidCoordinates, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			e := &Error{Provider: "ors", Message: "directions failed", Err: tt.err}
			assert.Equal(t, tt.want, e.IsRetryable())
			assert.Equal(t, "directions failed: "+tt.err.Error(), e.Error())
		})
	}
}
