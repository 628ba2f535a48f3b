// Package routing fetches directions from an external routing backend. Trips
// use it to obtain the initial route and to reroute travelers who left it.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Provider computes directions. Implementations return ErrNoRouteFound,
// ErrInvalidCoordinates, ErrRateLimitExceeded or ErrProviderUnavailable,
// usually wrapped in an *Error.
type Provider interface {
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	Name() string
	SupportedProfiles() []RouteProfile
}

// RouteProfile selects the mode of transport.
type RouteProfile string

const (
	ProfileWalk  RouteProfile = "foot-walking"
	ProfileBike  RouteProfile = "cycling-regular"
	ProfileDrive RouteProfile = "driving-car"
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether c lies within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Point returns c in orb's [lon, lat] order.
func (c Coordinate) Point() orb.Point { return orb.Point{c.Lon, c.Lat} }

// CoordinateOf converts an orb point.
func CoordinateOf(p orb.Point) Coordinate { return Coordinate{Lat: p.Lat(), Lon: p.Lon()} }

// DirectionsRequest asks for routes from Origin through Waypoints, in order,
// to Destination.
type DirectionsRequest struct {
	Origin      Coordinate
	Waypoints   []Coordinate
	Destination Coordinate
	Profile     RouteProfile

	// MaxAlternatives caps extra routes (default: 2). Ignored with waypoints.
	MaxAlternatives int

	// SkipCache forces a provider call. The response is still cached for
	// stale-if-error. Reroutes set it because the origin moves continuously.
	SkipCache bool
}

// Coordinates returns origin, waypoints and destination in order.
func (r DirectionsRequest) Coordinates() []Coordinate {
	all := make([]Coordinate, 0, len(r.Waypoints)+2)
	all = append(all, r.Origin)
	all = append(all, r.Waypoints...)
	return append(all, r.Destination)
}

// Validate returns an *Error wrapping ErrInvalidCoordinates for the first
// coordinate outside WGS84 bounds.
func (r DirectionsRequest) Validate(provider string) error {
	all := r.Coordinates()
	for i, c := range all {
		if c.Valid() {
			continue
		}
		code, label := "INVALID_WAYPOINT", fmt.Sprintf("waypoint %d", i)
		if i == 0 {
			code, label = "INVALID_ORIGIN", "origin"
		} else if i == len(all)-1 {
			code, label = "INVALID_DESTINATION", "destination"
		}
		return &Error{
			Provider: provider,
			Code:     code,
			Message:  fmt.Sprintf("%s (%.6f, %.6f) is out of range", label, c.Lat, c.Lon),
			Err:      ErrInvalidCoordinates,
		}
	}
	return nil
}

// DirectionsResponse holds the primary route first, then alternatives.
type DirectionsResponse struct {
	Routes    []Route
	Provider  string
	FetchedAt time.Time
}

type Route struct {
	// GeometryPolyline is the whole route at precision 5.
	GeometryPolyline string

	DistanceMeters  float64
	DurationSeconds float64

	// Summary names the street the route follows longest, if any.
	Summary string

	// Bounds is nil when the provider sent none.
	Bounds *orb.Bound

	// Legs has one entry per pair of consecutive request coordinates.
	Legs []Leg
}

type Leg struct {
	DistanceMeters  float64
	DurationSeconds float64
	Instructions    []Instruction
}

// Instructions returns the instructions of all legs in order.
func (r *Route) Instructions() []Instruction {
	var out []Instruction
	for _, leg := range r.Legs {
		out = append(out, leg.Instructions...)
	}
	return out
}

// Instruction is one maneuver and the stretch of road that follows it.
type Instruction struct {
	Text            string
	Name            string
	DistanceMeters  float64
	DurationSeconds float64

	// Type is the provider's maneuver code.
	Type int
	// ExitNumber is the roundabout exit, or 0.
	ExitNumber int
	// WayPoints are the first and last index into the decoded geometry.
	WayPoints [2]int
}
