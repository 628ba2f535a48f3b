// Package trip runs navigation sessions. Each active trip owns one
// single-writer pipeline that turns location fixes into progress snapshots,
// and the Service manages those sessions alongside their persisted records.
package trip

import (
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/routing"
)

// Errors returned by sessions and the trip service.
var (
	ErrTripNotFound     = errors.New("trip not found")
	ErrTripNotActive    = errors.New("trip is not active")
	ErrSessionClosed    = errors.New("navigation session is closed")
	ErrReplayAttached   = errors.New("navigation session already has a replay stream")
	ErrNoRouter         = errors.New("no routing backend configured")
	ErrNoRoute          = errors.New("routing backend returned no routes")
	ErrRerouteInFlight  = errors.New("reroute already in progress")
	ErrServiceShutdown  = errors.New("trip service is shutting down")
	ErrInvalidStartTrip = errors.New("either a route or an origin and destination is required")
)

// Status is the lifecycle state of a trip.
type Status string

// Trip statuses.
const (
	StatusActive   Status = "active"
	StatusOffRoute Status = "off_route"
	StatusArrived  Status = "arrived"
	StatusStopped  Status = "stopped"
)

// Trip is the persisted record of a navigation session.
type Trip struct {
	ID                string
	Status            Status
	Profile           routing.RouteProfile
	Route             *route.Route
	LegIndex          int
	StepIndex         int
	DistanceRemaining float64
	DistanceTraveled  float64
	OffRoute          bool
	RerouteCount      int
	Simulated         bool
	LastLocation      *orb.Point
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Live reports whether the trip may still receive fixes.
func (t *Trip) Live() bool {
	return t.Status == StatusActive || t.Status == StatusOffRoute
}

// StartRequest describes a new trip. Either Route is set, or Origin and
// Destination are routed through the configured backend.
type StartRequest struct {
	Route       *route.Route
	Origin      *routing.Coordinate
	Waypoints   []routing.Coordinate
	Destination *routing.Coordinate
	Profile     routing.RouteProfile

	// Simulate drives the route with a synthetic replay instead of live fixes.
	Simulate bool
	// SimulationSpeed is the simulated speed in meters per second.
	SimulationSpeed float64
}

// State is a trip together with its latest pipeline output. Latest is nil
// when the trip has no live session in this process.
type State struct {
	Trip   Trip
	Latest *Update
}
