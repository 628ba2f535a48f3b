package models

import "encoding/json"

// TripStartRequest is the request body for starting a trip. Either Route or
// Origin and Destination must be set.
type TripStartRequest struct {
	// Route is a GeoJSON FeatureCollection with one LineString feature per step.
	Route json.RawMessage `json:"route,omitempty"`

	Origin      *Point  `json:"origin,omitempty"`
	Waypoints   []Point `json:"waypoints,omitempty" validate:"max=23,dive"`
	Destination *Point  `json:"destination,omitempty"`
	Profile     string  `json:"profile,omitempty" validate:"omitempty,oneof=foot-walking cycling-regular driving-car"`

	// Simulate drives the trip along its own route instead of waiting for fixes.
	Simulate bool `json:"simulate,omitempty"`
	// SimulationSpeed is the simulated speed in meters per second.
	SimulationSpeed float64 `json:"simulationSpeed,omitempty" validate:"gte=0,lte=100"`
}

// LocationFix is a single location report from a client.
type LocationFix struct {
	Lat      float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon      float64   `json:"lon" validate:"gte=-180,lte=180"`
	Accuracy float64   `json:"accuracy,omitempty" validate:"gte=0"`
	Speed    float64   `json:"speed,omitempty" validate:"gte=0"`
	Bearing  float64   `json:"bearing,omitempty" validate:"gte=0,lt=360"`
	Time     Timestamp `json:"time"`
	Provider string    `json:"provider,omitempty" validate:"max=32"`
}

// LocationBatchRequest is the request body for posting fixes. Fixes are
// processed in the order given.
type LocationBatchRequest struct {
	Locations []LocationFix `json:"locations" validate:"required,min=1,max=100,dive"`
}

// LocationBatchResponse acknowledges queued fixes.
type LocationBatchResponse struct {
	TripID   string `json:"tripId"`
	Accepted int    `json:"accepted"`
}

// Trip is a navigation trip with its latest progress.
type Trip struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Profile      string       `json:"profile,omitempty"`
	RouteID      string       `json:"routeId"`
	Simulated    bool         `json:"simulated"`
	OffRoute     bool         `json:"offRoute"`
	RerouteCount int          `json:"rerouteCount"`
	Progress     TripProgress `json:"progress"`
	LastLocation *Point       `json:"lastLocation,omitempty"`
	CreatedAt    Timestamp    `json:"createdAt"`
	UpdatedAt    Timestamp    `json:"updatedAt"`
}

// TripProgress describes where the traveler is along the route.
type TripProgress struct {
	Generation            uint64      `json:"generation"`
	LegIndex              int         `json:"legIndex"`
	StepIndex             int         `json:"stepIndex"`
	DistanceRemaining     float64     `json:"distanceRemaining"`
	DistanceTraveled      float64     `json:"distanceTraveled"`
	StepDistanceRemaining float64     `json:"stepDistanceRemaining"`
	FractionTraveled      float64     `json:"fractionTraveled"`
	DurationRemaining     float64     `json:"durationRemainingSeconds"`
	RemainingWaypoints    int         `json:"remainingWaypoints"`
	Arrived               bool        `json:"arrived"`
	SnappedLocation       *Point      `json:"snappedLocation,omitempty"`
	CurrentStep           *StepInfo   `json:"currentStep,omitempty"`
	UpcomingStep          *StepInfo   `json:"upcomingStep,omitempty"`
	Milestones            []Milestone `json:"milestones,omitempty"`
}

// StepInfo summarizes a route step.
type StepInfo struct {
	Name           string  `json:"name,omitempty"`
	Instruction    string  `json:"instruction,omitempty"`
	ManeuverType   string  `json:"maneuverType"`
	Modifier       string  `json:"modifier,omitempty"`
	RoundaboutExit int     `json:"roundaboutExit,omitempty"`
	Distance       float64 `json:"distance"`
	Location       Point   `json:"location"`
}

// Milestone is an announcement fired by the latest processed fix.
type Milestone struct {
	Kind                  string  `json:"kind"`
	Level                 string  `json:"level"`
	LegIndex              int     `json:"legIndex"`
	StepIndex             int     `json:"stepIndex"`
	Instruction           string  `json:"instruction,omitempty"`
	StepDistanceRemaining float64 `json:"stepDistanceRemaining"`
}
