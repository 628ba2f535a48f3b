// Package worker consumes navigation jobs from Pub/Sub and applies them to
// trips.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/trip"
)

// Job types.
const (
	JobLocationFix = "location_fix"
	JobReroute     = "reroute"
	JobStopTrip    = "stop_trip"
)

// Errors returned by the job handler.
var (
	ErrUnknownJob    = errors.New("unknown job type")
	ErrMalformedJob  = errors.New("malformed job message")
	ErrMissingTripID = errors.New("job has no trip id")
)

// TripService applies jobs to trips. *trip.Service implements it.
type TripService interface {
	SubmitFixes(ctx context.Context, tripID string, fixes []location.Fix) (int, error)
	Reroute(ctx context.Context, tripID string, r *route.Route) (*trip.State, error)
	Stop(ctx context.Context, tripID string) (*trip.Trip, error)
}

// JobMessage is the payload of a job message.
type JobMessage struct {
	JobType string `json:"job_type"`
	TripID  string `json:"trip_id"`

	// Fixes are queued in order for location_fix jobs.
	Fixes []FixMessage `json:"fixes,omitempty"`

	// Route is an optional GeoJSON route for reroute jobs. Without it the
	// route is fetched from the routing backend.
	Route json.RawMessage `json:"route,omitempty"`
}

// FixMessage is a location fix as published by devices.
type FixMessage struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy,omitempty"`
	Speed    float64   `json:"speed,omitempty"`
	Bearing  float64   `json:"bearing,omitempty"`
	Time     time.Time `json:"time"`
	Provider string    `json:"provider,omitempty"`
}

// JobHandler decodes job messages and applies them to the trip service.
type JobHandler struct {
	trips  TripService
	logger zerolog.Logger
	now    func() time.Time
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(trips TripService, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		trips:  trips,
		logger: logger,
		now:    time.Now,
	}
}

// Handle applies one job message. It returns the job type alongside any error.
func (h *JobHandler) Handle(ctx context.Context, data []byte) (string, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}

	switch msg.JobType {
	case JobLocationFix, JobReroute, JobStopTrip:
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
	if msg.TripID == "" {
		return msg.JobType, ErrMissingTripID
	}

	switch msg.JobType {
	case JobLocationFix:
		return msg.JobType, h.handleLocationFix(ctx, msg)
	case JobReroute:
		return msg.JobType, h.handleReroute(ctx, msg)
	default:
		return msg.JobType, h.handleStopTrip(ctx, msg)
	}
}

// Permanent reports whether redelivering a message that failed with err
// cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrUnknownJob) ||
		errors.Is(err, ErrMalformedJob) ||
		errors.Is(err, ErrMissingTripID) ||
		errors.Is(err, trip.ErrTripNotFound) ||
		errors.Is(err, trip.ErrTripNotActive)
}

func (h *JobHandler) handleLocationFix(ctx context.Context, msg JobMessage) error {
	if len(msg.Fixes) == 0 {
		return nil
	}

	now := h.now()
	fixes := make([]location.Fix, 0, len(msg.Fixes))
	for _, f := range msg.Fixes {
		ts := f.Time
		if ts.IsZero() {
			ts = now
		}
		provider := f.Provider
		if provider == "" {
			provider = location.ProviderGPS
		}
		fixes = append(fixes, location.Fix{
			Point:    orb.Point{f.Lon, f.Lat},
			Bearing:  f.Bearing,
			Speed:    f.Speed,
			Accuracy: f.Accuracy,
			Time:     ts,
			Provider: provider,
		})
	}

	n, err := h.trips.SubmitFixes(ctx, msg.TripID, fixes)
	if err != nil {
		return fmt.Errorf("submit fixes (%d of %d queued): %w", n, len(fixes), err)
	}

	h.logger.Debug().
		Str("trip_id", msg.TripID).
		Int("fixes", n).
		Msg("fixes queued")
	return nil
}

func (h *JobHandler) handleReroute(ctx context.Context, msg JobMessage) error {
	var r *route.Route
	if len(msg.Route) > 0 && string(msg.Route) != "null" {
		fc, err := geojson.UnmarshalFeatureCollection(msg.Route)
		if err != nil {
			return fmt.Errorf("%w: route: %w", ErrMalformedJob, err)
		}
		r, err = route.FromFeatureCollection(msg.TripID+"-reroute-"+h.now().UTC().Format("20060102T150405"), fc)
		if err != nil {
			return fmt.Errorf("%w: route: %w", ErrMalformedJob, err)
		}
	}

	st, err := h.trips.Reroute(ctx, msg.TripID, r)
	if err != nil {
		return fmt.Errorf("reroute: %w", err)
	}

	h.logger.Info().
		Str("trip_id", msg.TripID).
		Int("reroute_count", st.Trip.RerouteCount).
		Msg("trip rerouted by job")
	return nil
}

func (h *JobHandler) handleStopTrip(ctx context.Context, msg JobMessage) error {
	t, err := h.trips.Stop(ctx, msg.TripID)
	if err != nil {
		return fmt.Errorf("stop trip: %w", err)
	}

	h.logger.Info().
		Str("trip_id", t.ID).
		Float64("distance_traveled_m", t.DistanceTraveled).
		Msg("trip stopped by job")
	return nil
}
