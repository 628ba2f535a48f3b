package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/routing"
	"github.com/breatheroute/navcore/internal/trip"
)

// maxBodyBytes bounds request bodies. Routes of a few thousand points fit.
const maxBodyBytes = 4 << 20

// TripService is the trip manager used by the handler. *trip.Service implements it.
type TripService interface {
	Start(ctx context.Context, req trip.StartRequest) (*trip.State, error)
	Get(ctx context.Context, tripID string) (*trip.State, error)
	Route(ctx context.Context, tripID string) (*route.Route, error)
	SubmitFixes(ctx context.Context, tripID string, fixes []location.Fix) (int, error)
	Reroute(ctx context.Context, tripID string, r *route.Route) (*trip.State, error)
	Stop(ctx context.Context, tripID string) (*trip.Trip, error)
}

// TripHandler handles trip endpoints.
type TripHandler struct {
	trips    TripService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(trips TripService, logger zerolog.Logger) *TripHandler {
	return &TripHandler{
		trips:    trips,
		validate: validator.New(),
		logger:   logger,
	}
}

// StartTrip handles POST /v1/trips - start navigating a route.
func (h *TripHandler) StartTrip(w http.ResponseWriter, r *http.Request) {
	var input models.TripStartRequest
	if !h.decode(w, r, &input) {
		return
	}

	req := trip.StartRequest{
		Profile:         routing.RouteProfile(input.Profile),
		Simulate:        input.Simulate,
		SimulationSpeed: input.SimulationSpeed,
	}

	if len(input.Route) > 0 {
		rt, err := parseRoute(input.Route)
		if err != nil {
			response.Invalid(w, r, err.Error(), models.FieldError{Field: "route", Message: err.Error(), Code: "geojson"})
			return
		}
		req.Route = rt
	} else {
		if input.Origin == nil || input.Destination == nil {
			response.Invalid(w, r, "either route or origin and destination is required")
			return
		}
		origin, destination := coordinate(*input.Origin), coordinate(*input.Destination)
		req.Origin, req.Destination = &origin, &destination
		for _, wp := range input.Waypoints {
			req.Waypoints = append(req.Waypoints, coordinate(wp))
		}
	}

	st, err := h.trips.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("trip_id", st.Trip.ID).
		Str("client_id", middleware.GetClientID(r.Context())).
		Msg("trip created")

	response.Created(w, r, "/v1/trips/"+st.Trip.ID, tripModel(st))
}

// GetTrip handles GET /v1/trips/{tripId} - trip status and progress.
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	st, err := h.trips.Get(r.Context(), chi.URLParam(r, "tripId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tripModel(st))
}

// GetTripRoute handles GET /v1/trips/{tripId}/route - the route being followed as GeoJSON.
func (h *TripHandler) GetTripRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := h.trips.Route(r.Context(), chi.URLParam(r, "tripId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("X-Route-Id", rt.ID)
	response.GeoJSON(w, r, rt.FeatureCollection())
}

// PostLocations handles POST /v1/trips/{tripId}/locations - queue fixes in order.
func (h *TripHandler) PostLocations(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")

	var input models.LocationBatchRequest
	if !h.decode(w, r, &input) {
		return
	}

	now := time.Now()
	fixes := make([]location.Fix, 0, len(input.Locations))
	for _, l := range input.Locations {
		fixes = append(fixes, fixFromModel(l, now))
	}

	n, err := h.trips.SubmitFixes(r.Context(), tripID, fixes)
	if err != nil {
		if n > 0 {
			h.logger.Warn().Err(err).
				Str("trip_id", tripID).
				Int("accepted", n).
				Int("submitted", len(fixes)).
				Msg("location batch partially queued")
		}
		h.writeError(w, r, err)
		return
	}

	response.Accepted(w, r, "/v1/trips/"+tripID, models.LocationBatchResponse{
		TripID:   tripID,
		Accepted: n,
	})
}

// RerouteTrip handles POST /v1/trips/{tripId}/reroute - switch to a new route.
// The body is an optional GeoJSON route. Without it a route is requested from
// the routing backend.
func (h *TripHandler) RerouteTrip(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.Invalid(w, r, "request body too large")
		return
	}

	var rt *route.Route
	if len(bytes.TrimSpace(body)) > 0 {
		rt, err = parseRoute(body)
		if err != nil {
			response.Invalid(w, r, err.Error(), models.FieldError{Field: "route", Message: err.Error(), Code: "geojson"})
			return
		}
	}

	st, err := h.trips.Reroute(r.Context(), chi.URLParam(r, "tripId"), rt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tripModel(st))
}

// StopTrip handles DELETE /v1/trips/{tripId} - end a trip.
func (h *TripHandler) StopTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.trips.Stop(r.Context(), chi.URLParam(r, "tripId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tripModel(&trip.State{Trip: *t}))
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *TripHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Invalid(w, r, "invalid JSON body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.Invalid(w, r, "request validation failed", fieldErrors(verrs)...)
			return false
		}
		response.Invalid(w, r, err.Error())
		return false
	}
	return true
}

// writeError maps service errors to problem responses.
func (h *TripHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *route.ValidationError
	switch {
	case errors.Is(err, trip.ErrTripNotFound):
		response.Problem(w, r, models.KindTripNotFound, "trip not found")
	case errors.Is(err, trip.ErrTripNotActive):
		response.Problem(w, r, models.KindTripNotActive, "trip is no longer active")
	case errors.Is(err, trip.ErrRerouteInFlight):
		response.Problem(w, r, models.KindRerouteInFlight, "a reroute is already in progress")
	case errors.Is(err, trip.ErrInvalidStartTrip), errors.Is(err, routing.ErrInvalidCoordinates),
		errors.As(err, &validationErr):
		response.Invalid(w, r, err.Error())
	case errors.Is(err, routing.ErrNoRouteFound), errors.Is(err, trip.ErrNoRoute),
		errors.Is(err, routing.ErrMalformedRoute), errors.Is(err, route.ErrEmptyRoute):
		response.Problem(w, r, models.KindNoRoute, err.Error())
	case errors.Is(err, trip.ErrNoRouter):
		response.Problem(w, r, models.KindRoutingDown, "no routing backend configured")
	case errors.Is(err, routing.ErrProviderUnavailable), errors.Is(err, routing.ErrRateLimitExceeded):
		response.Problem(w, r, models.KindRoutingDown, "routing backend unavailable")
	case errors.Is(err, trip.ErrSessionClosed), errors.Is(err, trip.ErrServiceShutdown):
		response.Problem(w, r, models.KindUnavailable, "navigation session unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.Problem(w, r, models.KindUnavailable, "request timed out")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("trip request failed")
		response.Problem(w, r, models.KindInternal, "internal error")
	}
}

func parseRoute(data []byte) (*route.Route, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("route is not a GeoJSON feature collection: %w", err)
	}
	return route.FromFeatureCollection("rte_"+uuid.New().String()[:22], fc)
}

func fieldErrors(verrs validator.ValidationErrors) []models.FieldError {
	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %s validation", fe.Tag()),
			Code:    fe.Tag(),
		})
	}
	return out
}

func coordinate(p models.Point) routing.Coordinate {
	return routing.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

func fixFromModel(l models.LocationFix, now time.Time) location.Fix {
	ts := l.Time.Time()
	if ts.IsZero() {
		ts = now
	}
	provider := l.Provider
	if provider == "" {
		provider = location.ProviderGPS
	}
	return location.Fix{
		Point:    orb.Point{l.Lon, l.Lat},
		Bearing:  l.Bearing,
		Speed:    l.Speed,
		Accuracy: l.Accuracy,
		Time:     ts,
		Provider: provider,
	}
}

func point(p orb.Point) models.Point {
	return models.Point{Lat: p.Lat(), Lon: p.Lon()}
}

func tripModel(st *trip.State) models.Trip {
	t := st.Trip
	out := models.Trip{
		ID:           t.ID,
		Status:       string(t.Status),
		Profile:      string(t.Profile),
		Simulated:    t.Simulated,
		OffRoute:     t.OffRoute,
		RerouteCount: t.RerouteCount,
		CreatedAt:    models.Timestamp(t.CreatedAt),
		UpdatedAt:    models.Timestamp(t.UpdatedAt),
		Progress: models.TripProgress{
			LegIndex:          t.LegIndex,
			StepIndex:         t.StepIndex,
			DistanceRemaining: t.DistanceRemaining,
			DistanceTraveled:  t.DistanceTraveled,
			Arrived:           t.Status == trip.StatusArrived,
		},
	}
	if t.Route != nil {
		out.RouteID = t.Route.ID
	}
	if t.LastLocation != nil {
		p := point(*t.LastLocation)
		out.LastLocation = &p
	}

	// The latest update of a live session is fresher than the stored record,
	// unless a reroute has not reached the pipeline yet.
	if u := st.Latest; u != nil && u.Progress.Route != nil && u.Progress.Route.ID == out.RouteID {
		out.Progress = progressModel(u)
	}
	return out
}

func progressModel(u *trip.Update) models.TripProgress {
	p := u.Progress
	out := models.TripProgress{
		Generation:            u.Generation,
		LegIndex:              p.LegIndex,
		StepIndex:             p.StepIndex,
		DistanceRemaining:     p.DistanceRemaining,
		DistanceTraveled:      p.DistanceTraveled,
		StepDistanceRemaining: p.StepDistanceRemaining,
		FractionTraveled:      p.FractionTraveled,
		DurationRemaining:     p.DurationRemaining.Seconds(),
		RemainingWaypoints:    p.RemainingWaypoints,
		Arrived:               p.Arrived,
		CurrentStep:           stepInfo(p.Step()),
		UpcomingStep:          stepInfo(p.UpcomingStep()),
	}
	if u.Location.Point != (orb.Point{}) {
		snapped := point(u.Location.Point)
		out.SnappedLocation = &snapped
	}
	for _, m := range u.Milestones {
		out.Milestones = append(out.Milestones, models.Milestone{
			Kind:                  string(m.Kind),
			Level:                 m.Level.String(),
			LegIndex:              m.LegIndex,
			StepIndex:             m.StepIndex,
			Instruction:           m.Instruction,
			StepDistanceRemaining: m.StepDistanceRemaining,
		})
	}
	return out
}

func stepInfo(s *route.Step) *models.StepInfo {
	if s == nil {
		return nil
	}
	return &models.StepInfo{
		Name:           s.Name,
		Instruction:    s.Maneuver.Instruction,
		ManeuverType:   string(s.Maneuver.Type),
		Modifier:       s.Maneuver.Modifier,
		RoundaboutExit: s.Maneuver.RoundaboutExit,
		Distance:       s.Distance,
		Location:       point(s.Maneuver.Location),
	}
}
