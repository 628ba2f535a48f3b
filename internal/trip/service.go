package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/replay"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/routing"
)

const tracerName = "github.com/breatheroute/navcore/internal/trip"

// Service defaults.
const (
	DefaultRecorderBuffer = 256
	DefaultRerouteTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

// Router fetches directions. *routing.Service implements it.
type Router interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// ServiceConfig holds configuration for the trip service.
type ServiceConfig struct {
	// Repository persists trips.
	Repository Repository

	// Router is used for trips started from coordinates and for reroutes
	// without a supplied route. Optional.
	Router Router

	// Logger for service operations.
	Logger zerolog.Logger

	// Metrics records pipeline instruments. Optional.
	Metrics *Metrics

	// Session holds the pipeline settings for every trip. Its Listener,
	// OnOffRoute and Metrics fields are set by the service.
	Session SessionConfig

	// Replay configures simulated trips.
	Replay replay.Config

	// Profile is the routing profile when a request names none (default: driving-car).
	Profile routing.RouteProfile

	// DisableAutoReroute turns off rerouting when a traveler goes off route.
	DisableAutoReroute bool

	// RerouteTimeout bounds automatic reroutes (default: 10 seconds).
	RerouteTimeout time.Duration

	// RecorderBuffer is the capacity of the persistence queue (default: 256).
	RecorderBuffer int
}

// managed is a live trip: its session and the in-memory copy of its record.
type managed struct {
	session   *Session
	rerouting atomic.Bool

	mu         sync.Mutex
	trip       Trip
	generation uint64
	stopped    bool
}

type record struct {
	trip Trip
	done chan error
}

// Service manages navigation sessions and their persisted trips.
type Service struct {
	repo           Repository
	router         Router
	logger         zerolog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
	sessionCfg     SessionConfig
	replayCfg      replay.Config
	profile        routing.RouteProfile
	autoReroute    bool
	rerouteTimeout time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	trips   map[string]*managed
	closing bool

	// reroutes tracks automatic reroute goroutines.
	reroutes sync.WaitGroup

	recMu        sync.RWMutex
	recClosed    bool
	records      chan record
	recorderDone chan struct{}
}

// NewService creates a new trip service and starts its recorder.
func NewService(cfg ServiceConfig) *Service {
	profile := cfg.Profile
	if profile == "" {
		profile = routing.ProfileDrive
	}

	rerouteTimeout := cfg.RerouteTimeout
	if rerouteTimeout == 0 {
		rerouteTimeout = DefaultRerouteTimeout
	}

	recorderBuffer := cfg.RecorderBuffer
	if recorderBuffer <= 0 {
		recorderBuffer = DefaultRecorderBuffer
	}

	replayCfg := cfg.Replay
	if replayCfg.SpeedMultiplier == 0 {
		replayCfg.SpeedMultiplier = 1
	}

	s := &Service{
		repo:           cfg.Repository,
		router:         cfg.Router,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         otel.Tracer(tracerName),
		sessionCfg:     cfg.Session,
		replayCfg:      replayCfg,
		profile:        profile,
		autoReroute:    !cfg.DisableAutoReroute,
		rerouteTimeout: rerouteTimeout,
		now:            time.Now,
		trips:          make(map[string]*managed),
		records:        make(chan record, recorderBuffer),
		recorderDone:   make(chan struct{}),
	}

	go s.runRecorder()

	return s
}

// Start creates a trip and its navigation session.
func (s *Service) Start(ctx context.Context, req StartRequest) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "trip.Start")
	defer span.End()

	r, profile, err := s.resolveRoute(ctx, req)
	if err != nil {
		return nil, spanError(span, err)
	}

	now := s.now()
	t := Trip{
		ID:                newTripID(),
		Status:            StatusActive,
		Profile:           profile,
		Route:             r,
		DistanceRemaining: r.Distance,
		Simulated:         req.Simulate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(
		attribute.String("trip.id", t.ID),
		attribute.String("route.id", r.ID),
		attribute.Bool("trip.simulated", req.Simulate),
	)

	var stream *replay.Stream
	if req.Simulate {
		stream, err = replay.NewStream(
			replay.FromRoute(r, replay.RouteConfig{Speed: req.SimulationSpeed}),
			s.replayCfg,
		)
		if err != nil {
			return nil, spanError(span, fmt.Errorf("start simulation: %w", err))
		}
	}

	if err := s.repo.Create(ctx, &t); err != nil {
		return nil, spanError(span, fmt.Errorf("create trip: %w", err))
	}

	m, err := s.launch(t)
	if err != nil {
		s.abandon(ctx, t.ID, stream)
		return nil, spanError(span, err)
	}

	if stream != nil {
		if err := m.session.AttachReplay(stream); err != nil {
			s.logger.Error().Err(err).Str("trip_id", t.ID).Msg("failed to attach simulation")
			s.abandon(ctx, t.ID, stream)
			return nil, spanError(span, fmt.Errorf("start simulation: %w", err))
		}
	}

	s.logger.Info().
		Str("trip_id", t.ID).
		Str("route_id", r.ID).
		Int("legs", len(r.Legs)).
		Float64("distance_m", r.Distance).
		Bool("simulated", req.Simulate).
		Msg("trip started")

	return m.state(), nil
}

// abandon undoes a Start that failed after the trip record was created. The
// session, if one was registered, is stopped and the record marked stopped.
func (s *Service) abandon(ctx context.Context, tripID string, stream *replay.Stream) {
	if stream != nil {
		_ = stream.Close() //nolint:errcheck // route sources never fail to close
	}

	ctx = context.WithoutCancel(ctx)
	_, err := s.Stop(ctx, tripID)
	if errors.Is(err, ErrServiceShutdown) {
		// The recorder is gone, write the record directly.
		var t *Trip
		if t, err = s.repo.Get(ctx, tripID); err == nil {
			t.Status = StatusStopped
			t.UpdatedAt = s.now()
			err = s.repo.Update(ctx, t)
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("trip_id", tripID).Msg("failed to stop abandoned trip")
	}
}

// SubmitFixes queues fixes for a trip in order. It returns the number of
// fixes queued before any error.
func (s *Service) SubmitFixes(ctx context.Context, tripID string, fixes []location.Fix) (int, error) {
	m, err := s.live(ctx, tripID)
	if err != nil {
		return 0, err
	}

	for i, fix := range fixes {
		if err := m.session.Submit(ctx, fix); err != nil {
			return i, err
		}
	}
	return len(fixes), nil
}

// Get returns a trip and, when it has a live session, its latest update.
func (s *Service) Get(ctx context.Context, tripID string) (*State, error) {
	if m := s.lookup(tripID); m != nil {
		return m.state(), nil
	}

	t, err := s.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return &State{Trip: *t}, nil
}

// Route returns the route a trip is currently following.
func (s *Service) Route(ctx context.Context, tripID string) (*route.Route, error) {
	st, err := s.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return st.Trip.Route, nil
}

// Reroute switches a trip to r. When r is nil a new route is fetched from the
// traveler's current position through the remaining waypoints.
func (s *Service) Reroute(ctx context.Context, tripID string, r *route.Route) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "trip.Reroute", trace.WithAttributes(
		attribute.String("trip.id", tripID),
		attribute.Bool("route.supplied", r != nil),
	))
	defer span.End()

	m, err := s.live(ctx, tripID)
	if err != nil {
		return nil, spanError(span, err)
	}

	if r == nil {
		if s.router == nil {
			return nil, spanError(span, ErrNoRouter)
		}
		if !m.rerouting.CompareAndSwap(false, true) {
			return nil, spanError(span, ErrRerouteInFlight)
		}
		defer m.rerouting.Store(false)

		r, err = s.fetchRoute(ctx, m)
		if err != nil {
			return nil, spanError(span, err)
		}
	}

	if err := s.applyRoute(ctx, m, r, false); err != nil {
		return nil, spanError(span, err)
	}
	return m.state(), nil
}

// Stop ends a trip. Its session is halted and the trip is marked stopped.
// Stopping a stopped trip is not an error.
func (s *Service) Stop(ctx context.Context, tripID string) (*Trip, error) {
	ctx, span := s.tracer.Start(ctx, "trip.Stop", trace.WithAttributes(attribute.String("trip.id", tripID)))
	defer span.End()

	s.mu.Lock()
	m := s.trips[tripID]
	delete(s.trips, tripID)
	s.mu.Unlock()

	if m == nil {
		t, err := s.repo.Get(ctx, tripID)
		if err != nil {
			return nil, spanError(span, err)
		}
		if t.Status == StatusStopped {
			return t, nil
		}
		t.Status = StatusStopped
		t.UpdatedAt = s.now()
		if err := s.persist(ctx, *t); err != nil {
			return nil, spanError(span, err)
		}
		return t, nil
	}

	m.session.Stop()
	s.metrics.sessionStopped()

	m.mu.Lock()
	m.stopped = true
	m.trip.Status = StatusStopped
	m.trip.UpdatedAt = s.now()
	t := m.trip
	m.mu.Unlock()

	if err := s.persist(ctx, t); err != nil {
		return nil, spanError(span, err)
	}

	s.logger.Info().
		Str("trip_id", tripID).
		Int("reroutes", t.RerouteCount).
		Float64("distance_traveled_m", t.DistanceTraveled).
		Msg("trip stopped")

	return &t, nil
}

// Resume makes sure a trip has a live session, rebuilding it from the
// persisted route and step when necessary. Simulated trips resume without
// their simulation.
func (s *Service) Resume(ctx context.Context, tripID string) (*State, error) {
	m, err := s.live(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return m.state(), nil
}

// ResumeActive resumes up to limit live trips from the repository.
func (s *Service) ResumeActive(ctx context.Context, limit int) (int, error) {
	trips, err := s.repo.ListActive(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list active trips: %w", err)
	}

	resumed := 0
	for _, t := range trips {
		if s.lookup(t.ID) != nil {
			continue
		}
		if _, err := s.launch(*t); err != nil {
			if errors.Is(err, ErrServiceShutdown) {
				return resumed, err
			}
			s.logger.Warn().Err(err).Str("trip_id", t.ID).Msg("failed to resume trip")
			continue
		}
		resumed++
	}
	return resumed, nil
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trips)
}

// Shutdown halts every session without ending its trip, waits for automatic
// reroutes and flushes pending writes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := s.trips
	s.trips = make(map[string]*managed)
	s.mu.Unlock()

	for _, m := range live {
		m.session.Stop()
		s.metrics.sessionStopped()
	}

	reroutesDone := make(chan struct{})
	go func() {
		s.reroutes.Wait()
		close(reroutesDone)
	}()
	select {
	case <-reroutesDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.recMu.Lock()
	if !s.recClosed {
		s.recClosed = true
		close(s.records)
	}
	s.recMu.Unlock()

	select {
	case <-s.recorderDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveRoute returns the supplied route or fetches one from the router.
func (s *Service) resolveRoute(ctx context.Context, req StartRequest) (*route.Route, routing.RouteProfile, error) {
	profile := req.Profile
	if profile == "" {
		profile = s.profile
	}

	if req.Route != nil {
		return req.Route, profile, nil
	}
	if req.Origin == nil || req.Destination == nil {
		return nil, "", ErrInvalidStartTrip
	}
	if s.router == nil {
		return nil, "", ErrNoRouter
	}

	r, err := s.directions(ctx, routing.DirectionsRequest{
		Origin:      *req.Origin,
		Waypoints:   req.Waypoints,
		Destination: *req.Destination,
		Profile:     profile,
	})
	if err != nil {
		return nil, "", err
	}
	return r, profile, nil
}

// fetchRoute requests a route from the traveler's position through the
// waypoints of the legs not yet completed.
func (s *Service) fetchRoute(ctx context.Context, m *managed) (*route.Route, error) {
	latest := m.session.Latest()
	p := latest.Progress

	all := p.Route.Waypoints()
	if p.LegIndex < 0 || p.LegIndex >= len(all) {
		return nil, fmt.Errorf("%w: leg %d of %d has no waypoint", ErrNoRoute, p.LegIndex, len(all))
	}
	remaining := all[p.LegIndex:]

	m.mu.Lock()
	profile := m.trip.Profile
	m.mu.Unlock()
	if profile == "" {
		profile = s.profile
	}

	waypoints := make([]routing.Coordinate, 0, len(remaining)-1)
	for _, wp := range remaining[:len(remaining)-1] {
		waypoints = append(waypoints, routing.CoordinateOf(wp))
	}

	return s.directions(ctx, routing.DirectionsRequest{
		Origin:      routing.CoordinateOf(position(latest)),
		Waypoints:   waypoints,
		Destination: routing.CoordinateOf(remaining[len(remaining)-1]),
		Profile:     profile,
		SkipCache:   true,
	})
}

func (s *Service) directions(ctx context.Context, req routing.DirectionsRequest) (*route.Route, error) {
	resp, err := s.router.GetDirections(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get directions: %w", err)
	}
	if len(resp.Routes) == 0 {
		return nil, ErrNoRoute
	}
	return resp.Routes[0].NavigationRoute(newRouteID())
}

// applyRoute hands r to the session and counts the reroute.
func (s *Service) applyRoute(ctx context.Context, m *managed, r *route.Route, automatic bool) error {
	if err := m.session.Reroute(ctx, r); err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if g := m.session.Generation(); g > m.generation {
		m.generation = g
	}
	m.trip.Route = r
	m.trip.LegIndex, m.trip.StepIndex = 0, 0
	m.trip.DistanceRemaining = r.Distance
	m.trip.OffRoute = false
	m.trip.Status = StatusActive
	m.trip.RerouteCount++
	m.trip.UpdatedAt = s.now()
	s.recordLocked(m)
	tripID, count := m.trip.ID, m.trip.RerouteCount
	m.mu.Unlock()

	s.metrics.recordReroute(automatic)
	s.logger.Info().
		Str("trip_id", tripID).
		Str("route_id", r.ID).
		Int("reroute_count", count).
		Bool("automatic", automatic).
		Msg("trip rerouted")
	return nil
}

// live returns the live session of a trip, resuming it when needed.
func (s *Service) live(ctx context.Context, tripID string) (*managed, error) {
	if m := s.lookup(tripID); m != nil {
		return m, nil
	}

	t, err := s.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !t.Live() {
		return nil, ErrTripNotActive
	}

	m, err := s.launch(*t)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("trip_id", tripID).
		Int("leg", t.LegIndex).
		Int("step", t.StepIndex).
		Msg("trip resumed")
	return m, nil
}

func (s *Service) lookup(tripID string) *managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trips[tripID]
}

// launch starts a session for t at its recorded step and registers it. When
// another caller registered the trip first, theirs is returned.
func (s *Service) launch(t Trip) (*managed, error) {
	m := &managed{trip: t}

	cfg := s.sessionCfg
	cfg.Metrics = s.metrics
	cfg.Listener = ListenerFunc(func(u Update) { s.onUpdate(m, u) })
	cfg.OnOffRoute = func(u Update) { s.onOffRoute(m, u) }

	session, err := NewSessionAt(t.Route, t.LegIndex, t.StepIndex, cfg)
	if err != nil {
		return nil, fmt.Errorf("start session for trip %s: %w", t.ID, err)
	}
	m.session = session

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		session.Stop()
		return nil, ErrServiceShutdown
	}
	if existing := s.trips[t.ID]; existing != nil {
		s.mu.Unlock()
		session.Stop()
		return existing, nil
	}
	s.trips[t.ID] = m
	s.mu.Unlock()

	s.metrics.sessionStarted()
	return m, nil
}

// onUpdate mirrors pipeline output into the trip record. It runs on the
// pipeline goroutine and never blocks.
func (s *Service) onUpdate(m *managed, u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Output of a superseded route.
	if m.stopped || u.Generation < m.generation {
		return
	}

	t := &m.trip
	prevStatus := t.Status

	t.Route = u.Progress.Route
	t.LegIndex = u.Progress.LegIndex
	t.StepIndex = u.Progress.StepIndex
	t.DistanceRemaining = u.Progress.DistanceRemaining
	t.DistanceTraveled = u.Progress.DistanceTraveled
	t.OffRoute = u.OffRoute
	if !u.Rerouted {
		pt := u.Raw.Point
		t.LastLocation = &pt
	}

	switch {
	case u.Progress.Arrived:
		t.Status = StatusArrived
	case u.OffRoute:
		t.Status = StatusOffRoute
	default:
		t.Status = StatusActive
	}
	t.UpdatedAt = s.now()

	for _, ms := range u.Milestones {
		s.logger.Debug().
			Str("trip_id", t.ID).
			Str("kind", string(ms.Kind)).
			Str("level", ms.Level.String()).
			Int("leg", ms.LegIndex).
			Int("step", ms.StepIndex).
			Str("instruction", ms.Instruction).
			Msg("milestone")
	}

	if len(u.Milestones) > 0 || u.Rerouted || t.Status != prevStatus {
		s.recordLocked(m)
	}
}

// onOffRoute starts an automatic reroute unless one is already running.
func (s *Service) onOffRoute(m *managed, u Update) {
	s.logger.Info().
		Str("trip_id", m.tripID()).
		Float64("distance_m", u.Status.LastDistance).
		Float64("threshold_m", u.Status.LastThreshold).
		Msg("traveler off route")

	if s.router == nil || !s.autoReroute {
		return
	}
	if !m.rerouting.CompareAndSwap(false, true) {
		return
	}

	s.reroutes.Add(1)
	go func() {
		defer s.reroutes.Done()
		defer m.rerouting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.rerouteTimeout)
		defer cancel()

		r, err := s.fetchRoute(ctx, m)
		if err == nil {
			err = s.applyRoute(ctx, m, r, true)
		}
		if err != nil && !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn().Err(err).Str("trip_id", m.tripID()).Msg("automatic reroute failed")
		}
	}()
}

// recordLocked queues a copy of the trip for the recorder without blocking.
// The caller holds m.mu, which keeps records of one trip in order.
func (s *Service) recordLocked(m *managed) {
	s.recMu.RLock()
	defer s.recMu.RUnlock()

	if s.recClosed {
		return
	}
	select {
	case s.records <- record{trip: m.trip}:
	default:
		s.metrics.recordDrop()
		s.logger.Warn().Str("trip_id", m.trip.ID).Msg("recorder queue full, dropping trip snapshot")
	}
}

// persist queues t behind any pending records and waits for it to be written.
func (s *Service) persist(ctx context.Context, t Trip) error {
	done := make(chan error, 1)

	s.recMu.RLock()
	if s.recClosed {
		s.recMu.RUnlock()
		return ErrServiceShutdown
	}
	select {
	case s.records <- record{trip: t, done: done}:
	case <-ctx.Done():
		s.recMu.RUnlock()
		return ctx.Err()
	}
	s.recMu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRecorder writes trip records in the order they were queued.
func (s *Service) runRecorder() {
	defer close(s.recorderDone)

	for rec := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
		err := s.repo.Update(ctx, &rec.trip)
		cancel()

		if err != nil {
			s.logger.Error().Err(err).Str("trip_id", rec.trip.ID).Msg("failed to persist trip")
		}
		if rec.done != nil {
			rec.done <- err
		}
	}
}

func (m *managed) tripID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trip.ID
}

func (m *managed) state() *State {
	latest := m.session.Latest()

	m.mu.Lock()
	defer m.mu.Unlock()
	return &State{Trip: m.trip, Latest: &latest}
}

// position is the best known location of the traveler.
func position(u Update) orb.Point {
	if !u.Rerouted && u.Raw.Point != (orb.Point{}) {
		return u.Raw.Point
	}
	return u.Progress.Location
}

func newTripID() string {
	return "trp_" + uuid.New().String()[:22]
}

func newRouteID() string {
	return "rte_" + uuid.New().String()[:22]
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
