package progress

import (
	"errors"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/route"
)

// Default tracker settings.
const (
	DefaultStepCompletionTolerance = 3.0
	DefaultManeuverZoneRadius      = 40.0
)

// ErrStepOutOfRange is returned when resuming at indices the route does not have.
var ErrStepOutOfRange = errors.New("leg or step index out of range")

// Config holds tracker settings. Zero values use the defaults.
type Config struct {
	// StepCompletionTolerance is how close, in meters, the projected position must
	// come to the end of the step geometry before the step may complete.
	StepCompletionTolerance float64 `yaml:"step_completion_tolerance" validate:"gte=0"`

	// ManeuverZoneRadius is the radius in meters around a step's end point inside
	// which the traveler counts as having reached the maneuver.
	ManeuverZoneRadius float64 `yaml:"maneuver_zone_radius" validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.StepCompletionTolerance <= 0 {
		c.StepCompletionTolerance = DefaultStepCompletionTolerance
	}
	if c.ManeuverZoneRadius <= 0 {
		c.ManeuverZoneRadius = DefaultManeuverZoneRadius
	}
	return c
}

// Tracker advances through the steps of a route as fixes arrive.
// It is owned by a single pipeline and is not safe for concurrent use.
type Tracker struct {
	cfg     Config
	route   *route.Route
	leg     int
	step    int
	arrived bool
	current RouteProgress
	now     func() time.Time
}

// NewTracker creates a tracker positioned at the start of r.
func NewTracker(r *route.Route, cfg Config) *Tracker {
	t := &Tracker{cfg: cfg.withDefaults(), now: time.Now}
	t.reset(r, 0, 0)
	return t
}

// NewTrackerAt creates a tracker positioned at the start of the given step.
// It is used to resume a persisted trip.
func NewTrackerAt(r *route.Route, leg, step int, cfg Config) (*Tracker, error) {
	if _, ok := r.Step(leg, step); !ok {
		return nil, ErrStepOutOfRange
	}
	t := &Tracker{cfg: cfg.withDefaults(), now: time.Now}
	t.reset(r, leg, step)
	return t, nil
}

// Route returns the route being tracked.
func (t *Tracker) Route() *route.Route {
	return t.route
}

// Current returns the latest progress snapshot.
func (t *Tracker) Current() RouteProgress {
	return t.current
}

// Reroute discards all progress and starts over at the beginning of r.
func (t *Tracker) Reroute(r *route.Route) RouteProgress {
	t.reset(r, 0, 0)
	return t.current
}

func (t *Tracker) reset(r *route.Route, leg, step int) {
	t.route = r
	t.leg = leg
	t.step = step
	t.arrived = false

	start := r.Legs[leg].Steps[step].Maneuver.Location
	t.current = snapshot(r, leg, step, 0, start, t.now())
}

// Update moves the tracker forward using fix and returns the new snapshot.
// The fix is assumed to have passed validation.
func (t *Tracker) Update(fix location.Fix) RouteProgress {
	var proj geo.Projection

	// Each pass either advances one step or stops, so the loop is bounded by
	// the number of steps left in the route.
	for {
		s := &t.route.Legs[t.leg].Steps[t.step]
		proj = geo.ProjectOntoLine(fix.Point, s.Geometry)

		// A step without a line to follow is passed as soon as it is reached.
		if len(s.Geometry) < 2 && !t.route.IsLast(t.leg, t.step) {
			t.leg, t.step, _ = t.route.Next(t.leg, t.step)
			continue
		}

		geomLen := geo.Length(s.Geometry)

		completed := proj.DistanceAlong >= geomLen-t.cfg.StepCompletionTolerance
		if !completed {
			break
		}

		inZone := t.inManeuverZone(fix.Point, s)

		if t.route.IsLast(t.leg, t.step) {
			if inZone {
				t.arrived = true
			}
			break
		}

		if !inZone && !t.closerToNext(fix.Point, proj) {
			break
		}

		t.leg, t.step, _ = t.route.Next(t.leg, t.step)
	}

	s := &t.route.Legs[t.leg].Steps[t.step]
	snapped := fix.Point
	if len(s.Geometry) >= 2 {
		snapped = proj.Point
	}

	at := fix.Time
	if at.IsZero() {
		at = t.now()
	}

	p := snapshot(t.route, t.leg, t.step, stepTraveled(s, proj.DistanceAlong), snapped, at)
	p.Arrived = t.arrived
	if p.Arrived {
		// Arrival overrides the residual within the completion tolerance.
		p = snapshot(t.route, t.leg, t.step, s.Distance, snapped, at)
		p.Arrived = true
	}

	t.current = p
	return p
}

// inManeuverZone reports whether p is within the maneuver zone of the step's end.
func (t *Tracker) inManeuverZone(p orb.Point, s *route.Step) bool {
	end := s.Maneuver.Location
	if n := len(s.Geometry); n > 0 {
		end = s.Geometry[n-1]
	}
	return geo.Distance(p, end) <= t.cfg.ManeuverZoneRadius
}

// closerToNext reports whether p lies laterally closer to the next step than to
// the current one.
func (t *Tracker) closerToNext(p orb.Point, current geo.Projection) bool {
	leg, step, ok := t.route.Next(t.leg, t.step)
	if !ok {
		return false
	}
	next, _ := t.route.Step(leg, step)

	d, ok := geo.DistanceToLine(p, next.Geometry)
	if !ok {
		return false
	}

	cur := current.Distance
	if len(t.route.Legs[t.leg].Steps[t.step].Geometry) < 2 {
		cur, _ = geo.DistanceToLine(p, t.route.Legs[t.leg].Steps[t.step].Geometry)
	}
	return d < cur
}

// stepTraveled scales a distance along the step geometry to the step's
// reported distance, which may differ from the haversine length.
func stepTraveled(s *route.Step, along float64) float64 {
	geomLen := geo.Length(s.Geometry)
	if geomLen <= 0 {
		return 0
	}
	return math.Min(s.Distance, along*s.Distance/geomLen)
}
