// Package route provides the immutable route model navigated by a trip:
// a route is an ordered list of legs, each leg an ordered list of steps.
package route

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
)

// ContiguityTolerance is the maximum gap in meters between the end of one step
// and the start of the next step within a leg.
const ContiguityTolerance = 1.0

// Sentinel errors for route construction.
var (
	// ErrEmptyRoute indicates a route without legs, a leg without steps or a
	// route without any step geometry.
	ErrEmptyRoute = errors.New("route has no legs or steps")
	// ErrInvalidCoordinate indicates a NaN, infinite or out-of-range coordinate.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidDistance indicates a negative or non-finite distance.
	ErrInvalidDistance = errors.New("invalid distance")
	// ErrDiscontiguousSteps indicates consecutive steps that do not share an end point.
	ErrDiscontiguousSteps = errors.New("steps are not contiguous")
)

// ValidationError locates a route construction failure.
type ValidationError struct {
	Leg  int   // Leg index, -1 when the failure is route-wide
	Step int   // Step index, -1 when the failure is leg-wide
	Err  error // Underlying sentinel error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Leg < 0:
		return "route: " + e.Err.Error()
	case e.Step < 0:
		return fmt.Sprintf("route leg %d: %s", e.Leg, e.Err)
	default:
		return fmt.Sprintf("route leg %d step %d: %s", e.Leg, e.Step, e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ManeuverType identifies the kind of maneuver that starts a step.
type ManeuverType string

const (
	ManeuverDepart         ManeuverType = "depart"
	ManeuverTurn           ManeuverType = "turn"
	ManeuverContinue       ManeuverType = "continue"
	ManeuverMerge          ManeuverType = "merge"
	ManeuverFork           ManeuverType = "fork"
	ManeuverRoundabout     ManeuverType = "roundabout"
	ManeuverExitRoundabout ManeuverType = "exit roundabout"
	ManeuverUTurn          ManeuverType = "uturn"
	ManeuverArrive         ManeuverType = "arrive"
)

// Maneuver describes the action at the start of a step.
type Maneuver struct {
	Type           ManeuverType
	Modifier       string // e.g. "left", "slight right", "straight"
	RoundaboutExit int    // Exit number for roundabouts, 0 when not applicable
	Instruction    string
	Location       orb.Point
	BearingBefore  float64
	BearingAfter   float64
}

// Step is the stretch of a leg between two maneuvers.
type Step struct {
	Geometry orb.LineString
	Distance float64 // meters
	Duration time.Duration
	Name     string
	Maneuver Maneuver
}

// Leg is the part of a route between two waypoints.
type Leg struct {
	Steps    []Step
	Distance float64 // meters
	Duration time.Duration
	Summary  string
}

// Route is a validated, immutable navigation route. Build one with New and
// do not modify it afterwards: progress snapshots share it.
type Route struct {
	ID       string
	Legs     []Leg
	Distance float64 // meters
	Duration time.Duration

	// afterStep[leg][step] is the distance of the leg remaining after the step.
	afterStep [][]float64
	// afterLeg[leg] is the distance of the route remaining after the leg.
	afterLeg []float64
}

// New validates the legs and returns a route. Leg and route distances and
// durations that are zero are filled in from their children.
func New(id string, legs []Leg) (*Route, error) {
	if len(legs) == 0 {
		return nil, &ValidationError{Leg: -1, Step: -1, Err: ErrEmptyRoute}
	}

	r := &Route{
		ID:        id,
		Legs:      make([]Leg, len(legs)),
		afterStep: make([][]float64, len(legs)),
		afterLeg:  make([]float64, len(legs)),
	}

	for li := range legs {
		leg := legs[li]
		if len(leg.Steps) == 0 {
			return nil, &ValidationError{Leg: li, Step: -1, Err: ErrEmptyRoute}
		}

		steps := make([]Step, len(leg.Steps))
		copy(steps, leg.Steps)
		leg.Steps = steps

		var stepSum float64
		var durationSum time.Duration
		var drawn orb.LineString // last step geometry in the leg with points
		for si := range steps {
			if err := validateStep(&steps[si]); err != nil {
				return nil, &ValidationError{Leg: li, Step: si, Err: err}
			}
			if !contiguous(drawn, steps[si].Geometry) {
				return nil, &ValidationError{Leg: li, Step: si, Err: ErrDiscontiguousSteps}
			}
			if len(steps[si].Geometry) > 0 {
				drawn = steps[si].Geometry
			}
			stepSum += steps[si].Distance
			durationSum += steps[si].Duration
		}

		if !validDistance(leg.Distance) {
			return nil, &ValidationError{Leg: li, Step: -1, Err: ErrInvalidDistance}
		}
		if leg.Distance == 0 {
			leg.Distance = stepSum
		}
		if leg.Duration == 0 {
			leg.Duration = durationSum
		}

		after := make([]float64, len(steps))
		for si := len(steps) - 2; si >= 0; si-- {
			after[si] = after[si+1] + steps[si+1].Distance
		}
		r.afterStep[li] = after
		r.Legs[li] = leg
	}

	if err := r.anchorEmptySteps(); err != nil {
		return nil, err
	}

	var legSum float64
	var durationSum time.Duration
	for li := len(r.Legs) - 1; li >= 0; li-- {
		r.afterLeg[li] = legSum
		legSum += r.Legs[li].Distance
		durationSum += r.Legs[li].Duration
	}
	r.Distance = legSum
	r.Duration = durationSum

	return r, nil
}

// NumSteps returns the number of steps across all legs.
func (r *Route) NumSteps() int {
	n := 0
	for i := range r.Legs {
		n += len(r.Legs[i].Steps)
	}
	return n
}

// Step returns the step at the given indices.
func (r *Route) Step(leg, step int) (*Step, bool) {
	if leg < 0 || leg >= len(r.Legs) {
		return nil, false
	}
	steps := r.Legs[leg].Steps
	if step < 0 || step >= len(steps) {
		return nil, false
	}
	return &steps[step], true
}

// Next returns the indices of the step after (leg, step), crossing into the
// next leg when needed. ok is false on the last step of the route.
func (r *Route) Next(leg, step int) (nextLeg, nextStep int, ok bool) {
	if step+1 < len(r.Legs[leg].Steps) {
		return leg, step + 1, true
	}
	if leg+1 < len(r.Legs) {
		return leg + 1, 0, true
	}
	return leg, step, false
}

// IsLast reports whether (leg, step) is the final step of the route.
func (r *Route) IsLast(leg, step int) bool {
	return leg == len(r.Legs)-1 && step == len(r.Legs[leg].Steps)-1
}

// DistanceAfterStep returns the leg distance remaining after the given step.
func (r *Route) DistanceAfterStep(leg, step int) float64 {
	return r.afterStep[leg][step]
}

// DistanceAfterLeg returns the route distance remaining after the given leg.
func (r *Route) DistanceAfterLeg(leg int) float64 {
	return r.afterLeg[leg]
}

// Geometry returns the full route geometry with duplicate step joints removed.
func (r *Route) Geometry() orb.LineString {
	var line orb.LineString
	for li := range r.Legs {
		for si := range r.Legs[li].Steps {
			for _, p := range r.Legs[li].Steps[si].Geometry {
				if len(line) > 0 && line[len(line)-1].Equal(p) {
					continue
				}
				line = append(line, p)
			}
		}
	}
	return line
}

// Waypoints returns the end point of every leg, in order. There is always
// one point per leg.
func (r *Route) Waypoints() []orb.Point {
	points := make([]orb.Point, len(r.Legs))
	for li := range r.Legs {
		steps := r.Legs[li].Steps
		last := &steps[len(steps)-1]
		if end, ok := endPoint(last.Geometry); ok {
			points[li] = end
		} else {
			points[li] = last.Maneuver.Location
		}
	}
	return points
}

// anchorEmptySteps places the maneuver of each step without geometry at the
// end of the closest drawn step before it. Leading empty steps take the start
// of the first drawn step. A route with no geometry at all is rejected.
func (r *Route) anchorEmptySteps() error {
	var (
		anchor  orb.Point
		placed  bool
		pending []*Step
		first   [2]int
	)
	for li := range r.Legs {
		for si := range r.Legs[li].Steps {
			s := &r.Legs[li].Steps[si]
			switch {
			case len(s.Geometry) > 0:
				for _, p := range pending {
					p.Maneuver.Location = s.Geometry[0]
				}
				pending = nil
				anchor, placed = s.Geometry[len(s.Geometry)-1], true
			case s.Maneuver.Location != (orb.Point{}):
				// Explicitly placed.
				for _, p := range pending {
					p.Maneuver.Location = s.Maneuver.Location
				}
				pending = nil
				anchor, placed = s.Maneuver.Location, true
			case placed:
				s.Maneuver.Location = anchor
			default:
				if len(pending) == 0 {
					first = [2]int{li, si}
				}
				pending = append(pending, s)
			}
		}
	}
	if len(pending) > 0 {
		return &ValidationError{Leg: first[0], Step: first[1], Err: ErrEmptyRoute}
	}
	return nil
}

func validateStep(s *Step) error {
	if !validDistance(s.Distance) {
		return ErrInvalidDistance
	}
	if s.Duration < 0 {
		return ErrInvalidDistance
	}
	for _, p := range s.Geometry {
		if !geo.ValidPoint(p) {
			return ErrInvalidCoordinate
		}
	}
	if len(s.Geometry) > 0 && s.Maneuver.Location == (orb.Point{}) {
		s.Maneuver.Location = s.Geometry[0]
	}
	if !geo.ValidPoint(s.Maneuver.Location) {
		return ErrInvalidCoordinate
	}
	return nil
}

func validDistance(d float64) bool {
	return d >= 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

func contiguous(prev, next orb.LineString) bool {
	end, ok := endPoint(prev)
	if !ok || len(next) == 0 {
		return true
	}
	return geo.Distance(end, next[0]) <= ContiguityTolerance
}

func endPoint(line orb.LineString) (orb.Point, bool) {
	if len(line) == 0 {
		return orb.Point{}, false
	}
	return line[len(line)-1], true
}
