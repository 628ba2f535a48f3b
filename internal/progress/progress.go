// Package progress tracks where a traveler is along a route.
//
// A Tracker is a state machine over (leg, step) index pairs. Each accepted fix
// produces a new RouteProgress value; earlier values are never modified, so
// consumers may keep them.
package progress

import (
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/route"
)

// RouteProgress is an immutable snapshot of the traveler's position within a route.
type RouteProgress struct {
	// Route is shared with the tracker and every other snapshot. Do not modify it.
	Route *route.Route

	LegIndex  int
	StepIndex int

	DistanceRemaining     float64
	LegDistanceRemaining  float64
	StepDistanceRemaining float64
	DistanceTraveled      float64
	StepDistanceTraveled  float64
	FractionTraveled      float64
	DurationRemaining     time.Duration

	// RemainingWaypoints counts the legs not yet completed, including the current one.
	RemainingWaypoints int

	// Location is the fix projected onto the current step.
	Location orb.Point

	Arrived   bool
	UpdatedAt time.Time
}

// Leg returns the current leg.
func (p RouteProgress) Leg() *route.Leg {
	return &p.Route.Legs[p.LegIndex]
}

// Step returns the current step.
func (p RouteProgress) Step() *route.Step {
	return &p.Route.Legs[p.LegIndex].Steps[p.StepIndex]
}

// UpcomingStep returns the step after the current one, crossing legs, or nil on the last step.
func (p RouteProgress) UpcomingStep() *route.Step {
	leg, step, ok := p.Route.Next(p.LegIndex, p.StepIndex)
	if !ok {
		return nil
	}
	s, _ := p.Route.Step(leg, step)
	return s
}

// StepFractionTraveled returns the fraction of the current step already covered.
func (p RouteProgress) StepFractionTraveled() float64 {
	d := p.Step().Distance
	if d <= 0 {
		return 1
	}
	return p.StepDistanceTraveled / d
}

// StepDurationRemaining estimates the time left on the current step from its
// scheduled duration.
func (p RouteProgress) StepDurationRemaining() time.Duration {
	step := p.Step()
	if step.Distance <= 0 {
		return 0
	}
	return time.Duration(float64(step.Duration) * (p.StepDistanceRemaining / step.Distance))
}

// snapshot computes the distance fields for the given indices and step position.
func snapshot(r *route.Route, leg, step int, stepTraveled float64, location orb.Point, now time.Time) RouteProgress {
	s := &r.Legs[leg].Steps[step]

	stepTraveled = math.Max(0, math.Min(stepTraveled, s.Distance))
	stepRemaining := s.Distance - stepTraveled
	legRemaining := stepRemaining + r.DistanceAfterStep(leg, step)
	remaining := legRemaining + r.DistanceAfterLeg(leg)

	p := RouteProgress{
		Route:                 r,
		LegIndex:              leg,
		StepIndex:             step,
		DistanceRemaining:     remaining,
		LegDistanceRemaining:  legRemaining,
		StepDistanceRemaining: stepRemaining,
		DistanceTraveled:      math.Max(0, r.Distance-remaining),
		StepDistanceTraveled:  stepTraveled,
		RemainingWaypoints:    len(r.Legs) - leg,
		Location:              location,
		UpdatedAt:             now,
	}

	if r.Distance > 0 {
		p.FractionTraveled = math.Min(1, p.DistanceTraveled/r.Distance)
	}
	p.DurationRemaining = durationRemaining(r, leg, step, p.StepDurationRemaining())

	return p
}

func durationRemaining(r *route.Route, leg, step int, current time.Duration) time.Duration {
	total := current
	for si := step + 1; si < len(r.Legs[leg].Steps); si++ {
		total += r.Legs[leg].Steps[si].Duration
	}
	for li := leg + 1; li < len(r.Legs); li++ {
		total += r.Legs[li].Duration
	}
	return total
}
