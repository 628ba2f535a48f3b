// Package milestone derives instruction events from consecutive progress snapshots.
package milestone

import (
	"time"

	"github.com/breatheroute/navcore/internal/progress"
)

// Alert thresholds for the distance and time left on a step.
const (
	HighAlertInterval   = 15 * time.Second
	HighAlertDistance   = 50.0
	MediumAlertInterval = 70 * time.Second
	MediumAlertDistance = 400.0
)

// AlertLevel is the urgency of the next maneuver.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertDepart
	AlertLow
	AlertMedium
	AlertHigh
	AlertArrive
)

func (l AlertLevel) String() string {
	switch l {
	case AlertDepart:
		return "depart"
	case AlertLow:
		return "low"
	case AlertMedium:
		return "medium"
	case AlertHigh:
		return "high"
	case AlertArrive:
		return "arrive"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Kind identifies a milestone.
type Kind string

const (
	KindDepart  Kind = "depart"
	KindNewStep Kind = "new_step"
	KindNewLeg  Kind = "new_leg"
	KindAlert   Kind = "alert"
	KindArrival Kind = "arrival"
)

// Milestone is fired when progress crosses a condition worth announcing.
type Milestone struct {
	Kind      Kind       `json:"kind"`
	Level     AlertLevel `json:"level"`
	LegIndex  int        `json:"leg_index"`
	StepIndex int        `json:"step_index"`

	// Instruction is the text of the maneuver the traveler should prepare for.
	Instruction string `json:"instruction"`

	// StepDistanceRemaining is the distance in meters to that maneuver.
	StepDistanceRemaining float64 `json:"step_distance_remaining"`
}

// Level returns the alert level for a progress snapshot.
func Level(p progress.RouteProgress) AlertLevel {
	if p.Arrived {
		return AlertArrive
	}
	switch {
	case p.StepDurationRemaining() <= HighAlertInterval || p.StepDistanceRemaining <= HighAlertDistance:
		return AlertHigh
	case p.StepDurationRemaining() <= MediumAlertInterval || p.StepDistanceRemaining <= MediumAlertDistance:
		return AlertMedium
	default:
		return AlertLow
	}
}

// Evaluator compares consecutive snapshots of one trip.
// It is owned by a single pipeline and is not safe for concurrent use.
type Evaluator struct {
	started bool
	arrived bool
	level   AlertLevel
}

// NewEvaluator creates an evaluator that has seen no progress yet.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns the milestones crossed between prev and next. prev is
// ignored on the first call.
func (e *Evaluator) Evaluate(prev, next progress.RouteProgress) []Milestone {
	var out []Milestone
	level := Level(next)

	switch {
	case !e.started:
		e.started = true
		out = append(out, newMilestone(KindDepart, AlertDepart, next, next.Step().Maneuver.Instruction))
		e.level = AlertDepart

	case next.LegIndex != prev.LegIndex:
		out = append(out, newMilestone(KindNewLeg, level, next, upcoming(next)))
		e.level = level

	case next.StepIndex != prev.StepIndex:
		out = append(out, newMilestone(KindNewStep, level, next, upcoming(next)))
		e.level = level

	case level > e.level && level != AlertArrive:
		out = append(out, newMilestone(KindAlert, level, next, upcoming(next)))
		e.level = level
	}

	if next.Arrived && !e.arrived {
		e.arrived = true
		e.level = AlertArrive
		out = append(out, newMilestone(KindArrival, AlertArrive, next, next.Step().Maneuver.Instruction))
	}

	return out
}

// Reset forgets all history. The next call to Evaluate fires a departure.
func (e *Evaluator) Reset() {
	*e = Evaluator{}
}

func newMilestone(kind Kind, level AlertLevel, p progress.RouteProgress, instruction string) Milestone {
	return Milestone{
		Kind:                  kind,
		Level:                 level,
		LegIndex:              p.LegIndex,
		StepIndex:             p.StepIndex,
		Instruction:           instruction,
		StepDistanceRemaining: p.StepDistanceRemaining,
	}
}

// upcoming returns the instruction of the maneuver that ends the current step.
func upcoming(p progress.RouteProgress) string {
	if next := p.UpcomingStep(); next != nil {
		return next.Maneuver.Instruction
	}
	return p.Step().Maneuver.Instruction
}
