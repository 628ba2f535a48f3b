// Package snap corrects raw location fixes against the route being followed.
package snap

import (
	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/progress"
)

// bearingWindow is the distance in meters between the two samples used to
// derive the road bearing.
const bearingWindow = 1.0

// Snap is a strategy that turns a raw fix into a corrected one.
type Snap interface {
	Snap(fix location.Fix, p progress.RouteProgress) location.Fix
}

// ToRoute snaps moving fixes onto the geometry of the current step.
type ToRoute struct{}

// Snap implements Snap. Stationary fixes and steps without a usable
// geometry are passed through unchanged.
func (ToRoute) Snap(fix location.Fix, p progress.RouteProgress) location.Fix {
	if fix.Speed <= 0 {
		return fix
	}

	line := p.Step().Geometry
	if len(line) < 2 {
		return fix
	}

	proj := geo.ProjectOntoLine(fix.Point, line)
	length := geo.Length(line)

	// The window starts at the distance traveled on the step, converted from
	// the step's reported distance to meters along its geometry.
	from := proj.DistanceAlong
	if d := p.Step().Distance; d > 0 {
		from = p.StepDistanceTraveled * length / d
	}
	if from+bearingWindow > length {
		from = length - bearingWindow
	}
	if from < 0 {
		from = 0
	}
	a := geo.PointAtDistanceAlong(line, from)
	b := geo.PointAtDistanceAlong(line, from+bearingWindow)

	snapped := fix
	snapped.Point = proj.Point
	if !a.Equal(b) {
		snapped.Bearing = geo.Bearing(a, b)
	}
	snapped.Provider = location.ProviderSnapped
	return snapped
}
