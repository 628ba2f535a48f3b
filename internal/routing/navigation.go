package routing

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// ErrMalformedRoute indicates provider output that cannot be navigated, such as
// instructions whose way points fall outside the geometry.
var ErrMalformedRoute = errors.New("malformed route")

// ORS instruction type codes.
const (
	orsLeft = iota
	orsRight
	orsSharpLeft
	orsSharpRight
	orsSlightLeft
	orsSlightRight
	orsStraight
	orsEnterRoundabout
	orsExitRoundabout
	orsUTurn
	orsGoal
	orsDepart
	orsKeepLeft
	orsKeepRight
)

// maneuverFor maps an ORS instruction type to a maneuver type and modifier.
func maneuverFor(code int) (route.ManeuverType, string) {
	switch code {
	case orsLeft:
		return route.ManeuverTurn, "left"
	case orsRight:
		return route.ManeuverTurn, "right"
	case orsSharpLeft:
		return route.ManeuverTurn, "sharp left"
	case orsSharpRight:
		return route.ManeuverTurn, "sharp right"
	case orsSlightLeft:
		return route.ManeuverTurn, "slight left"
	case orsSlightRight:
		return route.ManeuverTurn, "slight right"
	case orsStraight:
		return route.ManeuverContinue, "straight"
	case orsEnterRoundabout:
		return route.ManeuverRoundabout, ""
	case orsExitRoundabout:
		return route.ManeuverExitRoundabout, ""
	case orsUTurn:
		return route.ManeuverUTurn, ""
	case orsGoal:
		return route.ManeuverArrive, ""
	case orsDepart:
		return route.ManeuverDepart, ""
	case orsKeepLeft:
		return route.ManeuverFork, "left"
	case orsKeepRight:
		return route.ManeuverFork, "right"
	default:
		return route.ManeuverContinue, ""
	}
}

// NavigationRoute converts the provider route into a navigable route. Each
// instruction becomes a step whose geometry is the slice of the decoded
// polyline between its way points.
func (r *Route) NavigationRoute(id string) (*route.Route, error) {
	line, err := polyline.Decode(r.GeometryPolyline)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRoute, err)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty geometry", ErrMalformedRoute)
	}

	legs := make([]route.Leg, 0, len(r.Legs))
	var prevBearing float64

	for li := range r.Legs {
		src := &r.Legs[li]
		if len(src.Instructions) == 0 {
			return nil, fmt.Errorf("%w: leg %d has no instructions", ErrMalformedRoute, li)
		}

		steps := make([]route.Step, 0, len(src.Instructions))
		for si, inst := range src.Instructions {
			from, to := inst.WayPoints[0], inst.WayPoints[1]
			if from < 0 || to < from || to >= len(line) {
				return nil, fmt.Errorf("%w: leg %d step %d way points %v outside geometry of %d points",
					ErrMalformedRoute, li, si, inst.WayPoints, len(line))
			}

			geometry := make(orb.LineString, to-from+1)
			copy(geometry, line[from:to+1])

			mt, modifier := maneuverFor(inst.Type)
			maneuver := route.Maneuver{
				Type:           mt,
				Modifier:       modifier,
				RoundaboutExit: inst.ExitNumber,
				Instruction:    inst.Text,
				Location:       geometry[0],
				BearingBefore:  prevBearing,
				BearingAfter:   prevBearing,
			}
			if len(geometry) >= 2 {
				maneuver.BearingAfter = geo.Bearing(geometry[0], geometry[1])
				prevBearing = geo.Bearing(geometry[len(geometry)-2], geometry[len(geometry)-1])
			}

			steps = append(steps, route.Step{
				Geometry: geometry,
				Distance: inst.DistanceMeters,
				Duration: seconds(inst.DurationSeconds),
				Name:     inst.Name,
				Maneuver: maneuver,
			})
		}

		legs = append(legs, route.Leg{
			Steps:    steps,
			Distance: src.DistanceMeters,
			Duration: seconds(src.DurationSeconds),
			Summary:  r.Summary,
		})
	}

	return route.New(id, legs)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
