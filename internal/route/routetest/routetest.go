// Package routetest provides route fixtures for tests.
package routetest

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/route"
)

// Fixture corner points around Amsterdam Centraal.
var (
	Start  = orb.Point{4.9000, 52.3700}
	Corner = orb.Point{4.9000, 52.3750}
	Stop   = orb.Point{4.9080, 52.3750}
	Finish = orb.Point{4.9080, 52.3800}
)

// Step builds a step over line with its distance taken from the geometry.
func Step(mt route.ManeuverType, modifier string, line ...orb.Point) route.Step {
	ls := orb.LineString(line)
	var bearing float64
	if len(ls) >= 2 {
		bearing = geo.Bearing(ls[0], ls[1])
	}
	distance := geo.Length(ls)
	return route.Step{
		Geometry: ls,
		Distance: distance,
		// ~36 km/h
		Duration: time.Duration(distance / 10 * float64(time.Second)),
		Maneuver: route.Maneuver{
			Type:         mt,
			Modifier:     modifier,
			Instruction:  string(mt) + " " + modifier,
			BearingAfter: bearing,
		},
	}
}

// SingleLeg returns a route that departs north, turns right heading east and
// arrives. The first two steps are each roughly 550 m long.
func SingleLeg() *route.Route {
	r, err := route.New("rte_single", []route.Leg{{
		Steps: []route.Step{
			Step(route.ManeuverDepart, "", Start, Corner),
			Step(route.ManeuverTurn, "right", Corner, Stop),
			Step(route.ManeuverArrive, "", Stop, Stop),
		},
	}})
	if err != nil {
		panic(err)
	}
	return r
}

// TwoLeg returns SingleLeg extended with a second leg heading north from Stop to Finish.
func TwoLeg() *route.Route {
	r, err := route.New("rte_two_leg", []route.Leg{
		{
			Steps: []route.Step{
				Step(route.ManeuverDepart, "", Start, Corner),
				Step(route.ManeuverTurn, "right", Corner, Stop),
				Step(route.ManeuverArrive, "", Stop, Stop),
			},
		},
		{
			Steps: []route.Step{
				Step(route.ManeuverDepart, "", Stop, Finish),
				Step(route.ManeuverArrive, "", Finish, Finish),
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// WithEmptyStep returns SingleLeg with a turn step that has no geometry
// between the two drawn steps.
func WithEmptyStep() *route.Route {
	return mustRoute("rte_empty_step", []route.Leg{{
		Steps: []route.Step{
			Step(route.ManeuverDepart, "", Start, Corner),
			Step(route.ManeuverContinue, "straight"),
			Step(route.ManeuverTurn, "right", Corner, Stop),
			Step(route.ManeuverArrive, "", Stop, Stop),
		},
	}})
}

// WithPointStep returns SingleLeg with a single-point step at Corner between
// the two drawn steps.
func WithPointStep() *route.Route {
	return mustRoute("rte_point_step", []route.Leg{{
		Steps: []route.Step{
			Step(route.ManeuverDepart, "", Start, Corner),
			Step(route.ManeuverContinue, "straight", Corner),
			Step(route.ManeuverTurn, "right", Corner, Stop),
			Step(route.ManeuverArrive, "", Stop, Stop),
		},
	}})
}

// ThreeLegEmptyEnds returns a three-leg route whose first two legs end with a
// step that has no geometry.
func ThreeLegEmptyEnds() *route.Route {
	return mustRoute("rte_empty_ends", []route.Leg{
		{Steps: []route.Step{
			Step(route.ManeuverDepart, "", Start, Corner),
			Step(route.ManeuverArrive, ""),
		}},
		{Steps: []route.Step{
			Step(route.ManeuverDepart, "", Corner, Stop),
			Step(route.ManeuverArrive, ""),
		}},
		{Steps: []route.Step{
			Step(route.ManeuverDepart, "", Stop, Finish),
			Step(route.ManeuverArrive, "", Finish, Finish),
		}},
	})
}

func mustRoute(id string, legs []route.Leg) *route.Route {
	r, err := route.New(id, legs)
	if err != nil {
		panic(err)
	}
	return r
}

// Along returns the point distance meters along the given step of r.
func Along(r *route.Route, leg, step int, distance float64) orb.Point {
	s, ok := r.Step(leg, step)
	if !ok {
		panic("routetest: step out of range")
	}
	return geo.PointAtDistanceAlong(s.Geometry, distance)
}
