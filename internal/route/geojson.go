package route

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/breatheroute/navcore/internal/geo"
)

// GeoJSON feature property keys used for step metadata.
const (
	PropLeg              = "leg"
	PropDistance         = "distance"
	PropDuration         = "duration"
	PropName             = "name"
	PropManeuverType     = "maneuver_type"
	PropManeuverModifier = "maneuver_modifier"
	PropInstruction      = "instruction"
	PropRoundaboutExit   = "roundabout_exit"
	PropBearingBefore    = "bearing_before"
	PropBearingAfter     = "bearing_after"
)

// ErrUnsupportedGeometry indicates a feature whose geometry is not a LineString.
var ErrUnsupportedGeometry = errors.New("step geometry must be a LineString")

// FromFeatureCollection builds a route from a GeoJSON feature collection in
// which every feature is a LineString step. Steps are grouped into legs by the
// "leg" property and keep their order within the collection. A missing
// distance property is computed from the geometry.
func FromFeatureCollection(id string, fc *geojson.FeatureCollection) (*Route, error) {
	if fc == nil || len(fc.Features) == 0 {
		return nil, &ValidationError{Leg: -1, Step: -1, Err: ErrEmptyRoute}
	}

	var legs []Leg
	for i, f := range fc.Features {
		line, ok := f.Geometry.(orb.LineString)
		if !ok {
			return nil, fmt.Errorf("feature %d: %w", i, ErrUnsupportedGeometry)
		}

		legIndex := f.Properties.MustInt(PropLeg, 0)
		if legIndex < 0 || legIndex < len(legs)-1 || legIndex > len(legs) {
			return nil, fmt.Errorf("feature %d: leg %d out of order", i, legIndex)
		}
		if legIndex == len(legs) {
			legs = append(legs, Leg{})
		}

		distance := f.Properties.MustFloat64(PropDistance, -1)
		if distance < 0 {
			distance = geo.Length(line)
		}

		step := Step{
			Geometry: line,
			Distance: distance,
			Duration: time.Duration(f.Properties.MustFloat64(PropDuration, 0) * float64(time.Second)),
			Name:     f.Properties.MustString(PropName, ""),
			Maneuver: Maneuver{
				Type:           ManeuverType(f.Properties.MustString(PropManeuverType, string(ManeuverContinue))),
				Modifier:       f.Properties.MustString(PropManeuverModifier, ""),
				RoundaboutExit: f.Properties.MustInt(PropRoundaboutExit, 0),
				Instruction:    f.Properties.MustString(PropInstruction, ""),
				BearingBefore:  f.Properties.MustFloat64(PropBearingBefore, 0),
				BearingAfter:   f.Properties.MustFloat64(PropBearingAfter, 0),
			},
		}
		legs[legIndex].Steps = append(legs[legIndex].Steps, step)
	}

	return New(id, legs)
}

// FeatureCollection exports the route as one LineString feature per step.
func (r *Route) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for li := range r.Legs {
		for si := range r.Legs[li].Steps {
			step := &r.Legs[li].Steps[si]
			f := geojson.NewFeature(step.Geometry)
			f.Properties[PropLeg] = li
			f.Properties[PropDistance] = step.Distance
			f.Properties[PropDuration] = step.Duration.Seconds()
			f.Properties[PropManeuverType] = string(step.Maneuver.Type)
			f.Properties[PropBearingBefore] = step.Maneuver.BearingBefore
			f.Properties[PropBearingAfter] = step.Maneuver.BearingAfter
			if step.Name != "" {
				f.Properties[PropName] = step.Name
			}
			if step.Maneuver.Modifier != "" {
				f.Properties[PropManeuverModifier] = step.Maneuver.Modifier
			}
			if step.Maneuver.Instruction != "" {
				f.Properties[PropInstruction] = step.Maneuver.Instruction
			}
			if step.Maneuver.RoundaboutExit > 0 {
				f.Properties[PropRoundaboutExit] = step.Maneuver.RoundaboutExit
			}
			fc.Append(f)
		}
	}
	return fc
}
