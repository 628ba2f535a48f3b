// Package geo provides the geometry primitives used by the navigation pipeline:
// distances, bearings, projection onto a line and interpolation along a line.
// All functions are pure. Points follow orb ordering (lon, lat).
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Projection is the result of projecting a point onto a line.
type Projection struct {
	// Point is the closest point on the line.
	Point orb.Point

	// DistanceAlong is the distance in meters from the start of the line to Point.
	DistanceAlong float64

	// Distance is the lateral distance in meters from the input point to Point.
	Distance float64

	// Segment is the index of the segment containing Point.
	Segment int
}

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b orb.Point) float64 {
	return orbgeo.DistanceHaversine(a, b)
}

// Bearing returns the initial bearing from a to b in degrees, normalized to [0, 360).
func Bearing(a, b orb.Point) float64 {
	return NormalizeBearing(orbgeo.Bearing(a, b))
}

// NormalizeBearing maps an angle in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	// -1e-15 mod 360 + 360 rounds to exactly 360.
	if b >= 360 {
		b = 0
	}
	return b
}

// AngleDelta returns the smallest absolute difference between two bearings, in [0, 180].
func AngleDelta(a, b float64) float64 {
	d := math.Abs(NormalizeBearing(a) - NormalizeBearing(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Destination returns the point reached by travelling distance meters from p on bearing.
func Destination(p orb.Point, bearing, distance float64) orb.Point {
	return orbgeo.PointAtBearingAndDistance(p, bearing, distance)
}

// Length returns the haversine length of the line in meters.
func Length(line orb.LineString) float64 {
	var total float64
	for i := 1; i < len(line); i++ {
		total += Distance(line[i-1], line[i])
	}
	return total
}

// ValidPoint reports whether p has finite coordinates inside the WGS84 range.
func ValidPoint(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ProjectOntoLine returns the point on line closest to p together with the
// distance along the line to that point. A line with fewer than two points
// cannot be projected onto: p is returned unchanged with zero distances.
func ProjectOntoLine(p orb.Point, line orb.LineString) Projection {
	if len(line) < 2 {
		return Projection{Point: p}
	}

	best := Projection{Distance: math.Inf(1)}
	traveled := 0.0

	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		segLen := Distance(a, b)

		t := segmentRatio(p, a, b)
		proj := interpolate(a, b, t)
		lateral := Distance(p, proj)

		if lateral < best.Distance {
			best = Projection{
				Point:         proj,
				DistanceAlong: traveled + segLen*t,
				Distance:      lateral,
				Segment:       i - 1,
			}
		}
		traveled += segLen
	}

	return best
}

// DistanceToLine returns the lateral distance in meters from p to line.
// A single-point line is measured to that point. The second result is false
// for an empty line, where no distance exists.
func DistanceToLine(p orb.Point, line orb.LineString) (float64, bool) {
	switch len(line) {
	case 0:
		return 0, false
	case 1:
		return Distance(p, line[0]), true
	default:
		return ProjectOntoLine(p, line).Distance, true
	}
}

// PointAtDistanceAlong returns the point distance meters along line.
// The distance is clamped to [0, Length(line)].
func PointAtDistanceAlong(line orb.LineString, distance float64) orb.Point {
	switch len(line) {
	case 0:
		return orb.Point{}
	case 1:
		return line[0]
	}

	if distance <= 0 || math.IsNaN(distance) {
		return line[0]
	}

	remaining := distance
	for i := 1; i < len(line); i++ {
		segLen := Distance(line[i-1], line[i])
		if remaining <= segLen {
			if segLen == 0 {
				return line[i]
			}
			return interpolate(line[i-1], line[i], remaining/segLen)
		}
		remaining -= segLen
	}

	return line[len(line)-1]
}

// segmentRatio projects p onto segment ab in a local equirectangular plane
// and returns the projection ratio clamped to [0, 1].
func segmentRatio(p, a, b orb.Point) float64 {
	if a.Equal(b) {
		return 0
	}

	cosLat := math.Cos((a.Lat() + b.Lat()) / 2 * math.Pi / 180)

	ax, ay := a.Lon()*cosLat, a.Lat()
	bx, by := b.Lon()*cosLat, b.Lat()
	px, py := p.Lon()*cosLat, p.Lat()

	dx := bx - ax
	dy := by - ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return 0
	}

	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func interpolate(a, b orb.Point, t float64) orb.Point {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return orb.Point{
		a.Lon() + t*(b.Lon()-a.Lon()),
		a.Lat() + t*(b.Lat()-a.Lat()),
	}
}
