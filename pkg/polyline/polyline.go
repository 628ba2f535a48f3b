// Package polyline implements the Encoded Polyline Algorithm Format used by
// OpenRouteService, OSRM and Google for route geometry.
// See https://developers.google.com/maps/documentation/utilities/polylinealgorithm.
package polyline

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ErrMalformed is returned for input that ends inside a value or holds
// characters outside the encoding alphabet.
var ErrMalformed = errors.New("malformed polyline")

// Codec encodes and decodes at a fixed number of decimal places.
type Codec struct {
	factor float64
}

var (
	// Polyline5 is the ORS and Google precision.
	Polyline5 = NewCodec(5)
	// Polyline6 is the OSRM and Valhalla precision.
	Polyline6 = NewCodec(6)
)

func NewCodec(precision int) Codec {
	return Codec{factor: math.Pow10(precision)}
}

// Decode is Polyline5.Decode.
func Decode(s string) (orb.LineString, error) { return Polyline5.Decode(s) }

// Encode is Polyline5.Encode.
func Encode(line orb.LineString) string { return Polyline5.Encode(line) }

// Decode returns the points of s in [lon, lat] order. The empty string
// decodes to a nil line.
func (c Codec) Decode(s string) (orb.LineString, error) {
	if s == "" {
		return nil, nil
	}

	var (
		line     orb.LineString
		lat, lon int64
		pos      int
	)
	for pos < len(s) {
		dlat, next, err := readValue(s, pos)
		if err != nil {
			return nil, err
		}
		dlon, next, err := readValue(s, next)
		if err != nil {
			return nil, err
		}
		pos = next
		lat += dlat
		lon += dlon
		line = append(line, orb.Point{float64(lon) / c.factor, float64(lat) / c.factor})
	}
	return line, nil
}

// readValue reads the zigzag varint starting at pos.
func readValue(s string, pos int) (int64, int, error) {
	var v int64
	for shift := uint(0); ; shift += 5 {
		if pos >= len(s) {
			return 0, pos, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, pos)
		}
		chunk := int64(s[pos]) - 63
		if chunk < 0 || chunk > 0x3f || shift > 60 {
			return 0, pos, fmt.Errorf("%w: bad byte %q at %d", ErrMalformed, s[pos], pos)
		}
		pos++
		v |= (chunk & 0x1f) << shift
		if chunk < 0x20 {
			break
		}
	}
	if v&1 == 1 {
		return ^(v >> 1), pos, nil
	}
	return v >> 1, pos, nil
}

// Encode writes line as deltas between rounded coordinates, latitude first.
func (c Codec) Encode(line orb.LineString) string {
	if len(line) == 0 {
		return ""
	}
	out := make([]byte, 0, 6*len(line))
	var prevLat, prevLon int64
	for _, p := range line {
		lat := int64(math.Round(p.Lat() * c.factor))
		lon := int64(math.Round(p.Lon() * c.factor))
		out = appendValue(out, lat-prevLat)
		out = appendValue(out, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return string(out)
}

func appendValue(out []byte, v int64) []byte {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for ; u >= 0x20; u >>= 5 {
		out = append(out, byte(0x20|u&0x1f)+63)
	}
	return append(out, byte(u)+63)
}

// Length is the haversine length of line in meters.
func Length(line orb.LineString) float64 {
	return geo.LengthHaversine(line)
}

// Sample walks line and emits a point every interval meters, plus both
// endpoints. A non-positive interval returns line unchanged.
func Sample(line orb.LineString, interval float64) orb.LineString {
	if len(line) == 0 {
		return nil
	}
	if interval <= 0 {
		return line
	}

	out := orb.LineString{line[0]}
	// untilNext is the distance left before the next sample is due.
	untilNext := interval
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		seg := geo.DistanceHaversine(a, b)
		at := 0.0
		for seg-at >= untilNext {
			at += untilNext
			f := at / seg
			out = append(out, orb.Point{a[0] + f*(b[0]-a[0]), a[1] + f*(b[1]-a[1])})
			untilNext = interval
		}
		untilNext -= seg - at
	}

	if last := line[len(line)-1]; !out[len(out)-1].Equal(last) {
		out = append(out, last)
	}
	return out
}
