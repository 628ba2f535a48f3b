package geo_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/geo"
)

// A straight street running north from Amsterdam Centraal, ~1.1km long.
var northLine = orb.LineString{{4.9000, 52.3700}, {4.9000, 52.3800}}

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		a, b      orb.Point
		want      float64
		tolerance float64
	}{
		{
			name: "same point",
			a:    orb.Point{4.9, 52.37},
			b:    orb.Point{4.9, 52.37},
		},
		{
			name:      "1 degree latitude",
			a:         orb.Point{0, 0},
			b:         orb.Point{0, 1},
			want:      111_000,
			tolerance: 1_500,
		},
		{
			name:      "London to Paris",
			a:         orb.Point{-0.1278, 51.5074},
			b:         orb.Point{2.3522, 48.8566},
			want:      343_500,
			tolerance: 3_500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, geo.Distance(tt.a, tt.b), tt.tolerance)
		})
	}
}

func TestBearing_Range(t *testing.T) {
	origin := orb.Point{4.9, 52.37}
	tests := []struct {
		name string
		to   orb.Point
		want float64
	}{
		{name: "north", to: orb.Point{4.9, 52.38}, want: 0},
		{name: "east", to: orb.Point{4.91, 52.37}, want: 90},
		{name: "south", to: orb.Point{4.9, 52.36}, want: 180},
		{name: "west", to: orb.Point{4.89, 52.37}, want: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := geo.Bearing(origin, tt.to)
			assert.GreaterOrEqual(t, b, 0.0)
			assert.Less(t, b, 360.0)
			assert.InDelta(t, tt.want, b, 0.5)
		})
	}
}

func TestNormalizeBearing(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{359.5, 359.5},
		{360, 0},
		{-90, 270},
		{725, 5},
		{-1e-15, 0},
	}
	for _, tt := range tests {
		got := geo.NormalizeBearing(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "NormalizeBearing(%v)", tt.in)
		assert.Less(t, got, 360.0)
	}
}

func TestAngleDelta(t *testing.T) {
	assert.InDelta(t, 20.0, geo.AngleDelta(350, 10), 1e-9)
	assert.InDelta(t, 180.0, geo.AngleDelta(0, 180), 1e-9)
	assert.InDelta(t, 0.0, geo.AngleDelta(-360, 0), 1e-9)
}

func TestProjectOntoLine_OffLinePoint(t *testing.T) {
	// ~70m east of the street, halfway along it.
	p := orb.Point{4.9010, 52.3750}

	proj := geo.ProjectOntoLine(p, northLine)

	assert.InDelta(t, 4.9000, proj.Point.Lon(), 1e-9)
	assert.InDelta(t, 52.3750, proj.Point.Lat(), 1e-6)
	assert.InDelta(t, geo.Length(northLine)/2, proj.DistanceAlong, 1)
	assert.InDelta(t, geo.Distance(p, proj.Point), proj.Distance, 1e-9)
	assert.Equal(t, 0, proj.Segment)

	// The projection lies on the segment, so it is no farther from p than either endpoint.
	assert.LessOrEqual(t, proj.Distance, geo.Distance(p, northLine[0]))
	assert.LessOrEqual(t, proj.Distance, geo.Distance(p, northLine[1]))
}

func TestProjectOntoLine_ClampsToEndpoints(t *testing.T) {
	beforeStart := orb.Point{4.9000, 52.3600}
	pastEnd := orb.Point{4.9005, 52.3900}

	start := geo.ProjectOntoLine(beforeStart, northLine)
	assert.Equal(t, northLine[0], start.Point)
	assert.Zero(t, start.DistanceAlong)

	end := geo.ProjectOntoLine(pastEnd, northLine)
	assert.Equal(t, northLine[1], end.Point)
	assert.InDelta(t, geo.Length(northLine), end.DistanceAlong, 1e-6)
}

func TestProjectOntoLine_PicksClosestSegment(t *testing.T) {
	// North then east: an L-shaped street.
	line := orb.LineString{{4.9000, 52.3700}, {4.9000, 52.3800}, {4.9200, 52.3800}}
	p := orb.Point{4.9100, 52.3805}

	proj := geo.ProjectOntoLine(p, line)

	require.Equal(t, 1, proj.Segment)
	assert.InDelta(t, 52.3800, proj.Point.Lat(), 1e-9)
	assert.InDelta(t, geo.Distance(line[0], line[1])+geo.Distance(line[1], proj.Point), proj.DistanceAlong, 1)
}

func TestProjectOntoLine_Degenerate(t *testing.T) {
	p := orb.Point{4.91, 52.371}

	for _, line := range []orb.LineString{nil, {}, {{4.9, 52.37}}} {
		proj := geo.ProjectOntoLine(p, line)
		assert.Equal(t, p, proj.Point)
		assert.Zero(t, proj.DistanceAlong)
		assert.Zero(t, proj.Distance)
	}
}

func TestDistanceToLine(t *testing.T) {
	p := orb.Point{4.9010, 52.3750}

	_, ok := geo.DistanceToLine(p, nil)
	assert.False(t, ok)

	d, ok := geo.DistanceToLine(p, orb.LineString{{4.9000, 52.3750}})
	require.True(t, ok)
	assert.InDelta(t, geo.Distance(p, orb.Point{4.9000, 52.3750}), d, 1e-9)

	d, ok = geo.DistanceToLine(p, northLine)
	require.True(t, ok)
	assert.InDelta(t, 68, d, 2)
}

func TestPointAtDistanceAlong(t *testing.T) {
	total := geo.Length(northLine)

	tests := []struct {
		name     string
		distance float64
		want     orb.Point
	}{
		{name: "negative clamps to start", distance: -50, want: northLine[0]},
		{name: "zero is start", distance: 0, want: northLine[0]},
		{name: "midpoint", distance: total / 2, want: orb.Point{4.9000, 52.3750}},
		{name: "beyond end clamps", distance: total + 500, want: northLine[1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geo.PointAtDistanceAlong(northLine, tt.distance)
			assert.InDelta(t, tt.want.Lon(), got.Lon(), 1e-7)
			assert.InDelta(t, tt.want.Lat(), got.Lat(), 1e-7)
		})
	}

	assert.Equal(t, orb.Point{}, geo.PointAtDistanceAlong(nil, 10))
	assert.Equal(t, northLine[0], geo.PointAtDistanceAlong(northLine[:1], 10))
}

func TestPointAtDistanceAlong_InvertsProjection(t *testing.T) {
	line := orb.LineString{{4.9000, 52.3700}, {4.9000, 52.3800}, {4.9200, 52.3800}}
	p := orb.Point{4.9133, 52.3790}

	proj := geo.ProjectOntoLine(p, line)
	back := geo.PointAtDistanceAlong(line, proj.DistanceAlong)

	assert.Less(t, geo.Distance(back, proj.Point), 0.01)
}

func TestDestination(t *testing.T) {
	start := orb.Point{4.9, 52.37}
	dest := geo.Destination(start, 90, 100)

	assert.InDelta(t, 100, geo.Distance(start, dest), 0.5)
	assert.InDelta(t, 90, geo.Bearing(start, dest), 0.5)
}

func TestValidPoint(t *testing.T) {
	assert.True(t, geo.ValidPoint(orb.Point{4.9, 52.37}))
	assert.True(t, geo.ValidPoint(orb.Point{-180, -90}))
	assert.False(t, geo.ValidPoint(orb.Point{math.NaN(), 52}))
	assert.False(t, geo.ValidPoint(orb.Point{4.9, math.Inf(1)}))
	assert.False(t, geo.ValidPoint(orb.Point{181, 0}))
	assert.False(t, geo.ValidPoint(orb.Point{0, 91}))
}
