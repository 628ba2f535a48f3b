// Package location defines location fixes and the accuracy gate that decides
// which fixes enter the navigation pipeline.
package location

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
)

// DefaultAccuracyThreshold is the default maximum accepted horizontal accuracy in meters.
const DefaultAccuracyThreshold = 100.0

// Provider tags identify where a fix came from.
const (
	ProviderGPS     = "gps"
	ProviderReplay  = "replay"
	ProviderSnapped = "snapped"
)

// Fix is a single location sample.
type Fix struct {
	Point    orb.Point // lon, lat
	Bearing  float64   // degrees, [0, 360)
	Speed    float64   // meters per second
	Accuracy float64   // horizontal accuracy radius in meters
	Time     time.Time
	Provider string
}

// Lat returns the latitude of the fix.
func (f Fix) Lat() float64 { return f.Point.Lat() }

// Lon returns the longitude of the fix.
func (f Fix) Lon() float64 { return f.Point.Lon() }

// Validator gates fixes on accuracy. The first fix it sees is always accepted
// so a session can bootstrap even with a poor initial lock. A Validator is
// owned by a single pipeline and is not safe for concurrent use.
type Validator struct {
	threshold float64
	seen      bool
}

// NewValidator creates a validator. A threshold <= 0 uses DefaultAccuracyThreshold.
func NewValidator(threshold float64) *Validator {
	if threshold <= 0 {
		threshold = DefaultAccuracyThreshold
	}
	return &Validator{threshold: threshold}
}

// Threshold returns the accuracy threshold in meters.
func (v *Validator) Threshold() float64 {
	return v.threshold
}

// IsValidUpdate reports whether fix should be forwarded to the tracker.
// Fixes with unusable coordinates are never valid.
func (v *Validator) IsValidUpdate(fix Fix) bool {
	if !geo.ValidPoint(fix.Point) {
		return false
	}
	if !v.seen {
		v.seen = true
		return true
	}
	return fix.Accuracy <= v.threshold
}

// Reset makes the next fix a bootstrap fix again.
func (v *Validator) Reset() {
	v.seen = false
}
