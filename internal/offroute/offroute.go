// Package offroute decides whether a traveler has left the planned route.
//
// The detector moves from on-route to off-route after DebounceCount
// consecutive outlier fixes. Once off-route it stays there until Reset,
// which the trip pipeline calls when a new route is supplied.
package offroute

import (
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/progress"
)

// Default detector settings.
const (
	DefaultMinimumDistance    = 50.0
	DefaultAccuracyMultiplier = 1.0
	DefaultDebounceCount      = 3
	DefaultDeadReckoning      = time.Second
)

// Config holds detector settings.
type Config struct {
	// MinimumDistance is the lateral distance in meters below which a fix is
	// never an outlier, however accurate it claims to be.
	MinimumDistance float64 `yaml:"minimum_distance" validate:"gte=0"`

	// AccuracyMultiplier scales the reported accuracy into a threshold, so
	// poor fixes get a looser threshold.
	AccuracyMultiplier float64 `yaml:"accuracy_multiplier" validate:"gte=0"`

	// DebounceCount is the number of consecutive outliers needed to flag off-route.
	DebounceCount int `yaml:"debounce_count" validate:"gte=0"`

	// DeadReckoning is how far ahead the fix is projected along its own
	// bearing and speed. The projected point must be an outlier too.
	DeadReckoning time.Duration `yaml:"dead_reckoning"`

	// DisableDeadReckoning turns the look-ahead check off.
	DisableDeadReckoning bool `yaml:"disable_dead_reckoning"`
}

// DefaultConfig returns the default detector settings.
func DefaultConfig() Config {
	return Config{
		MinimumDistance:    DefaultMinimumDistance,
		AccuracyMultiplier: DefaultAccuracyMultiplier,
		DebounceCount:      DefaultDebounceCount,
		DeadReckoning:      DefaultDeadReckoning,
	}
}

func (c Config) withDefaults() Config {
	if c.MinimumDistance <= 0 {
		c.MinimumDistance = DefaultMinimumDistance
	}
	if c.AccuracyMultiplier <= 0 {
		c.AccuracyMultiplier = DefaultAccuracyMultiplier
	}
	if c.DebounceCount <= 0 {
		c.DebounceCount = DefaultDebounceCount
	}
	if c.DeadReckoning <= 0 {
		c.DeadReckoning = DefaultDeadReckoning
	}
	if c.DisableDeadReckoning {
		c.DeadReckoning = 0
	}
	return c
}

// Status is a read-only view of the detector state.
type Status struct {
	OffRoute            bool
	ConsecutiveOutliers int
	LastValidLeg        int
	LastValidStep       int
	// LastDistance is the lateral distance in meters measured for the latest fix.
	LastDistance float64
	// LastThreshold is the threshold the latest fix was compared against.
	LastThreshold float64
}

// Detector tracks the on-route/off-route state of one trip.
// It is owned by a single pipeline and is not safe for concurrent use.
type Detector struct {
	cfg    Config
	status Status
}

// NewDetector creates a detector in the on-route state.
func NewDetector(cfg Config) *Detector {
	d := &Detector{cfg: cfg.withDefaults()}
	d.Reset()
	return d
}

// Config returns the effective settings.
func (d *Detector) Config() Config {
	return d.cfg
}

// IsUserOffRoute evaluates fix against the current and upcoming step of p
// and returns the resulting verdict.
func (d *Detector) IsUserOffRoute(fix location.Fix, p progress.RouteProgress) bool {
	if d.status.OffRoute {
		return true
	}

	threshold := d.Threshold(fix.Accuracy)
	distance, ok := d.lateralDistance(fix.Point, p)

	d.status.LastThreshold = threshold
	d.status.LastDistance = distance

	if !ok || distance <= threshold || !d.aheadIsOut(fix, p, threshold) {
		d.status.ConsecutiveOutliers = 0
		d.status.LastValidLeg = p.LegIndex
		d.status.LastValidStep = p.StepIndex
		return false
	}

	d.status.ConsecutiveOutliers++
	if d.status.ConsecutiveOutliers >= d.cfg.DebounceCount {
		d.status.OffRoute = true
	}
	return d.status.OffRoute
}

// Threshold returns the lateral distance threshold for a fix with the given accuracy.
func (d *Detector) Threshold(accuracy float64) float64 {
	if math.IsNaN(accuracy) || accuracy < 0 {
		accuracy = 0
	}
	return math.Max(d.cfg.MinimumDistance, accuracy*d.cfg.AccuracyMultiplier)
}

// Status returns a copy of the detector state.
func (d *Detector) Status() Status {
	return d.status
}

// Reset returns the detector to the on-route state with cleared counters.
func (d *Detector) Reset() {
	d.status = Status{LastValidLeg: -1, LastValidStep: -1}
}

// lateralDistance returns the distance from pt to the nearer of the current
// and upcoming step. Near a maneuver the traveler may already be on the next
// street before the tracker advances. ok is false when neither step has geometry.
func (d *Detector) lateralDistance(pt orb.Point, p progress.RouteProgress) (float64, bool) {
	best, found := math.Inf(1), false

	if dist, ok := geo.DistanceToLine(pt, p.Step().Geometry); ok {
		best, found = dist, true
	}
	if next := p.UpcomingStep(); next != nil {
		if dist, ok := geo.DistanceToLine(pt, next.Geometry); ok && dist < best {
			best, found = dist, true
		}
	}

	if !found {
		return 0, false
	}
	return best, true
}

// aheadIsOut reports whether the dead-reckoned position is also an outlier.
// It is true when dead reckoning is off or the fix is not moving.
func (d *Detector) aheadIsOut(fix location.Fix, p progress.RouteProgress, threshold float64) bool {
	if d.cfg.DeadReckoning <= 0 || fix.Speed <= 0 {
		return true
	}
	ahead := geo.Destination(fix.Point, fix.Bearing, fix.Speed*d.cfg.DeadReckoning.Seconds())
	dist, ok := d.lateralDistance(ahead, p)
	return !ok || dist > threshold
}
