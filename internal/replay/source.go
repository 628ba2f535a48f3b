package replay

import (
	"time"

	"github.com/breatheroute/navcore/internal/geo"
	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Event is a timestamped location fix.
type Event struct {
	Time time.Time
	Fix  location.Fix
}

// Source is a finite, forward-only sequence of events.
type Source interface {
	// Next returns the next event, or false once the source is exhausted.
	Next() (Event, bool)
	// Close releases the source. Next returns false afterwards.
	Close() error
}

// SliceSource replays events held in memory.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource returns a source over events. The slice is not copied.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next implements Source.
func (s *SliceSource) Next() (Event, bool) {
	if s.pos >= len(s.events) {
		return Event{}, false
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true
}

// Close implements Source.
func (s *SliceSource) Close() error {
	s.events = nil
	s.pos = 0
	return nil
}

// Defaults for simulated drives.
const (
	DefaultRouteSpeed    = 13.9 // m/s, about 50 km/h
	DefaultRouteInterval = time.Second
	DefaultRouteAccuracy = 5.0
)

// RouteConfig controls a simulated drive along a route.
type RouteConfig struct {
	Speed    float64       // meters per second
	Interval time.Duration // time between fixes
	Accuracy float64       // reported accuracy in meters
	Start    time.Time     // timestamp of the first fix, defaults to now
}

// FromRoute returns a source that drives the route geometry at a constant
// speed. Fixes carry the bearing towards the next sample. The final fix is
// stationary.
func FromRoute(r *route.Route, cfg RouteConfig) *SliceSource {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultRouteSpeed
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRouteInterval
	}
	if cfg.Accuracy <= 0 {
		cfg.Accuracy = DefaultRouteAccuracy
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}

	samples := polyline.Sample(r.Geometry(), cfg.Speed*cfg.Interval.Seconds())
	events := make([]Event, 0, len(samples))

	var traveled, bearing float64
	for i, p := range samples {
		if i > 0 {
			traveled += geo.Distance(samples[i-1], p)
		}

		speed := cfg.Speed
		if i+1 < len(samples) {
			bearing = geo.Bearing(p, samples[i+1])
		} else {
			speed = 0
		}

		at := cfg.Start.Add(time.Duration(traveled / cfg.Speed * float64(time.Second)))
		events = append(events, Event{
			Time: at,
			Fix: location.Fix{
				Point:    p,
				Bearing:  bearing,
				Speed:    speed,
				Accuracy: cfg.Accuracy,
				Time:     at,
				Provider: location.ProviderReplay,
			},
		})
	}

	return NewSliceSource(events)
}
