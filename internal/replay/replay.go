// Package replay plays back a sequence of location events on a clock so that
// recorded or synthetic drives can stand in for a live positioning feed.
package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/breatheroute/navcore/internal/location"
)

// Errors returned by the replay stream.
var (
	ErrInvalidSpeedMultiplier = errors.New("speed multiplier must be positive")
	ErrInvalidFrequency       = errors.New("frequency must be non-negative")
	ErrInvalidBuffer          = errors.New("buffer must be non-negative")
	ErrUnsupportedOperation   = errors.New("operation not supported by replay stream")
	ErrAlreadyConsumed        = errors.New("replay stream already has a consumer")
	ErrStreamClosed           = errors.New("replay stream is closed")
)

// DefaultBuffer is the default capacity of the channel returned by Play.
const DefaultBuffer = 16

// Clock tells the stream what time it is.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds playback settings.
type Config struct {
	// SpeedMultiplier scales playback. 2 plays twice as fast as recorded.
	SpeedMultiplier float64 `yaml:"speed_multiplier"`

	// Frequency, when positive, ignores source timestamps and spaces events
	// evenly at this many events per second of playback.
	Frequency float64 `yaml:"frequency"`

	// Buffer is the capacity of the channel returned by Play.
	Buffer int `yaml:"buffer"`

	// Clock defaults to the system clock.
	Clock Clock `yaml:"-"`
}

// DefaultConfig returns real-time playback using source timestamps.
func DefaultConfig() Config {
	return Config{
		SpeedMultiplier: 1,
		Buffer:          DefaultBuffer,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SpeedMultiplier <= 0 {
		return ErrInvalidSpeedMultiplier
	}
	if c.Frequency < 0 {
		return ErrInvalidFrequency
	}
	if c.Buffer < 0 {
		return ErrInvalidBuffer
	}
	return nil
}

// Stream emits the events of a Source no earlier than their scheduled time.
//
// The first event is emitted as soon as it is polled and fixes time zero.
// Event i is then due at time zero plus its offset divided by the speed
// multiplier, where the offset is its timestamp minus the first event's
// timestamp, or i/Frequency when a frequency is set. Events are never
// skipped: an event whose offset is negative is due immediately.
//
// A Stream cannot be rewound. Build a new one to replay again.
type Stream struct {
	cfg   Config
	clock Clock

	mu      sync.Mutex
	src     Source
	pending *Event
	first   time.Time // timestamp of the first event
	start   time.Time // wall time the first event was emitted
	emitted int
	started bool
	done    bool
	closed  bool
	playing bool

	closeCh chan struct{}
}

// NewStream creates a stream over src.
func NewStream(src Source, cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Buffer == 0 {
		cfg.Buffer = DefaultBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Stream{
		cfg:     cfg,
		clock:   clock,
		src:     src,
		closeCh: make(chan struct{}),
	}, nil
}

// Poll returns the next event if it is due. It returns false when nothing is
// due yet or the stream has ended; use Done to tell the two apart.
func (s *Stream) Poll() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.peekLocked() {
		return Event{}, false
	}

	now := s.clock.Now()
	if !s.started {
		s.started = true
		s.start = now
		s.first = s.pending.Time
	} else if now.Before(s.dueLocked()) {
		return Event{}, false
	}

	ev := *s.pending
	s.pending = nil
	s.emitted++

	ev.Fix.Time = now
	ev.Fix.Provider = location.ProviderReplay
	return ev, true
}

// NextDue returns when the next event becomes due. It returns false when the
// stream has ended.
func (s *Stream) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.peekLocked() {
		return time.Time{}, false
	}
	if !s.started {
		return s.clock.Now(), true
	}
	return s.dueLocked(), true
}

// Done reports whether every event has been emitted or the stream was closed.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.peekLocked()
}

// Emitted returns the number of events emitted so far.
func (s *Stream) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// Remove always fails: a replay stream is read-only.
func (s *Stream) Remove() error {
	return ErrUnsupportedOperation
}

// Close releases the source. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	close(s.closeCh)
	return s.src.Close()
}

// Play starts a goroutine that emits events on the returned channel as they
// become due. The channel is closed when the stream ends, is closed, or ctx
// is done. A stream supports a single Play call.
func (s *Stream) Play(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrStreamClosed
	case s.playing:
		s.mu.Unlock()
		return nil, ErrAlreadyConsumed
	}
	s.playing = true
	s.mu.Unlock()

	out := make(chan Event, s.cfg.Buffer)
	go s.play(ctx, out)
	return out, nil
}

func (s *Stream) play(ctx context.Context, out chan<- Event) {
	defer close(out)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ev, ok := s.Poll(); ok {
			select {
			case out <- ev:
				continue
			case <-ctx.Done():
				return
			case <-s.closeCh:
				return
			}
		}

		due, ok := s.NextDue()
		if !ok {
			return
		}

		wait := due.Sub(s.clock.Now())
		if wait <= 0 {
			continue
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		}
	}
}

// peekLocked loads the next event from the source. It reports false once
// the stream has ended.
func (s *Stream) peekLocked() bool {
	if s.closed || s.done {
		return false
	}
	if s.pending != nil {
		return true
	}
	ev, ok := s.src.Next()
	if !ok {
		s.done = true
		return false
	}
	s.pending = &ev
	return true
}

func (s *Stream) dueLocked() time.Time {
	var offset time.Duration
	if s.cfg.Frequency > 0 {
		offset = time.Duration(float64(s.emitted) / s.cfg.Frequency * float64(time.Second))
	} else {
		offset = s.pending.Time.Sub(s.first)
	}
	if offset < 0 {
		offset = 0
	}
	return s.start.Add(time.Duration(float64(offset) / s.cfg.SpeedMultiplier))
}
