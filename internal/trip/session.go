package trip

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breatheroute/navcore/internal/location"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/offroute"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/replay"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/snap"
)

// DefaultQueueSize is the default capacity of a session's command queue.
const DefaultQueueSize = 64

// Update is the pipeline output for one processed command.
type Update struct {
	// Generation is the route generation the update belongs to.
	Generation uint64
	Progress   progress.RouteProgress
	// Location is the snapped fix. Raw is the fix as submitted.
	Location   location.Fix
	Raw        location.Fix
	OffRoute   bool
	Status     offroute.Status
	Milestones []milestone.Milestone
	// Rerouted is set on the update emitted when a new route takes effect.
	Rerouted bool
}

// Listener receives every update synchronously on the pipeline goroutine.
// Implementations must not block and must not call back into the session's
// blocking methods.
type Listener interface {
	OnUpdate(Update)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Update)

// OnUpdate implements Listener.
func (f ListenerFunc) OnUpdate(u Update) { f(u) }

// SessionConfig configures a navigation session.
type SessionConfig struct {
	AccuracyThreshold float64
	Progress          progress.Config
	OffRoute          offroute.Config
	// QueueSize bounds the command queue. Zero uses DefaultQueueSize.
	QueueSize int
	// Snap defaults to snap.ToRoute.
	Snap snap.Snap
	// Listener is notified of every update. Optional.
	Listener Listener
	// OnOffRoute is called on the pipeline goroutine when the traveler goes
	// from on route to off route. Optional.
	OnOffRoute func(Update)
	Metrics    *Metrics
}

type command struct {
	generation uint64
	fix        location.Fix
	route      *route.Route
}

// Session is the single-writer location pipeline of one trip. Fixes and
// reroutes are queued in FIFO order and processed one at a time by a single
// goroutine, which owns all navigation state. Readers only see copies.
type Session struct {
	cfg SessionConfig

	// Owned by the pipeline goroutine.
	validator *location.Validator
	tracker   *progress.Tracker
	snapper   snap.Snap
	detector  *offroute.Detector
	evaluator *milestone.Evaluator
	applied   uint64
	offRoute  bool

	queue      chan command
	generation atomic.Uint64

	// pending holds the latest requested reroute until the pipeline applies it.
	rerouteMu sync.Mutex
	pending   *command
	wake      chan struct{}

	mu     sync.RWMutex
	latest Update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	replayMu sync.Mutex
	stream   *replay.Stream
	stopped  bool
	stopOnce sync.Once
}

// NewSession starts a pipeline for r positioned at its first step.
func NewSession(r *route.Route, cfg SessionConfig) *Session {
	// The first step always exists.
	s, _ := NewSessionAt(r, 0, 0, cfg)
	return s
}

// NewSessionAt starts a pipeline for r positioned at the given step. It is
// used to resume a persisted trip.
func NewSessionAt(r *route.Route, leg, step int, cfg SessionConfig) (*Session, error) {
	tracker, err := progress.NewTrackerAt(r, leg, step, cfg.Progress)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Snap == nil {
		cfg.Snap = snap.ToRoute{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		validator: location.NewValidator(cfg.AccuracyThreshold),
		tracker:   tracker,
		snapper:   cfg.Snap,
		detector:  offroute.NewDetector(cfg.OffRoute),
		evaluator: milestone.NewEvaluator(),
		queue:     make(chan command, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.latest = s.initialUpdate(false)

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Submit queues a fix. It blocks while the queue is full until the fix is
// queued or ctx is done. The fix belongs to the route generation current at
// the time of the call.
func (s *Session) Submit(ctx context.Context, fix location.Fix) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return s.enqueue(ctx, command{generation: s.generation.Load(), fix: fix})
}

// Reroute switches the session to r. It does not wait for queued fixes:
// every fix submitted before the call is discarded, and the new route takes
// effect before any fix submitted after it. When several reroutes are pending
// only the latest is applied.
func (s *Session) Reroute(ctx context.Context, r *route.Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	// pending is set before the generation is published, so a fix stamped
	// with the new generation always finds its route waiting.
	s.rerouteMu.Lock()
	gen := s.generation.Load() + 1
	s.pending = &command{generation: gen, route: r}
	s.generation.Store(gen)
	s.rerouteMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) enqueue(ctx context.Context, cmd command) error {
	select {
	case s.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// AttachReplay plays stream into the session. The stream is closed when the
// session stops.
func (s *Session) AttachReplay(stream *replay.Stream) error {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	switch {
	case s.stopped:
		return ErrSessionClosed
	case s.stream != nil:
		return ErrReplayAttached
	}

	events, err := stream.Play(s.ctx)
	if err != nil {
		return err
	}
	s.stream = stream

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range events {
			if err := s.Submit(s.ctx, ev.Fix); err != nil {
				return
			}
		}
	}()
	return nil
}

// Latest returns the most recent update.
func (s *Session) Latest() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Generation returns the current route generation.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Stop closes the replay stream, halts the pipeline and waits for its
// goroutines to exit. Queued commands are discarded. It is safe to call more
// than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.replayMu.Lock()
		s.stopped = true
		stream := s.stream
		s.replayMu.Unlock()

		if stream != nil {
			_ = stream.Close() //nolint:errcheck // slice and route sources never fail to close
		}
		s.cancel()
		s.wg.Wait()
	})
}

// Done is closed once Stop has been called.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			s.applyPending()
		case cmd := <-s.queue:
			// Stop wins over queued work.
			if s.ctx.Err() != nil {
				return
			}
			s.applyPending()
			s.process(cmd)
		}
	}
}

func (s *Session) applyPending() {
	s.rerouteMu.Lock()
	cmd := s.pending
	s.pending = nil
	s.rerouteMu.Unlock()

	if cmd == nil {
		return
	}

	s.tracker.Reroute(cmd.route)
	s.detector.Reset()
	s.validator.Reset()
	s.evaluator.Reset()
	s.applied = cmd.generation
	s.offRoute = false

	s.publish(s.initialUpdate(true))
}

func (s *Session) process(cmd command) {
	if cmd.generation != s.applied {
		s.cfg.Metrics.recordRejected(rejectStale)
		return
	}
	if !s.validator.IsValidUpdate(cmd.fix) {
		s.cfg.Metrics.recordRejected(rejectAccuracy)
		return
	}

	start := time.Now()

	prev := s.tracker.Current()
	p := s.tracker.Update(cmd.fix)
	snapped := s.snapper.Snap(cmd.fix, p)
	off := s.detector.IsUserOffRoute(cmd.fix, p)
	milestones := s.evaluator.Evaluate(prev, p)

	u := Update{
		Generation: s.applied,
		Progress:   p,
		Location:   snapped,
		Raw:        cmd.fix,
		OffRoute:   off,
		Status:     s.detector.Status(),
		Milestones: milestones,
	}
	s.cfg.Metrics.recordFix(time.Since(start))
	for _, m := range milestones {
		s.cfg.Metrics.recordMilestone(string(m.Kind))
	}
	s.publish(u)

	if off && !s.offRoute {
		s.cfg.Metrics.recordOffRoute()
		if s.cfg.OnOffRoute != nil {
			s.cfg.OnOffRoute(u)
		}
	}
	s.offRoute = off
}

func (s *Session) publish(u Update) {
	s.mu.Lock()
	s.latest = u
	s.mu.Unlock()

	if s.cfg.Listener != nil {
		s.cfg.Listener.OnUpdate(u)
	}
}

// initialUpdate describes the tracker's current position before any fix.
func (s *Session) initialUpdate(rerouted bool) Update {
	p := s.tracker.Current()
	return Update{
		Generation: s.applied,
		Progress:   p,
		Location:   location.Fix{Point: p.Location, Time: p.UpdatedAt},
		Status:     s.detector.Status(),
		Rerouted:   rerouted,
	}
}
