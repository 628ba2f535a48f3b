package resilience

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker exposes the state of a circuit breaker.
type Breaker interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// Health is a point-in-time view of one provider.
type Health struct {
	Name   string
	State  gobreaker.State
	Counts gobreaker.Counts

	// Zero when the provider has not succeeded or failed yet.
	LastSuccessAt time.Time
	LastFailureAt time.Time
	LastError     string
}

// Available reports whether the provider accepts requests without a trial request.
func (h Health) Available() bool { return h.State == gobreaker.StateClosed }

// HalfOpen reports whether the circuit is half-open.
func (h Health) HalfOpen() bool { return h.State == gobreaker.StateHalfOpen }

// Registry tracks the providers the process depends on.
type Registry struct {
	now func() time.Time

	mu        sync.RWMutex
	providers map[string]*tracked
}

type tracked struct {
	breaker   Breaker
	lastOK    time.Time
	lastFail  time.Time
	lastError string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now, providers: make(map[string]*tracked)}
}

// Register starts tracking name. Registering a name again replaces its
// breaker and clears its history.
func (r *Registry) Register(name string, b Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &tracked{breaker: b}
}

// RecordSuccess notes a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		p.lastOK = r.now()
	}
}

// RecordFailure notes a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return
	}
	p.lastFail = r.now()
	if err != nil {
		p.lastError = err.Error()
	}
}

// Health returns the view of one provider.
func (r *Registry) Health(name string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Health{}, false
	}
	return p.health(name), true
}

// Snapshot returns every provider ordered by name.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	out := make([]Health, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, p.health(name))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Health) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len returns the number of tracked providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func (p *tracked) health(name string) Health {
	return Health{
		Name:          name,
		State:         p.breaker.State(),
		Counts:        p.breaker.Counts(),
		LastSuccessAt: p.lastOK,
		LastFailureAt: p.lastFail,
		LastError:     p.lastError,
	}
}
