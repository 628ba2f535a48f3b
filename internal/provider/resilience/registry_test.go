package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBreaker struct {
	state  gobreaker.State
	counts gobreaker.Counts
}

func (b *stubBreaker) State() gobreaker.State   { return b.state }
func (b *stubBreaker) Counts() gobreaker.Counts { return b.counts }

func newTestRegistry(now time.Time) *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return now }
	return r
}

func TestRegistry_Health(t *testing.T) {
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	r := newTestRegistry(now)
	b := &stubBreaker{state: gobreaker.StateHalfOpen, counts: gobreaker.Counts{Requests: 7, TotalFailures: 2}}
	r.Register("openrouteservice", b)

	r.RecordSuccess("openrouteservice")
	r.RecordFailure("openrouteservice", errors.New("server error: 502 Bad Gateway"))

	h, ok := r.Health("openrouteservice")
	require.True(t, ok)
	assert.Equal(t, Health{
		Name:          "openrouteservice",
		State:         gobreaker.StateHalfOpen,
		Counts:        gobreaker.Counts{Requests: 7, TotalFailures: 2},
		LastSuccessAt: now,
		LastFailureAt: now,
		LastError:     "server error: 502 Bad Gateway",
	}, h)
	assert.False(t, h.Available())
	assert.True(t, h.HalfOpen())
}

func TestRegistry_FailureWithoutErrorKeepsMessage(t *testing.T) {
	r := NewRegistry()
	r.Register("ors", &stubBreaker{})
	r.RecordFailure("ors", errors.New("timeout"))
	r.RecordFailure("ors", nil)

	h, _ := r.Health("ors")
	assert.Equal(t, "timeout", h.LastError)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.RecordSuccess("missing")
	r.RecordFailure("missing", errors.New("boom"))

	_, ok := r.Health("missing")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_SnapshotSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("valhalla", &stubBreaker{state: gobreaker.StateOpen})
	r.Register("openrouteservice", &stubBreaker{})
	r.Register("graphhopper", &stubBreaker{})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "graphhopper", snap[0].Name)
	assert.Equal(t, "openrouteservice", snap[1].Name)
	assert.Equal(t, "valhalla", snap[2].Name)
	assert.False(t, snap[2].Available())
	assert.False(t, snap[2].HalfOpen())
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("ors", &stubBreaker{})
	r.RecordFailure("ors", errors.New("boom"))
	r.Register("ors", &stubBreaker{state: gobreaker.StateClosed})

	h, _ := r.Health("ors")
	assert.Empty(t, h.LastError)
	assert.True(t, h.Available())
	assert.Equal(t, 1, r.Len())
}
