package routing

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// cacheResult labels a cache lookup in metrics.
type cacheResult string

const (
	cacheHit    cacheResult = "hit"
	cacheMiss   cacheResult = "miss"
	cacheStale  cacheResult = "stale"
	cacheBypass cacheResult = "bypass"
)

type cacheEntry struct {
	response  *DirectionsResponse
	fetchedAt time.Time
}

// directionsCache keys responses by quantized coordinates. Entries are fresh
// for ttl and remain usable as a fallback until staleTTL has passed.
type directionsCache struct {
	ttl        time.Duration
	staleTTL   time.Duration
	originGrid float64
	stopGrid   float64
	sweepEvery time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

// key quantizes the origin on a finer grid than the remaining stops. The
// origin of a trip request is the traveler's position, which a coarse cell
// would move by hundreds of meters; stops are fixed.
func (c *directionsCache) key(req DirectionsRequest) string {
	var b strings.Builder
	b.WriteString(string(req.Profile))
	for i, p := range req.Coordinates() {
		grid := c.stopGrid
		if i == 0 {
			grid = c.originGrid
		}
		fmt.Fprintf(&b, "|%d,%d", int64(math.Floor(p.Lat/grid)), int64(math.Floor(p.Lon/grid)))
	}
	return b.String()
}

func (c *directionsCache) fresh(key string) (*DirectionsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.response, true
}

// stale returns an entry past its ttl but inside the stale window.
func (c *directionsCache) stale(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.staleTTL {
		return cacheEntry{}, false
	}
	return e, true
}

// put stores resp and reports how many expired entries a sweep removed.
func (c *directionsCache) put(key string, resp *DirectionsResponse) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = cacheEntry{response: resp, fetchedAt: now}

	if now.Sub(c.lastSweep) < c.sweepEvery {
		return 0
	}
	c.lastSweep = now
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.staleTTL {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *directionsCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *directionsCache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	var st CacheStats
	st.TotalEntries = len(c.entries)
	for _, e := range c.entries {
		switch age := now.Sub(e.fetchedAt); {
		case age < c.ttl:
			st.FreshEntries++
		case age < c.staleTTL:
			st.StaleEntries++
		}
	}
	return st
}

// CacheStats counts cached responses by freshness.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	Provider     string
}
