package trip

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and single-process runs. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu    sync.RWMutex
	trips map[string]*Trip
}

// NewInMemoryRepository creates a new in-memory trip repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		trips: make(map[string]*Trip),
	}
}

// Get retrieves a trip by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trips[id]
	if !ok {
		return nil, ErrTripNotFound
	}

	// Return a copy. Routes are immutable and shared.
	cpy := *t
	return &cpy, nil
}

// Create creates a new trip.
func (r *InMemoryRepository) Create(_ context.Context, t *Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *t
	r.trips[t.ID] = &cpy
	return nil
}

// Update updates an existing trip.
func (r *InMemoryRepository) Update(_ context.Context, t *Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trips[t.ID]; !ok {
		return ErrTripNotFound
	}

	cpy := *t
	r.trips[t.ID] = &cpy
	return nil
}

// ListActive retrieves live trips, oldest first.
func (r *InMemoryRepository) ListActive(_ context.Context, limit int) ([]*Trip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var trips []*Trip
	for _, t := range r.trips {
		if t.Live() {
			cpy := *t
			trips = append(trips, &cpy)
		}
	}

	sort.Slice(trips, func(i, j int) bool {
		return trips[i].CreatedAt.Before(trips[j].CreatedAt)
	})

	if limit > 0 && len(trips) > limit {
		trips = trips[:limit]
	}
	return trips, nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
