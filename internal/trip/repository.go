package trip

import "context"

// Repository defines the interface for trip persistence.
type Repository interface {
	// Get retrieves a trip by ID. Returns ErrTripNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*Trip, error)

	// Create creates a new trip.
	Create(ctx context.Context, trip *Trip) error

	// Update updates an existing trip.
	Update(ctx context.Context, trip *Trip) error

	// ListActive retrieves trips that are active or off route, oldest first.
	ListActive(ctx context.Context, limit int) ([]*Trip, error)
}
