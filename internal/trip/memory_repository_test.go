package trip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/route/routetest"
)

func TestInMemoryRepository(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	tr := &Trip{ID: "trp_a", Status: StatusActive, Route: routetest.SingleLeg(), CreatedAt: now}
	require.NoError(t, repo.Create(ctx, tr))

	// Stored values are copies.
	tr.Status = StatusStopped
	got, err := repo.Get(ctx, "trp_a")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	got.StepIndex = 2
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.Get(ctx, "trp_a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.StepIndex)

	_, err = repo.Get(ctx, "trp_missing")
	assert.ErrorIs(t, err, ErrTripNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &Trip{ID: "trp_missing"}), ErrTripNotFound)
}

func TestInMemoryRepository_ListActive(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	trips := []*Trip{
		{ID: "trp_c", Status: StatusOffRoute, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "trp_a", Status: StatusActive, CreatedAt: base},
		{ID: "trp_stopped", Status: StatusStopped, CreatedAt: base},
		{ID: "trp_arrived", Status: StatusArrived, CreatedAt: base},
		{ID: "trp_b", Status: StatusActive, CreatedAt: base.Add(time.Minute)},
	}
	for _, tr := range trips {
		require.NoError(t, repo.Create(ctx, tr))
	}

	all, err := repo.ListActive(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, tr := range all {
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"trp_a", "trp_b", "trp_c"}, ids)

	limited, err := repo.ListActive(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "trp_b", limited[1].ID)
}
