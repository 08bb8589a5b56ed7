package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"reservas/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentReservation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, "r1")

	start := time.Date(2030, 9, 1, 10, 0, 0, 0, time.UTC)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			// every attempt overlaps the others by at least 30 minutes
			r := newReservation(t, "r1", fmt.Sprintf("u%d", id), start.Add(time.Duration(id)*time.Minute), time.Hour)
			results <- db.CreateReservationExclusive(ctx, r, rejectAny)
		}(i)
	}

	wg.Wait()
	close(results)

	successCount, conflictCount := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case assert.ErrorIs(t, err, errTaken):
			conflictCount++
		}
	}

	assert.Equal(t, 1, successCount, "only one overlapping reservation may commit")
	assert.Equal(t, numGoroutines-1, conflictCount)

	window, err := models.NewTimeInterval(start, start.Add(2*time.Hour))
	require.NoError(t, err)
	stored, err := db.ListActiveReservationsOverlapping(ctx, nil, window)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestConcurrentReservation_DistinctRooms(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const rooms = 5
	for i := 0; i < rooms; i++ {
		seedRoom(t, db, fmt.Sprintf("r%d", i))
	}
	start := time.Date(2030, 9, 2, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, rooms)
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := newReservation(t, fmt.Sprintf("r%d", id), "u1", start, time.Hour)
			errs <- db.CreateReservationExclusive(ctx, r, rejectAny)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
