package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reservas/internal/database"
	"reservas/internal/events"
	"reservas/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteService(t *testing.T) (*BookingService, *database.DB, *events.EventBus) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "svc.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, db.UpsertRoom(ctx, &models.Room{ID: id, Name: "Aula " + id, IsActive: true}))
	}
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u1", FullName: "Ana", Role: models.RoleTeacher}))

	bus := events.NewEventBus()
	return NewBookingService(db, db, bus, &logger), db, bus
}

func TestConcurrentCreate_ExactlyOneWins(t *testing.T) {
	svc, _, bus := setupSQLiteService(t)
	ctx := context.Background()

	var mu sync.Mutex
	created := 0
	bus.Subscribe(events.EventReservationCreated, func(_ *events.Event) error {
		mu.Lock()
		created++
		mu.Unlock()
		return nil
	})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := models.Principal{UserID: fmt.Sprintf("u%d", i), Role: models.RoleTeacher}
			_, err := svc.CreateReservation(ctx, p, validInput())
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRoomUnavailable):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, created)
}

func TestEndToEnd_AvailabilityAndCancel(t *testing.T) {
	svc, _, _ := setupSQLiteService(t)
	ctx := context.Background()
	owner := models.Principal{UserID: "u1", Role: models.RoleTeacher}

	r, err := svc.CreateReservation(ctx, owner, validInput())
	require.NoError(t, err)

	iv := interval(t, baseStart, time.Hour)
	free, err := svc.FindAvailableRooms(ctx, iv)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "r2", free[0].ID)

	// back-to-back is free
	next := interval(t, baseStart.Add(time.Hour), time.Hour)
	free, err = svc.FindAvailableRooms(ctx, next)
	require.NoError(t, err)
	assert.Len(t, free, 2)

	_, err = svc.CreateReservation(ctx, owner, CreateReservationInput{
		RoomID: "ghost", Title: "x", Kind: models.KindAcademic, Start: baseStart, End: baseStart.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.CancelReservation(ctx, otherTeach, r.ID), ErrForbidden)
	require.NoError(t, svc.CancelReservation(ctx, owner, r.ID))
	require.NoError(t, svc.CancelReservation(ctx, owner, r.ID))

	free, err = svc.FindAvailableRooms(ctx, iv)
	require.NoError(t, err)
	assert.Len(t, free, 2)

	got, err := svc.GetReservation(ctx, owner, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "u1", got.CancelledBy)
}
