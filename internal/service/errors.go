package service

import (
	"errors"
	"fmt"

	"reservas/internal/database"
	"reservas/internal/models"
)

var (
	ErrInvalidInterval       = models.ErrInvalidInterval
	ErrInvalidInput          = errors.New("invalid input")
	ErrRoomUnavailable       = errors.New("room unavailable for the requested interval")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

// mapRepoError translates storage errors into the service taxonomy.
// Errors that are already part of the taxonomy pass through untouched.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRoomUnavailable),
		errors.Is(err, ErrInvalidInterval),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrRepositoryUnavailable):
		return err
	case errors.Is(err, database.ErrRoomInactive):
		return fmt.Errorf("%w: %w", ErrRoomUnavailable, err)
	case errors.Is(err, database.ErrRoomNotFound),
		errors.Is(err, database.ErrReservationNotFound),
		errors.Is(err, database.ErrProfileNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
