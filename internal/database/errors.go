package database

import "errors"

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomInactive        = errors.New("room is not active")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrBuildQuery          = errors.New("build query")
	ErrSerialization       = errors.New("could not serialize reservation transaction")
)
