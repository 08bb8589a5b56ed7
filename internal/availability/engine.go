// Package availability decides whether reservation intervals collide.
// Everything here is pure; storage lookups happen in the callers.
package availability

import "reservas/internal/models"

// Overlaps reports whether a and b share at least one instant under half-open
// semantics. Touching endpoints do not overlap.
func Overlaps(a, b models.TimeInterval) bool {
	return a.Start().Before(b.End()) && b.Start().Before(a.End())
}

// HasConflict reports whether iv overlaps any of the given intervals.
func HasConflict(iv models.TimeInterval, active []models.TimeInterval) bool {
	for _, other := range active {
		if Overlaps(iv, other) {
			return true
		}
	}
	return false
}

// ConflictsWith returns the active reservations overlapping iv, in input order.
func ConflictsWith(iv models.TimeInterval, reservations []models.Reservation) []models.Reservation {
	var out []models.Reservation
	for _, r := range reservations {
		if r.IsActive() && Overlaps(iv, r.Interval) {
			out = append(out, r)
		}
	}
	return out
}

// FilterAvailable drops rooms holding an active reservation that overlaps iv.
// Output keeps the order of rooms.
func FilterAvailable(rooms []models.Room, iv models.TimeInterval, reservations []models.Reservation) []models.Room {
	busy := make(map[string]struct{})
	for _, r := range ConflictsWith(iv, reservations) {
		busy[r.RoomID] = struct{}{}
	}

	out := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := busy[room.ID]; ok {
			continue
		}
		out = append(out, room)
	}
	return out
}

// Intervals extracts the intervals of active reservations.
func Intervals(reservations []models.Reservation) []models.TimeInterval {
	out := make([]models.TimeInterval, 0, len(reservations))
	for _, r := range reservations {
		if r.IsActive() {
			out = append(out, r.Interval)
		}
	}
	return out
}
