package database

import (
	"context"
	"fmt"

	"reservas/internal/models"
)

// Stats aggregates the coordinator dashboard counters.
func (db *DB) Stats(ctx context.Context) (*models.Stats, error) {
	query, args, err := db.sb.Select("kind", "status", "COUNT(*)").
		From("reservations").
		GroupBy("kind", "status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: Stats: %v", ErrBuildQuery, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reservations: %w", err)
	}
	defer rows.Close()

	stats := &models.Stats{ReservationsByKind: make(map[string]int)}
	for rows.Next() {
		var (
			kind, status string
			count        int
		)
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.TotalReservations += count
		stats.ReservationsByKind[kind] += count
		if status == models.StatusActive {
			stats.ActiveReservations += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}

	teachers, err := db.CountProfilesByRole(ctx, models.RoleTeacher)
	if err != nil {
		return nil, err
	}
	stats.TotalTeachers = teachers

	return stats, nil
}
