package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reservas/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var reservationColumns = []string{
	"id", "room_id", "owner_id", "start_at", "end_at", "status", "title", "description", "kind",
	"created_at", "updated_at", "cancelled_at", "cancelled_by",
}

// InsertReservation stores r without any conflict check. It assigns the id
// (when empty) and the timestamps.
func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation) error {
	return db.insertReservation(ctx, db.DB, r)
}

func (db *DB) insertReservation(ctx context.Context, exec executor, r *models.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusActive
	}
	now := time.Now().UTC().Truncate(time.Second)

	query, args, err := db.sb.Insert("reservations").
		Columns(reservationColumns...).
		Values(
			r.ID,
			r.RoomID,
			r.OwnerID,
			toUnix(r.Interval.Start()),
			toUnix(r.Interval.End()),
			r.Status,
			r.Title,
			r.Description,
			r.Kind,
			toUnix(now),
			toUnix(now),
			nullableUnix(r.CancelledAt),
			r.CancelledBy,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: InsertReservation: %v", ErrBuildQuery, err)
	}

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// CreateReservationExclusive runs check against the active reservations of
// r.RoomID overlapping r.Interval and inserts r only if check returns nil.
// The read and the write share one transaction that holds the room lock, so
// two overlapping creates for the same room can never both commit.
func (db *DB) CreateReservationExclusive(
	ctx context.Context,
	r *models.Reservation,
	check func(existing []models.Reservation) error,
) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := db.lockRoom(ctx, tx, r.RoomID); err != nil {
			return err
		}

		roomID := r.RoomID
		existing, err := db.listActiveOverlapping(ctx, tx, &roomID, r.Interval)
		if err != nil {
			return err
		}
		if err := check(existing); err != nil {
			return err
		}

		return db.insertReservation(ctx, tx, r)
	})
}

// lockRoom verifies the room is bookable. On Postgres it also takes a row
// lock that serializes creators for the same room.
func (db *DB) lockRoom(ctx context.Context, tx *sql.Tx, roomID string) error {
	builder := db.sb.Select("is_active").From("rooms").Where(sq.Eq{"id": roomID})
	if db.dialect == dialectPostgres {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("%w: lockRoom: %v", ErrBuildQuery, err)
	}

	var active bool
	err = tx.QueryRowContext(ctx, query, args...).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock room: %w", err)
	}
	if !active {
		return ErrRoomInactive
	}
	return nil
}

// ListActiveReservationsOverlapping returns active reservations whose
// half-open window intersects iv, optionally restricted to one room.
func (db *DB) ListActiveReservationsOverlapping(ctx context.Context, roomID *string, iv models.TimeInterval) ([]models.Reservation, error) {
	return db.listActiveOverlapping(ctx, db.DB, roomID, iv)
}

func (db *DB) listActiveOverlapping(ctx context.Context, exec executor, roomID *string, iv models.TimeInterval) ([]models.Reservation, error) {
	builder := db.sb.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"status": models.StatusActive}).
		Where(sq.Lt{"start_at": toUnix(iv.End())}).
		Where(sq.Gt{"end_at": toUnix(iv.Start())}).
		OrderBy("start_at", "id")
	if roomID != nil {
		builder = builder.Where(sq.Eq{"room_id": *roomID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: listActiveOverlapping: %v", ErrBuildQuery, err)
	}
	return db.queryReservations(ctx, exec, query, args...)
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	query, args, err := db.sb.Select(reservationColumns...).From("reservations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetReservation: %v", ErrBuildQuery, err)
	}

	r, err := scanReservation(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

// UpdateReservationStatus moves the reservation to status unless it is
// already there. It reports whether a row actually changed.
func (db *DB) UpdateReservationStatus(ctx context.Context, id, status, actorID string) (bool, error) {
	now := time.Now().UTC()
	builder := db.sb.Update("reservations").
		Set("status", status).
		Set("updated_at", toUnix(now)).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": status})
	if status == models.StatusCancelled {
		builder = builder.Set("cancelled_at", toUnix(now)).Set("cancelled_by", actorID)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: UpdateReservationStatus: %v", ErrBuildQuery, err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := db.GetReservation(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListReservations applies filter and orders by start, newest first.
func (db *DB) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	builder := db.sb.Select(reservationColumns...).From("reservations")

	if filter.UserID != "" {
		builder = builder.Where(sq.Eq{"owner_id": filter.UserID})
	}
	if filter.RoomID != "" {
		builder = builder.Where(sq.Eq{"room_id": filter.RoomID})
	}
	if filter.Kind != "" {
		builder = builder.Where(sq.Eq{"kind": filter.Kind})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"start_at": toUnix(filter.From)})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.Lt{"start_at": toUnix(filter.To)})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if limit > models.MaxListLimit {
		limit = models.MaxListLimit
	}

	query, args, err := builder.OrderBy("start_at DESC", "id").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: ListReservations: %v", ErrBuildQuery, err)
	}
	return db.queryReservations(ctx, db.DB, query, args...)
}

func (db *DB) queryReservations(ctx context.Context, exec executor, query string, args ...any) ([]models.Reservation, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return out, nil
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		startAt, endAt       int64
		createdAt, updatedAt int64
		cancelledAt          sql.NullInt64
	)
	err := row.Scan(
		&r.ID,
		&r.RoomID,
		&r.OwnerID,
		&startAt,
		&endAt,
		&r.Status,
		&r.Title,
		&r.Description,
		&r.Kind,
		&createdAt,
		&updatedAt,
		&cancelledAt,
		&r.CancelledBy,
	)
	if err != nil {
		return nil, err
	}

	iv, err := models.NewTimeInterval(fromUnix(startAt), fromUnix(endAt))
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", r.ID, err)
	}
	r.Interval = iv
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	r.CancelledAt = nullableTime(cancelledAt)
	return &r, nil
}
