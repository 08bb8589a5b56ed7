package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reservas/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var roomColumns = []string{"id", "name", "capacity", "location", "equipment", "is_active", "created_at", "updated_at"}

// UpsertRoom inserts the room or refreshes every mutable column of an existing one.
func (db *DB) UpsertRoom(ctx context.Context, room *models.Room) error {
	equipment, err := json.Marshal(nonNil(room.Equipment))
	if err != nil {
		return fmt.Errorf("encode equipment: %w", err)
	}

	now := time.Now().UTC()
	query, args, err := db.sb.Insert("rooms").
		Columns(roomColumns...).
		Values(room.ID, room.Name, room.Capacity, room.Location, string(equipment), room.IsActive, toUnix(now), toUnix(now)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            capacity = excluded.capacity,
            location = excluded.location,
            equipment = excluded.equipment,
            is_active = excluded.is_active,
            updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpsertRoom: %v", ErrBuildQuery, err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	room.UpdatedAt = now
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	return nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return db.getRoom(ctx, db.DB, id)
}

func (db *DB) getRoom(ctx context.Context, exec executor, id string) (*models.Room, error) {
	query, args, err := db.sb.Select(roomColumns...).From("rooms").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetRoom: %v", ErrBuildQuery, err)
	}

	room, err := scanRoom(exec.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// ListActiveRooms returns bookable rooms ordered by name.
func (db *DB) ListActiveRooms(ctx context.Context) ([]models.Room, error) {
	return db.listRooms(ctx, sq.Eq{"is_active": true})
}

// ListRooms returns every room, active or not, ordered by name.
func (db *DB) ListRooms(ctx context.Context) ([]models.Room, error) {
	return db.listRooms(ctx, nil)
}

func (db *DB) listRooms(ctx context.Context, where sq.Sqlizer) ([]models.Room, error) {
	builder := db.sb.Select(roomColumns...).From("rooms").OrderBy("name", "id")
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: listRooms: %v", ErrBuildQuery, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func (db *DB) SetRoomActive(ctx context.Context, id string, active bool) error {
	query, args, err := db.sb.Update("rooms").
		Set("is_active", active).
		Set("updated_at", toUnix(time.Now())).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: SetRoomActive: %v", ErrBuildQuery, err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		room                 models.Room
		equipment            string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&room.ID, &room.Name, &room.Capacity, &room.Location, &equipment, &room.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if equipment != "" {
		if err := json.Unmarshal([]byte(equipment), &room.Equipment); err != nil {
			return nil, fmt.Errorf("decode equipment of room %s: %w", room.ID, err)
		}
	}
	room.CreatedAt = fromUnix(createdAt)
	room.UpdatedAt = fromUnix(updatedAt)
	return &room, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
