package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reservas/internal/config"
	"reservas/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRoom(t *testing.T, db *DB, id string) *models.Room {
	t.Helper()
	room := &models.Room{
		ID:        id,
		Name:      "Aula " + id,
		Capacity:  30,
		Location:  "Bloque A",
		Equipment: []string{"proyector"},
		IsActive:  true,
	}
	require.NoError(t, db.UpsertRoom(context.Background(), room))
	return room
}

func mustInterval(t *testing.T, start time.Time, d time.Duration) models.TimeInterval {
	t.Helper()
	iv, err := models.NewTimeInterval(start, start.Add(d))
	require.NoError(t, err)
	return iv
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dialectSQLite, db.Dialect())
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// migrations are idempotent
	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()
}

func TestOpen_SQLiteFromConfig(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "cfg.db")}
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDB_ClosedErrors(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := db.GetReservation(ctx, "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrReservationNotFound)

	_, err = db.ListActiveRooms(ctx)
	assert.Error(t, err)

	_, err = db.Stats(ctx)
	assert.Error(t, err)
}

func TestRoomsCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedRoom(t, db, "r1")
	seedRoom(t, db, "r2")

	room, err := db.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Aula r1", room.Name)
	assert.Equal(t, []string{"proyector"}, room.Equipment)
	assert.True(t, room.IsActive)

	require.NoError(t, db.SetRoomActive(ctx, "r2", false))
	active, err := db.ListActiveRooms(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r1", active[0].ID)

	all, err := db.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = db.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, db.SetRoomActive(ctx, "missing", true), ErrRoomNotFound)
}

func TestProfiles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u1", FullName: "Ana", Role: models.RoleTeacher}))
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u2", FullName: "Luis", Role: models.RoleTeacher}))
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "c1", FullName: "Coord", Role: models.RoleCoordinator}))

	p, err := db.GetProfile(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCoordinator, p.Role)

	// upsert overwrites
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u2", FullName: "Luis", Role: models.RoleCoordinator}))

	n, err := db.CountProfilesByRole(ctx, models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestNewDB_PlaceholderPerDialect(t *testing.T) {
	for _, tc := range []struct {
		dialect string
		want    string
	}{
		{dialectSQLite, "WHERE id = ?"},
		{dialectPostgres, "WHERE id = $1"},
	} {
		db := newDB(nil, tc.dialect, nil)
		query, args, err := db.sb.Select("id").From("rooms").Where(sq.Eq{"id": "room-1"}).ToSql()
		require.NoError(t, err)
		assert.Contains(t, query, tc.want, tc.dialect)
		assert.Equal(t, []any{"room-1"}, args)
	}
}
