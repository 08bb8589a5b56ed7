package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reservas/internal/config"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"

	// sqliteParams makes every transaction start with BEGIN IMMEDIATE so
	// concurrent writers queue on the database lock instead of racing.
	sqliteParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"

	serializationRetries = 3
)

// DB wraps *sql.DB with the dialect-specific query builder.
type DB struct {
	*sql.DB
	dialect string
	path    string
	sb      sq.StatementBuilderType
	logger  *zerolog.Logger
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open picks the driver from config.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresDB(cfg.Postgres.DSN(), cfg.Postgres.MaxConnections, logger)
	default:
		return NewDB(cfg.Path, logger)
	}
}

// NewDB opens (and migrates) a SQLite database file.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, sqliteParams))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := newDB(sqlDB, dialectSQLite, logger)
	db.path = path
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db.logger.Info().Str("path", path).Msg("sqlite database initialized")
	return db, nil
}

// NewPostgresDB opens (and migrates) a Postgres database through lib/pq.
func NewPostgresDB(dsn string, maxConns int, logger *zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	db := newDB(sqlDB, dialectPostgres, logger)
	if err := db.init(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	db.logger.Info().Msg("postgres database initialized")
	return db, nil
}

func newDB(sqlDB *sql.DB, dialect string, logger *zerolog.Logger) *DB {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	child := logger.With().Str("component", "database").Str("dialect", dialect).Logger()

	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == dialectPostgres {
		placeholder = sq.Dollar
	}

	return &DB{
		DB:      sqlDB,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
		logger:  &child,
	}
}

func (db *DB) init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            capacity INTEGER NOT NULL DEFAULT 0 CHECK (capacity >= 0),
            location TEXT NOT NULL DEFAULT '',
            equipment TEXT NOT NULL DEFAULT '[]',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at BIGINT NOT NULL,
            updated_at BIGINT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            full_name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL CHECK (role IN ('docente', 'coordinador')),
            telegram_chat_id BIGINT NOT NULL DEFAULT 0,
            created_at BIGINT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL REFERENCES rooms(id),
            owner_id TEXT NOT NULL,
            start_at BIGINT NOT NULL,
            end_at BIGINT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            kind TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            updated_at BIGINT NOT NULL,
            cancelled_at BIGINT,
            cancelled_by TEXT NOT NULL DEFAULT '',
            CHECK (end_at > start_at)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id TEXT PRIMARY KEY,
            task_type TEXT NOT NULL,
            reservation_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at BIGINT NOT NULL,
            processed_at BIGINT,
            next_retry_at BIGINT
        )`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_room_window ON reservations(room_id, status, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_owner ON reservations(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_start ON reservations(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Dialect reports "sqlite" or "postgres".
func (db *DB) Dialect() string {
	return db.dialect
}

// Path is the SQLite file path; empty for Postgres.
func (db *DB) Path() string {
	return db.path
}

// inTx runs fn inside a transaction. Postgres transactions are SERIALIZABLE
// and retried on serialization failures; SQLite ones take the write lock up
// front via _txlock=immediate.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	opts := &sql.TxOptions{}
	attempts := 1
	if db.dialect == dialectPostgres {
		opts.Isolation = sql.LevelSerializable
		attempts = serializationRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = db.runTx(ctx, opts, fn)
		if lastErr == nil || !isSerializationFailure(lastErr) {
			return lastErr
		}
		db.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("serialization failure, retrying transaction")
	}
	return fmt.Errorf("%w: %v", ErrSerialization, lastErr)
}

func (db *DB) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func toUnix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toUnix(*t)
}
