package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reservas/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var profileColumns = []string{"id", "full_name", "email", "role", "telegram_chat_id", "created_at"}

func (db *DB) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query, args, err := db.sb.Insert("profiles").
		Columns(profileColumns...).
		Values(p.ID, p.FullName, p.Email, p.Role, p.TelegramChatID, toUnix(p.CreatedAt)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            full_name = excluded.full_name,
            email = excluded.email,
            role = excluded.role,
            telegram_chat_id = excluded.telegram_chat_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpsertProfile: %v", ErrBuildQuery, err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query, args, err := db.sb.Select(profileColumns...).From("profiles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetProfile: %v", ErrBuildQuery, err)
	}

	var (
		p         models.Profile
		createdAt int64
	)
	err = db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.TelegramChatID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

func (db *DB) CountProfilesByRole(ctx context.Context, role string) (int, error) {
	query, args, err := db.sb.Select("COUNT(*)").From("profiles").Where(sq.Eq{"role": role}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: CountProfilesByRole: %v", ErrBuildQuery, err)
	}

	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}
