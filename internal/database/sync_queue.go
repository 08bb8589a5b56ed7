package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reservas/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var syncTaskColumns = []string{
	"id", "task_type", "reservation_id", "payload", "status", "retry_count", "last_error",
	"created_at", "processed_at", "next_retry_at",
}

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	now := time.Now().UTC()

	query, args, err := db.sb.Insert("sync_queue").
		Columns(syncTaskColumns...).
		Values(
			task.ID,
			task.TaskType,
			task.ReservationID,
			task.Payload,
			task.Status,
			task.RetryCount,
			task.LastError,
			toUnix(now),
			nullableUnix(task.ProcessedAt),
			nullableUnix(task.NextRetryAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: CreateSyncTask: %v", ErrBuildQuery, err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns tasks that are due now, oldest first. A
// processing task whose claim lease expired counts as due.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	query, args, err := db.sb.Select(syncTaskColumns...).
		From("sync_queue").
		Where(sq.Eq{"status": []string{models.SyncStatusPending, models.SyncStatusRetry, models.SyncStatusProcessing}}).
		Where(sq.Or{sq.Eq{"next_retry_at": nil}, sq.LtOrEq{"next_retry_at": toUnix(time.Now())}}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetPendingSyncTasks: %v", ErrBuildQuery, err)
	}
	return db.querySyncTasks(ctx, query, args...)
}

// ClaimSyncTask marks the task as processing for the lease duration. It
// returns false when another consumer holds the task or it already finished.
func (db *DB) ClaimSyncTask(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := time.Now()
	query, args, err := db.sb.Update("sync_queue").
		Set("status", models.SyncStatusProcessing).
		Set("next_retry_at", toUnix(now.Add(lease))).
		Where(sq.Eq{"id": id}).
		Where(sq.Or{
			sq.Eq{"status": []string{models.SyncStatusPending, models.SyncStatusRetry}},
			sq.And{
				sq.Eq{"status": models.SyncStatusProcessing},
				sq.LtOrEq{"next_retry_at": toUnix(now)},
			},
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%w: ClaimSyncTask: %v", ErrBuildQuery, err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim sync task: %w", err)
	}
	return n == 1, nil
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	query, args, err := db.sb.Select(syncTaskColumns...).
		From("sync_queue").
		Where(sq.Eq{"status": models.SyncStatusFailed}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: GetFailedSyncTasks: %v", ErrBuildQuery, err)
	}
	return db.querySyncTasks(ctx, query, args...)
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id, status, errMsg string, nextRetryAt *time.Time) error {
	var lastError any
	if errMsg != "" {
		lastError = errMsg
	}

	builder := db.sb.Update("sync_queue").
		Set("status", status).
		Set("last_error", lastError).
		Set("next_retry_at", nullableUnix(nextRetryAt)).
		Where(sq.Eq{"id": id})

	switch status {
	case models.SyncStatusRetry:
		builder = builder.Set("retry_count", sq.Expr("retry_count + 1"))
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		builder = builder.Set("processed_at", toUnix(time.Now()))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("%w: UpdateSyncTaskStatus: %v", ErrBuildQuery, err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}

func (db *DB) querySyncTasks(ctx context.Context, query string, args ...any) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var (
			t                        models.SyncTask
			lastError                sql.NullString
			createdAt                int64
			processedAt, nextRetryAt sql.NullInt64
		)
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.ReservationID, &t.Payload, &t.Status, &t.RetryCount,
			&lastError, &createdAt, &processedAt, &nextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		if lastError.Valid {
			msg := lastError.String
			t.LastError = &msg
		}
		t.CreatedAt = fromUnix(createdAt)
		t.ProcessedAt = nullableTime(processedAt)
		t.NextRetryAt = nullableTime(nextRetryAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
