package domain

import (
	"context"
	"time"

	"reservas/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ReservationRepository is the persistence contract of the booking core.
type ReservationRepository interface {
	ListActiveRooms(ctx context.Context) ([]models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListActiveReservationsOverlapping(ctx context.Context, roomID *string, iv models.TimeInterval) ([]models.Reservation, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	CreateReservationExclusive(ctx context.Context, r *models.Reservation, check func(existing []models.Reservation) error) error
	UpdateReservationStatus(ctx context.Context, id, status, actorID string) (bool, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error
	CountProfilesByRole(ctx context.Context, role string) (int, error)
}

type RoomStore interface {
	UpsertRoom(ctx context.Context, room *models.Room) error
	SetRoomActive(ctx context.Context, id string, active bool) error
	ListRooms(ctx context.Context) ([]models.Room, error)
}

// OutboxStore persists sync_queue tasks.
type OutboxStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	ClaimSyncTask(ctx context.Context, id string, lease time.Duration) (bool, error)
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id, status, errMsg string, nextRetryAt *time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MessagePublisher pushes an encoded event to a broker under routingKey.
type MessagePublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type SheetsWriter interface {
	UpsertReservation(ctx context.Context, row models.ReservationRow) error
}
