package models

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

const (
	KindAcademic    = "academico"
	KindNonAcademic = "no_academico"
)

const (
	RoleTeacher     = "docente"
	RoleCoordinator = "coordinador"
)

const (
	SyncStatusPending    = "pending"
	SyncStatusRetry      = "retry"
	SyncStatusProcessing = "processing"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

const (
	// MaxTitleLength caps the reservation title length
	MaxTitleLength = 200

	// DefaultListLimit page size for reservation lists
	DefaultListLimit = 100

	// MaxListLimit upper bound for a requested page size
	MaxListLimit = 500

	// ReminderHour hour of day when reminders for tomorrow go out
	ReminderHour = 18

	// WorkerQueueSize in-memory outbox queue capacity
	WorkerQueueSize = 128
)

func ValidKind(kind string) bool {
	return kind == KindAcademic || kind == KindNonAcademic
}

func ValidRole(role string) bool {
	return role == RoleTeacher || role == RoleCoordinator
}
