package models

import "time"

type Profile struct {
	ID             string    `yaml:"id" json:"id"`
	FullName       string    `yaml:"full_name" json:"full_name"`
	Email          string    `yaml:"email" json:"email"`
	Role           string    `yaml:"role" json:"role"`
	TelegramChatID int64     `yaml:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `yaml:"-" json:"created_at"`
}

// Principal is the already-authenticated caller of a service operation.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsCoordinator() bool {
	return p.Role == RoleCoordinator
}
