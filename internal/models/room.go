package models

import "time"

type Room struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Capacity  int       `yaml:"capacity" json:"capacity"`
	Location  string    `yaml:"location" json:"location"`
	Equipment []string  `yaml:"equipment" json:"equipment"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}
