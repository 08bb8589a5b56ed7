package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"reservas/internal/domain"
	"reservas/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Seed is the static catalogue of rooms and profiles loaded at startup.
type Seed struct {
	Rooms    []models.Room    `yaml:"rooms"`
	Profiles []models.Profile `yaml:"profiles"`
}

// LoadSeed reads and validates a seed file. A missing file yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Seed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *Seed) Validate() error {
	rooms := make(map[string]bool, len(s.Rooms))
	for i, r := range s.Rooms {
		if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("room #%d: id and name are required", i+1)
		}
		if r.Capacity < 0 {
			return fmt.Errorf("room %s: negative capacity", r.ID)
		}
		if rooms[r.ID] {
			return fmt.Errorf("duplicate room id %s", r.ID)
		}
		rooms[r.ID] = true
	}

	profiles := make(map[string]bool, len(s.Profiles))
	for i, p := range s.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("profile #%d: id is required", i+1)
		}
		if !models.ValidRole(p.Role) {
			return fmt.Errorf("profile %s: unknown role %q", p.ID, p.Role)
		}
		if profiles[p.ID] {
			return fmt.Errorf("duplicate profile id %s", p.ID)
		}
		profiles[p.ID] = true
	}
	return nil
}

// Apply upserts the seed. Existing rows are updated in place.
func (s *Seed) Apply(ctx context.Context, rooms domain.RoomStore, profiles domain.ProfileStore, logger *zerolog.Logger) error {
	for i := range s.Rooms {
		if err := rooms.UpsertRoom(ctx, &s.Rooms[i]); err != nil {
			return fmt.Errorf("seed room %s: %w", s.Rooms[i].ID, err)
		}
	}
	for i := range s.Profiles {
		if err := profiles.UpsertProfile(ctx, &s.Profiles[i]); err != nil {
			return fmt.Errorf("seed profile %s: %w", s.Profiles[i].ID, err)
		}
	}
	if logger != nil {
		logger.Info().Int("rooms", len(s.Rooms)).Int("profiles", len(s.Profiles)).Msg("seed applied")
	}
	return nil
}

// DeactivateMissing marks active rooms absent from the seed as inactive and
// returns how many were changed. Their reservations are kept.
func (s *Seed) DeactivateMissing(ctx context.Context, rooms domain.RoomStore) (int, error) {
	listed := make(map[string]bool, len(s.Rooms))
	for _, r := range s.Rooms {
		listed[r.ID] = true
	}

	existing, err := rooms.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	changed := 0
	for _, r := range existing {
		if listed[r.ID] || !r.IsActive {
			continue
		}
		if err := rooms.SetRoomActive(ctx, r.ID, false); err != nil {
			return changed, fmt.Errorf("deactivate room %s: %w", r.ID, err)
		}
		changed++
	}
	return changed, nil
}
