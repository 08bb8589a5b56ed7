package service

import (
	"context"
	"errors"
	"fmt"

	"reservas/internal/database"
	"reservas/internal/domain"
	"reservas/internal/models"

	"github.com/rs/zerolog"
)

type ProfileService struct {
	profiles domain.ProfileStore
	logger   *zerolog.Logger
}

func NewProfileService(profiles domain.ProfileStore, logger *zerolog.Logger) *ProfileService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	child := logger.With().Str("component", "profile_service").Logger()
	return &ProfileService{profiles: profiles, logger: &child}
}

// ResolvePrincipal maps an authenticated user id to its role. It fails
// closed: no profile, or a profile with an unknown role, is forbidden.
func (s *ProfileService) ResolvePrincipal(ctx context.Context, userID string) (models.Principal, error) {
	if userID == "" {
		return models.Principal{}, ErrForbidden
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, database.ErrProfileNotFound) {
		s.logger.Warn().Str("user_id", userID).Msg("no profile for authenticated user")
		return models.Principal{}, ErrForbidden
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		return models.Principal{}, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}
	if !models.ValidRole(profile.Role) {
		s.logger.Warn().Str("user_id", userID).Str("role", profile.Role).Msg("profile has unknown role")
		return models.Principal{}, ErrForbidden
	}

	return models.Principal{UserID: profile.ID, Role: profile.Role}, nil
}

func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return p, nil
}
