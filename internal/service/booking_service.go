package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"reservas/internal/availability"
	"reservas/internal/domain"
	"reservas/internal/events"
	"reservas/internal/metrics"
	"reservas/internal/models"

	"github.com/rs/zerolog"
)

// CreateReservationInput carries the caller-supplied fields of a new
// reservation. Start and End are validated into a TimeInterval.
type CreateReservationInput struct {
	RoomID      string
	Title       string
	Description string
	Kind        string
	Start       time.Time
	End         time.Time
}

// BookingService orchestrates the overlap engine and the repository.
type BookingService struct {
	repo     domain.ReservationRepository
	profiles domain.ProfileStore
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(
	repo domain.ReservationRepository,
	profiles domain.ProfileStore,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	child := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		repo:     repo,
		profiles: profiles,
		eventBus: eventBus,
		logger:   &child,
	}
}

func (s *BookingService) CreateReservation(
	ctx context.Context,
	principal models.Principal,
	in CreateReservationInput,
) (*models.Reservation, error) {
	if principal.UserID == "" {
		return nil, ErrForbidden
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalidInput("title is required")
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return nil, invalidInput("title exceeds %d characters", models.MaxTitleLength)
	}
	if !models.ValidKind(in.Kind) {
		return nil, invalidInput("unknown reservation type %q", in.Kind)
	}
	if strings.TrimSpace(in.RoomID) == "" {
		return nil, invalidInput("classroom_id is required")
	}

	iv, err := models.NewTimeInterval(in.Start, in.End)
	if err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		RoomID:      in.RoomID,
		OwnerID:     principal.UserID,
		Interval:    iv,
		Status:      models.StatusActive,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Kind:        in.Kind,
	}

	err = s.repo.CreateReservationExclusive(ctx, reservation, func(existing []models.Reservation) error {
		if availability.HasConflict(iv, availability.Intervals(existing)) {
			return ErrRoomUnavailable
		}
		return nil
	})
	if err != nil {
		err = mapRepoError(err)
		if errors.Is(err, ErrRoomUnavailable) {
			metrics.IncConflict()
		}
		return nil, err
	}

	metrics.IncReservationCreated(reservation.Kind)
	s.logger.Info().
		Str("reservation_id", reservation.ID).
		Str("room_id", reservation.RoomID).
		Str("owner_id", reservation.OwnerID).
		Stringer("interval", reservation.Interval).
		Msg("reservation created")

	s.publishEvent(ctx, events.EventReservationCreated, *reservation, principal.UserID)
	return reservation, nil
}

// CancelReservation is idempotent: cancelling an already cancelled
// reservation succeeds without writing or emitting anything.
func (s *BookingService) CancelReservation(ctx context.Context, principal models.Principal, reservationID string) error {
	reservation, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return mapRepoError(err)
	}
	if !canAccess(principal, reservation) {
		return ErrForbidden
	}
	if reservation.Status == models.StatusCancelled {
		return nil
	}

	changed, err := s.repo.UpdateReservationStatus(ctx, reservationID, models.StatusCancelled, principal.UserID)
	if err != nil {
		return mapRepoError(err)
	}
	if !changed {
		// lost a race with another cancel; that one emitted the event
		return nil
	}

	now := time.Now().UTC()
	reservation.Status = models.StatusCancelled
	reservation.CancelledAt = &now
	reservation.CancelledBy = principal.UserID
	reservation.UpdatedAt = now

	metrics.IncReservationCancelled()
	s.logger.Info().
		Str("reservation_id", reservationID).
		Str("actor_id", principal.UserID).
		Msg("reservation cancelled")

	s.publishEvent(ctx, events.EventReservationCancelled, *reservation, principal.UserID)
	return nil
}

// FindAvailableRooms returns the active rooms, ordered by name, that have
// no active reservation overlapping iv.
func (s *BookingService) FindAvailableRooms(ctx context.Context, iv models.TimeInterval) ([]models.Room, error) {
	if iv.IsZero() {
		return nil, ErrInvalidInterval
	}

	rooms, err := s.repo.ListActiveRooms(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	reservations, err := s.repo.ListActiveReservationsOverlapping(ctx, nil, iv)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return availability.FilterAvailable(rooms, iv, reservations), nil
}

// CheckRoom reports whether one room is free for iv together with the
// reservations that block it. Inactive rooms are never available.
func (s *BookingService) CheckRoom(ctx context.Context, roomID string, iv models.TimeInterval) (bool, []models.Reservation, error) {
	if iv.IsZero() {
		return false, nil, ErrInvalidInterval
	}

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return false, nil, mapRepoError(err)
	}
	if !room.IsActive {
		return false, nil, nil
	}

	existing, err := s.repo.ListActiveReservationsOverlapping(ctx, &roomID, iv)
	if err != nil {
		return false, nil, mapRepoError(err)
	}
	conflicts := availability.ConflictsWith(iv, existing)
	return len(conflicts) == 0, conflicts, nil
}

func (s *BookingService) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.repo.ListActiveRooms(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rooms, nil
}

// ListReservations scopes docentes to their own reservations regardless of
// the user filter they send.
func (s *BookingService) ListReservations(
	ctx context.Context,
	principal models.Principal,
	filter models.ReservationFilter,
) ([]models.Reservation, error) {
	if principal.UserID == "" {
		return nil, ErrForbidden
	}
	if !principal.IsCoordinator() {
		filter.UserID = principal.UserID
	}
	if filter.Kind != "" && !models.ValidKind(filter.Kind) {
		return nil, invalidInput("unknown reservation type %q", filter.Kind)
	}
	if filter.Status != "" && filter.Status != models.StatusActive && filter.Status != models.StatusCancelled {
		return nil, invalidInput("unknown status %q", filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return nil, invalidInput("end_date must be after start_date")
	}

	out, err := s.repo.ListReservations(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return out, nil
}

func (s *BookingService) GetReservation(ctx context.Context, principal models.Principal, id string) (*models.Reservation, error) {
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !canAccess(principal, reservation) {
		return nil, ErrForbidden
	}
	return reservation, nil
}

func (s *BookingService) Stats(ctx context.Context, principal models.Principal) (*models.Stats, error) {
	if !principal.IsCoordinator() {
		return nil, ErrForbidden
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return stats, nil
}

// ReservationRows lists reservations joined with room and owner details for
// the coordinator report.
func (s *BookingService) ReservationRows(
	ctx context.Context,
	principal models.Principal,
	filter models.ReservationFilter,
) ([]models.ReservationRow, error) {
	if !principal.IsCoordinator() {
		return nil, ErrForbidden
	}
	reservations, err := s.ListReservations(ctx, principal, filter)
	if err != nil {
		return nil, err
	}

	rooms := make(map[string]*models.Room)
	owners := make(map[string]*models.Profile)
	rows := make([]models.ReservationRow, 0, len(reservations))
	for _, r := range reservations {
		rows = append(rows, s.buildRow(ctx, r, rooms, owners))
	}
	return rows, nil
}

// Describe embeds the classroom and owner profile into each reservation.
// Lookup failures leave the embedded value nil.
func (s *BookingService) Describe(ctx context.Context, reservations []models.Reservation) []models.ReservationDetail {
	rooms := make(map[string]*models.Room)
	owners := make(map[string]*models.Profile)
	out := make([]models.ReservationDetail, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, models.ReservationDetail{
			Reservation: r,
			Classroom:   s.lookupRoom(ctx, r.RoomID, rooms),
			User:        s.lookupOwner(ctx, r.OwnerID, owners),
		})
	}
	return out
}

// buildRow resolves room and owner details; lookup failures leave the
// fields blank. rooms and owners memoize lookups across calls.
func (s *BookingService) buildRow(
	ctx context.Context,
	r models.Reservation,
	rooms map[string]*models.Room,
	owners map[string]*models.Profile,
) models.ReservationRow {
	row := models.ReservationRow{Reservation: r}
	if room := s.lookupRoom(ctx, r.RoomID, rooms); room != nil {
		row.RoomName = room.Name
		row.RoomLocation = room.Location
	}
	if owner := s.lookupOwner(ctx, r.OwnerID, owners); owner != nil {
		row.OwnerName = owner.FullName
		row.OwnerEmail = owner.Email
	}
	return row
}

func (s *BookingService) lookupRoom(ctx context.Context, id string, memo map[string]*models.Room) *models.Room {
	if room, ok := memo[id]; ok {
		return room
	}
	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", id).Msg("room lookup failed")
		room = nil
	}
	memo[id] = room
	return room
}

func (s *BookingService) lookupOwner(ctx context.Context, id string, memo map[string]*models.Profile) *models.Profile {
	if owner, ok := memo[id]; ok {
		return owner
	}
	if s.profiles == nil {
		return nil
	}
	owner, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", id).Msg("owner lookup failed")
		owner = nil
	}
	memo[id] = owner
	return owner
}

// publishEvent never fails the caller: the reservation is already stored.
func (s *BookingService) publishEvent(ctx context.Context, eventType string, r models.Reservation, actorID string) {
	if s.eventBus == nil {
		return
	}

	owners := make(map[string]*models.Profile, 1)
	payload := events.ReservationEventPayload{
		ReservationRow: s.buildRow(ctx, r, make(map[string]*models.Room, 1), owners),
		ActorID:        actorID,
	}
	if owner := owners[r.OwnerID]; owner != nil {
		payload.OwnerChatID = owner.TelegramChatID
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID).Msg("publish event error")
	}
}

func canAccess(principal models.Principal, r *models.Reservation) bool {
	return principal.IsCoordinator() || (principal.UserID != "" && principal.UserID == r.OwnerID)
}
