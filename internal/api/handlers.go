package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"reservas/internal/models"
	"reservas/internal/service"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AvailabilityBackend is the read side of the booking service.
type AvailabilityBackend interface {
	FindAvailableRooms(ctx context.Context, iv models.TimeInterval) ([]models.Room, error)
	CheckRoom(ctx context.Context, roomID string, iv models.TimeInterval) (bool, []models.Reservation, error)
}

type AvailabilityService struct {
	backend AvailabilityBackend
	loc     *time.Location
}

func NewAvailabilityService(backend AvailabilityBackend, loc *time.Location) *AvailabilityService {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityService{backend: backend, loc: loc}
}

func (s *AvailabilityService) FindAvailableRooms(ctx context.Context, req *FindAvailableRoomsRequest) (
	*FindAvailableRoomsResponse, error) {
	iv, err := s.interval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	rooms, err := s.backend.FindAvailableRooms(ctx, iv)
	if err != nil {
		return nil, grpcError(err)
	}

	out := make([]RoomMessage, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomMessage{
			ID:        r.ID,
			Name:      r.Name,
			Capacity:  r.Capacity,
			Location:  r.Location,
			Equipment: r.Equipment,
		})
	}
	return &FindAvailableRoomsResponse{Rooms: out}, nil
}

func (s *AvailabilityService) CheckRoom(ctx context.Context, req *CheckRoomRequest) (*CheckRoomResponse, error) {
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room_id is required")
	}
	iv, err := s.interval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	available, conflicts, err := s.backend.CheckRoom(ctx, roomID, iv)
	if err != nil {
		return nil, grpcError(err)
	}

	resp := &CheckRoomResponse{RoomID: roomID, Available: available, Conflicts: make([]ConflictMessage, 0, len(conflicts))}
	for _, c := range conflicts {
		resp.Conflicts = append(resp.Conflicts, ConflictMessage{
			ReservationID: c.ID,
			Title:         c.Title,
			Start:         c.Interval.Start(),
			End:           c.Interval.End(),
		})
	}
	return resp, nil
}

func (s *AvailabilityService) interval(date, start, end string) (models.TimeInterval, error) {
	date, start, end = strings.TrimSpace(date), strings.TrimSpace(start), strings.TrimSpace(end)
	if date == "" || start == "" || end == "" {
		return models.TimeInterval{}, status.Error(codes.InvalidArgument, "date, start_time and end_time are required")
	}
	iv, err := models.ParseInterval(date, start, end, s.loc)
	if err != nil {
		return models.TimeInterval{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return iv, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInterval), errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, "room not found")
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, "permission denied")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
