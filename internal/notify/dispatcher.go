package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reservas/internal/domain"
	"reservas/internal/events"
	"reservas/internal/models"
	"reservas/internal/service"

	"github.com/rs/zerolog"
)

// ReservationNotifier delivers a notice to the reservation owner.
type ReservationNotifier interface {
	NotifyReservation(eventType string, p events.ReservationEventPayload) error
}

// Message is the broker representation of a reservation event.
type Message struct {
	EventType   string                `json:"event_type"`
	OccurredAt  time.Time             `json:"occurred_at"`
	Reservation models.ReservationRow `json:"reservation"`
	ActorID     string                `json:"actor_id,omitempty"`
	Text        string                `json:"text"`
}

// Dispatcher fans one reservation event out to the broker and Telegram.
// Either sink may be nil.
type Dispatcher struct {
	publisher domain.MessagePublisher
	telegram  ReservationNotifier
	loc       *time.Location
	logger    *zerolog.Logger
}

func NewDispatcher(publisher domain.MessagePublisher, telegram ReservationNotifier, loc *time.Location, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if loc == nil {
		loc = time.UTC
	}
	child := logger.With().Str("component", "notify_dispatcher").Logger()
	return &Dispatcher{
		publisher: publisher,
		telegram:  telegram,
		loc:       loc,
		logger:    &child,
	}
}

// Dispatch returns the joined errors of every failing sink so the caller can
// retry the whole notification.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, p events.ReservationEventPayload) error {
	var errs []error

	if d.publisher != nil {
		body, err := json.Marshal(Message{
			EventType:   eventType,
			OccurredAt:  time.Now().UTC(),
			Reservation: p.ReservationRow,
			ActorID:     p.ActorID,
			Text:        service.FormatReservationNotice(eventType, p.ReservationRow, d.loc),
		})
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if err := d.publisher.Publish(ctx, eventType, body); err != nil {
			errs = append(errs, err)
		}
	}

	if d.telegram != nil {
		if err := d.telegram.NotifyReservation(eventType, p); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn().Err(err).Str("event_type", eventType).Str("reservation_id", p.Reservation.ID).Msg("notification failed")
		return err
	}
	d.logger.Debug().Str("event_type", eventType).Str("reservation_id", p.Reservation.ID).Msg("notification delivered")
	return nil
}
