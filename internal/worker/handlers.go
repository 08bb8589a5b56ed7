package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"reservas/internal/domain"
	"reservas/internal/events"
	"reservas/internal/models"
)

// Notifier delivers a reservation event to its external sinks.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, p events.ReservationEventPayload) error
}

func decodeReservationTask(task models.SyncTask) (ReservationTask, error) {
	var rt ReservationTask
	if err := json.Unmarshal([]byte(task.Payload), &rt); err != nil {
		return rt, fmt.Errorf("decode payload: %w", err)
	}
	if rt.Event.Reservation.ID == "" {
		return rt, fmt.Errorf("task %s: reservation payload missing", task.ID)
	}
	return rt, nil
}

// NotifyHandler handles TaskNotify.
func NotifyHandler(n Notifier) TaskHandler {
	return func(ctx context.Context, task models.SyncTask) error {
		rt, err := decodeReservationTask(task)
		if err != nil {
			return err
		}
		return n.Dispatch(ctx, rt.EventType, rt.Event)
	}
}

// SheetsHandler handles TaskSheetsUpsert.
func SheetsHandler(sheets domain.SheetsWriter) TaskHandler {
	return func(ctx context.Context, task models.SyncTask) error {
		rt, err := decodeReservationTask(task)
		if err != nil {
			return err
		}
		return sheets.UpsertReservation(ctx, rt.Event.ReservationRow)
	}
}
