package worker

import (
	"context"
	"fmt"
	"time"

	"reservas/internal/domain"
	"reservas/internal/models"

	"github.com/rs/zerolog"
)

// RowSource lists reservations joined with room and owner details.
type RowSource interface {
	ReservationRows(ctx context.Context, principal models.Principal, filter models.ReservationFilter) ([]models.ReservationRow, error)
}

type ReminderSender interface {
	SendReminder(chatID int64, row models.ReservationRow) error
}

var reminderPrincipal = models.Principal{UserID: "system:reminder", Role: models.RoleCoordinator}

// ReminderJob sends owners a Telegram reminder for the next day's active
// reservations once a day.
type ReminderJob struct {
	rows     RowSource
	profiles domain.ProfileStore
	sender   ReminderSender
	hour     int
	minute   int
	loc      *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

// NewReminderJob parses at as HH:MM in loc.
func NewReminderJob(
	rows RowSource,
	profiles domain.ProfileStore,
	sender ReminderSender,
	at string,
	loc *time.Location,
	logger *zerolog.Logger,
) (*ReminderJob, error) {
	clock, err := time.Parse(models.ClockLayout, at)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	child := logger.With().Str("component", "reminder_job").Logger()

	return &ReminderJob{
		rows:     rows,
		profiles: profiles,
		sender:   sender,
		hour:     clock.Hour(),
		minute:   clock.Minute(),
		loc:      loc,
		now:      time.Now,
		logger:   &child,
	}, nil
}

// Start waits for the next reminder time, then fires every 24h until ctx
// is done.
func (j *ReminderJob) Start(ctx context.Context) {
	timer := time.NewTimer(j.untilNextRun())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sent, err := j.SendTomorrowReminders(ctx)
			if err != nil {
				j.logger.Error().Err(err).Msg("reminder run failed")
			} else {
				j.logger.Info().Int("sent", sent).Msg("reminders sent")
			}
			timer.Reset(j.untilNextRun())
		}
	}
}

func (j *ReminderJob) untilNextRun() time.Duration {
	now := j.now().In(j.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), j.hour, j.minute, 0, 0, j.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// SendTomorrowReminders returns how many reminders were delivered. Failures
// for a single owner are logged and skipped.
func (j *ReminderJob) SendTomorrowReminders(ctx context.Context) (int, error) {
	tomorrow := models.DayInterval(j.now().In(j.loc).AddDate(0, 0, 1), j.loc)

	rows, err := j.rows.ReservationRows(ctx, reminderPrincipal, models.ReservationFilter{
		From:   tomorrow.Start(),
		To:     tomorrow.End(),
		Status: models.StatusActive,
		Limit:  models.MaxListLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list tomorrow reservations: %w", err)
	}

	chatIDs := make(map[string]int64)
	sent := 0
	for _, row := range rows {
		ownerID := row.Reservation.OwnerID
		chatID, ok := chatIDs[ownerID]
		if !ok {
			profile, err := j.profiles.GetProfile(ctx, ownerID)
			if err != nil {
				j.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("reminder: load profile error")
			} else if profile != nil {
				chatID = profile.TelegramChatID
			}
			chatIDs[ownerID] = chatID
		}
		if chatID == 0 {
			continue
		}

		if err := j.sender.SendReminder(chatID, row); err != nil {
			j.logger.Error().Err(err).Str("reservation_id", row.Reservation.ID).Msg("reminder: send error")
			continue
		}
		sent++
	}
	return sent, nil
}
