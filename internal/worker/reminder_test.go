package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"reservas/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	rows      []models.ReservationRow
	err       error
	gotFilter models.ReservationFilter
	gotRole   string
}

func (f *fakeRows) ReservationRows(_ context.Context, p models.Principal, filter models.ReservationFilter) ([]models.ReservationRow, error) {
	f.gotFilter = filter
	f.gotRole = p.Role
	return f.rows, f.err
}

type fakeProfiles struct {
	profiles map[string]*models.Profile
	lookups  int
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.lookups++
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (f *fakeProfiles) UpsertProfile(context.Context, *models.Profile) error { return nil }

func (f *fakeProfiles) CountProfilesByRole(context.Context, string) (int, error) { return 0, nil }

type fakeReminderSender struct {
	sent map[int64][]string
	fail int64
}

func (f *fakeReminderSender) SendReminder(chatID int64, row models.ReservationRow) error {
	if chatID == f.fail {
		return errors.New("blocked by user")
	}
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], row.Reservation.ID)
	return nil
}

func rowFor(id, owner string) models.ReservationRow {
	return models.ReservationRow{Reservation: models.Reservation{ID: id, OwnerID: owner, Status: models.StatusActive}}
}

func TestReminderJob_SendTomorrowReminders(t *testing.T) {
	loc := time.FixedZone("COT", -5*60*60)

	rows := &fakeRows{rows: []models.ReservationRow{
		rowFor("r1", "ana"),
		rowFor("r2", "ana"),
		rowFor("r3", "luis"),
		rowFor("r4", "sin-chat"),
		rowFor("r5", "desconocido"),
		rowFor("r6", "bloqueado"),
	}}
	profiles := &fakeProfiles{profiles: map[string]*models.Profile{
		"ana":       {ID: "ana", TelegramChatID: 100},
		"luis":      {ID: "luis", TelegramChatID: 200},
		"sin-chat":  {ID: "sin-chat"},
		"bloqueado": {ID: "bloqueado", TelegramChatID: 300},
	}}
	sender := &fakeReminderSender{fail: 300}

	job, err := NewReminderJob(rows, profiles, sender, "18:00", loc, nil)
	require.NoError(t, err)
	job.now = func() time.Time { return time.Date(2030, 1, 10, 18, 0, 0, 0, loc) }

	sent, err := job.SendTomorrowReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []string{"r1", "r2"}, sender.sent[100])
	assert.Equal(t, []string{"r3"}, sender.sent[200])
	assert.Equal(t, 5, profiles.lookups, "profiles are memoized per owner")

	assert.Equal(t, models.RoleCoordinator, rows.gotRole)
	assert.Equal(t, models.StatusActive, rows.gotFilter.Status)
	assert.True(t, rows.gotFilter.From.Equal(time.Date(2030, 1, 11, 0, 0, 0, 0, loc)))
	assert.True(t, rows.gotFilter.To.Equal(time.Date(2030, 1, 12, 0, 0, 0, 0, loc)))
}

func TestReminderJob_ListError(t *testing.T) {
	job, err := NewReminderJob(&fakeRows{err: errors.New("db down")}, &fakeProfiles{}, &fakeReminderSender{}, "09:30", nil, nil)
	require.NoError(t, err)

	_, err = job.SendTomorrowReminders(context.Background())
	assert.Error(t, err)
}

func TestReminderJob_UntilNextRun(t *testing.T) {
	job, err := NewReminderJob(&fakeRows{}, &fakeProfiles{}, &fakeReminderSender{}, "18:30", time.UTC, nil)
	require.NoError(t, err)

	job.now = func() time.Time { return time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, 6*time.Hour+30*time.Minute, job.untilNextRun())

	job.now = func() time.Time { return time.Date(2030, 1, 10, 18, 30, 0, 0, time.UTC) }
	assert.Equal(t, 24*time.Hour, job.untilNextRun())
}

func TestNewReminderJob_InvalidTime(t *testing.T) {
	_, err := NewReminderJob(&fakeRows{}, &fakeProfiles{}, &fakeReminderSender{}, "25:99", nil, nil)
	assert.Error(t, err)
}
