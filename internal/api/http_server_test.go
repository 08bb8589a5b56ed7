package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/models"
	"reservas/internal/repository"
	"reservas/internal/service"
	"reservas/internal/worker"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSecret = "test-secret"

type testEnv struct {
	db     *database.DB
	server *HTTPServer
	ts     *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.APIConfig)) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, p := range []*models.Profile{
		{ID: "teacher-1", FullName: "Ana Pérez", Role: models.RoleTeacher},
		{ID: "teacher-2", FullName: "Luis Gómez", Role: models.RoleTeacher},
		{ID: "coord-1", FullName: "Marta Ruiz", Role: models.RoleCoordinator},
	} {
		require.NoError(t, db.UpsertProfile(ctx, p))
	}
	for _, r := range []*models.Room{
		{ID: "room-b", Name: "Aula B", Capacity: 20, IsActive: true},
		{ID: "room-a", Name: "Aula A", Capacity: 30, IsActive: true},
	} {
		require.NoError(t, db.UpsertRoom(ctx, r))
	}

	cfg := config.APIConfig{
		HTTP:          config.APIHTTPConfig{Enabled: true},
		JWT:           config.JWTConfig{Secret: testSecret},
		UserRateLimit: config.APIUserRateLimitConfig{Requests: 100, Window: "1m"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	booking := service.NewBookingService(db, db, nil, &logger)
	server := NewHTTPServer(cfg, HTTPDeps{
		Booking:    booking,
		Principals: service.NewProfileService(db, &logger),
		RateLimits: repository.NewMemoryRateLimiter(),
		Ready:      db,
		Outbox:     worker.NewOutboxWorker(db, nil, worker.RetryPolicy{}, &logger),
	}, &logger)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{db: db, server: server, ts: ts}
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, user, time.Now().Add(time.Hour)))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func futureSlot(hour int) (time.Time, time.Time) {
	day := time.Now().UTC().AddDate(0, 0, 7)
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func createBody(room string, start, end time.Time) map[string]any {
	return map[string]any{
		"classroom_id":     room,
		"title":            "Clase",
		"reservation_type": models.KindAcademic,
		"start_datetime":   start.Format(time.RFC3339),
		"end_datetime":     end.Format(time.RFC3339),
	}
}

func createReservation(t *testing.T, e *testEnv, user, room string, hour int) models.Reservation {
	t.Helper()
	start, end := futureSlot(hour)
	resp := e.do(t, http.MethodPost, "/api/v1/reservations", user, createBody(room, start, end))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Reservation models.Reservation `json:"reservation"`
	}
	decodeBody(t, resp, &body)
	return body.Reservation
}

func TestHealthAndReady(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	e := newTestEnv(t, nil)

	t.Run("MissingToken", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/v1/classrooms", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/api/v1/classrooms", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "teacher-1", time.Now().Add(-time.Minute)))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "teacher-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte("other"))
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/api/v1/classrooms", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/v1/classrooms", "ghost", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestCreateReservation(t *testing.T) {
	e := newTestEnv(t, nil)
	start, end := futureSlot(10)

	resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", createBody("room-a", start, end))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Reservation models.Reservation `json:"reservation"`
	}
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.Reservation.ID)
	assert.Equal(t, "teacher-1", created.Reservation.OwnerID)
	assert.Equal(t, models.StatusActive, created.Reservation.Status)

	t.Run("Conflict", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-2",
			createBody("room-a", start.Add(30*time.Minute), end.Add(30*time.Minute)))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Contains(t, body["error"], "room unavailable")
	})

	t.Run("BackToBack", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-2", createBody("room-a", end, end.Add(time.Hour)))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("InvalidInterval", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", createBody("room-b", end, start))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", createBody("room-z", start, end))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("BadJSON", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", map[string]any{"unknown": 1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReservationResponseEmbedsClassroomAndUser(t *testing.T) {
	e := newTestEnv(t, nil)
	start, end := futureSlot(11)

	resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", createBody("room-a", start, end))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Reservation map[string]any `json:"reservation"`
	}
	decodeBody(t, resp, &created)

	res := created.Reservation
	assert.Equal(t, start.Format(time.RFC3339), res["start_datetime"])
	assert.Equal(t, end.Format(time.RFC3339), res["end_datetime"])
	assert.NotContains(t, res, "interval")
	require.IsType(t, map[string]any{}, res["classroom"])
	assert.Equal(t, "Aula A", res["classroom"].(map[string]any)["name"])
	require.IsType(t, map[string]any{}, res["user"])
	assert.Equal(t, "Ana Pérez", res["user"].(map[string]any)["full_name"])

	resp = e.do(t, http.MethodGet, "/api/v1/reservations", "teacher-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Reservations []models.ReservationDetail `json:"reservations"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Reservations, 1)
	got := listed.Reservations[0]
	require.NotNil(t, got.Classroom)
	assert.Equal(t, "room-a", got.Classroom.ID)
	require.NotNil(t, got.User)
	assert.Equal(t, "teacher-1", got.User.ID)
	assert.True(t, got.Interval.Start().Equal(start))
}

func TestGetAndCancelReservation(t *testing.T) {
	e := newTestEnv(t, nil)
	res := createReservation(t, e, "teacher-1", "room-a", 9)
	path := "/api/v1/reservations/" + res.ID

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, "teacher-1", nil).StatusCode)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, "coord-1", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, path, "teacher-2", nil).StatusCode)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, path, "teacher-2", nil).StatusCode)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, path, "teacher-1", nil).StatusCode)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, path, "teacher-1", nil).StatusCode, "cancel is idempotent")

	resp := e.do(t, http.MethodGet, path, "teacher-1", nil)
	var body struct {
		Reservation models.Reservation `json:"reservation"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, models.StatusCancelled, body.Reservation.Status)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/reservations/missing", "coord-1", nil).StatusCode)

	// the slot is free again
	createReservation(t, e, "teacher-2", "room-a", 9)
}

func TestListReservations_ScopedForTeachers(t *testing.T) {
	e := newTestEnv(t, nil)
	createReservation(t, e, "teacher-1", "room-a", 8)
	createReservation(t, e, "teacher-2", "room-b", 8)

	var body struct {
		Reservations []models.Reservation `json:"reservations"`
	}

	resp := e.do(t, http.MethodGet, "/api/v1/reservations?user_id=teacher-2", "teacher-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Len(t, body.Reservations, 1)
	assert.Equal(t, "teacher-1", body.Reservations[0].OwnerID)

	resp = e.do(t, http.MethodGet, "/api/v1/reservations?user_id=teacher-2", "coord-1", nil)
	decodeBody(t, resp, &body)
	require.Len(t, body.Reservations, 1)
	assert.Equal(t, "teacher-2", body.Reservations[0].OwnerID)

	resp = e.do(t, http.MethodGet, "/api/v1/reservations", "coord-1", nil)
	decodeBody(t, resp, &body)
	assert.Len(t, body.Reservations, 2)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/reservations?start_date=bad", "coord-1", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/reservations?status=weird", "coord-1", nil).StatusCode)
}

func TestClassroomsAndAvailability(t *testing.T) {
	e := newTestEnv(t, nil)

	var body struct {
		Classrooms []models.Room `json:"classrooms"`
	}
	resp := e.do(t, http.MethodGet, "/api/v1/classrooms", "teacher-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Len(t, body.Classrooms, 2)
	assert.Equal(t, "Aula A", body.Classrooms[0].Name)

	createReservation(t, e, "teacher-1", "room-a", 14)
	start, _ := futureSlot(14)
	date := start.Format(models.DateLayout)

	resp = e.do(t, http.MethodGet, "/api/v1/classrooms/availability?date="+date+"&start_time=14:30&end_time=15:30", "teacher-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Len(t, body.Classrooms, 1)
	assert.Equal(t, "room-b", body.Classrooms[0].ID)

	resp = e.do(t, http.MethodGet, "/api/v1/classrooms/availability?date="+date+"&start_time=15:00&end_time=16:00", "teacher-2", nil)
	decodeBody(t, resp, &body)
	assert.Len(t, body.Classrooms, 2)

	resp = e.do(t, http.MethodGet, "/api/v1/classrooms/availability?date="+date+"&start_time=16:00&end_time=15:00", "teacher-2", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/classrooms/availability?date="+date, "teacher-2", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndReport_CoordinatorOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	createReservation(t, e, "teacher-1", "room-a", 11)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/admin/stats", "teacher-1", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/reports/reservations.xlsx", "teacher-1", nil).StatusCode)

	resp := e.do(t, http.MethodGet, "/api/v1/admin/stats", "coord-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats models.Stats
	decodeBody(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalReservations)
	assert.Equal(t, 1, stats.ActiveReservations)
	assert.Equal(t, 2, stats.TotalTeachers)
	assert.Equal(t, 1, stats.ReservationsByKind[models.KindAcademic])

	resp = e.do(t, http.MethodGet, "/api/v1/reports/reservations.xlsx", "coord-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Reservas")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Aula A", rows[1][4])
	assert.Equal(t, "Ana Pérez", rows[1][6])
}

func TestFailedOutbox_CoordinatorOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	task := &models.SyncTask{TaskType: worker.TaskNotify, ReservationID: "res-1", Payload: "{}", Status: models.SyncStatusPending}
	require.NoError(t, e.db.CreateSyncTask(ctx, task))
	require.NoError(t, e.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, "broker down", nil))

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/admin/outbox/failed", "teacher-1", nil).StatusCode)

	resp := e.do(t, http.MethodGet, "/api/v1/admin/outbox/failed", "coord-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Failed      []models.SyncTask `json:"failed"`
		DeadLetters []models.SyncTask `json:"dead_letters"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Failed, 1)
	assert.Equal(t, task.ID, body.Failed[0].ID)
	require.NotNil(t, body.Failed[0].LastError)
	assert.Equal(t, "broker down", *body.Failed[0].LastError)
	assert.Empty(t, body.DeadLetters)
}

func TestUserRateLimit(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.APIConfig) {
		cfg.UserRateLimit = config.APIUserRateLimitConfig{Requests: 1, Window: "1m"}
	})

	createReservation(t, e, "teacher-1", "room-a", 7)
	start, end := futureSlot(12)
	resp := e.do(t, http.MethodPost, "/api/v1/reservations", "teacher-1", createBody("room-b", start, end))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// other users and read endpoints are unaffected
	createReservation(t, e, "teacher-2", "room-b", 12)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/reservations", "teacher-1", nil).StatusCode)
}

func TestIPRateLimit(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.APIConfig) {
		cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/classrooms", "teacher-1", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, e.do(t, http.MethodGet, "/api/v1/classrooms", "teacher-1", nil).StatusCode)
}

func TestNotFoundRoute(t *testing.T) {
	e := newTestEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
