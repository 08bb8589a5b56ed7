package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reservas/internal/config"
	"reservas/internal/domain"
	"reservas/internal/logging"
	"reservas/internal/models"
	"reservas/internal/report"
	"reservas/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Booking is the part of the booking service the HTTP API drives.
type Booking interface {
	AvailabilityBackend
	CreateReservation(ctx context.Context, p models.Principal, in service.CreateReservationInput) (*models.Reservation, error)
	CancelReservation(ctx context.Context, p models.Principal, id string) error
	GetReservation(ctx context.Context, p models.Principal, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, p models.Principal, filter models.ReservationFilter) ([]models.Reservation, error)
	Describe(ctx context.Context, reservations []models.Reservation) []models.ReservationDetail
	ListRooms(ctx context.Context) ([]models.Room, error)
	Stats(ctx context.Context, p models.Principal) (*models.Stats, error)
	ReservationRows(ctx context.Context, p models.Principal, filter models.ReservationFilter) ([]models.ReservationRow, error)
}

type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID string) (models.Principal, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// OutboxInspector exposes the tasks that exhausted their retries.
type OutboxInspector interface {
	FailedTasks(ctx context.Context) ([]models.SyncTask, error)
	DeadLetters(ctx context.Context, limit int64) ([]models.SyncTask, error)
}

// HTTPDeps groups the collaborators of HTTPServer. RateLimits, Ready and
// Outbox are optional.
type HTTPDeps struct {
	Booking    Booking
	Principals PrincipalResolver
	RateLimits domain.RateLimitStore
	Ready      Pinger
	Outbox     OutboxInspector
	Location   *time.Location
}

// HTTPServer exposes the reservation JSON API.
type HTTPServer struct {
	cfg        config.APIConfig
	booking    Booking
	principals PrincipalResolver
	rateLimits domain.RateLimitStore
	ready      Pinger
	outbox     OutboxInspector
	loc        *time.Location
	tokens     *TokenVerifier
	ipLimiter  *rateLimiter
	server     *http.Server
	logger     *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps HTTPDeps, logger *zerolog.Logger) *HTTPServer {
	child := logging.Component(logger, "http")
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	srv := &HTTPServer{
		cfg:        cfg,
		booking:    deps.Booking,
		principals: deps.Principals,
		rateLimits: deps.RateLimits,
		ready:      deps.Ready,
		outbox:     deps.Outbox,
		loc:        loc,
		tokens:     NewTokenVerifier(cfg.JWT),
		ipLimiter:  newRateLimiter(cfg.RateLimit),
		logger:     &child,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.ipRateLimit, s.authenticate)

	api.HandleFunc("/reservations", s.userRateLimit(s.handleCreateReservation)).Methods(http.MethodPost)
	api.HandleFunc("/reservations", s.handleListReservations).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id}", s.handleGetReservation).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id}", s.userRateLimit(s.handleCancelReservation)).Methods(http.MethodDelete)
	api.HandleFunc("/classrooms", s.handleListClassrooms).Methods(http.MethodGet)
	api.HandleFunc("/classrooms/availability", s.handleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/admin/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/outbox/failed", s.handleFailedOutbox).Methods(http.MethodGet)
	api.HandleFunc("/reports/reservations.xlsx", s.handleReservationsReport).Methods(http.MethodGet)

	return r
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createReservationRequest struct {
	ClassroomID     string    `json:"classroom_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ReservationType string    `json:"reservation_type"`
	StartDatetime   time.Time `json:"start_datetime"`
	EndDatetime     time.Time `json:"end_datetime"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var body createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reservation, err := s.booking.CreateReservation(r.Context(), principalFrom(r.Context()), service.CreateReservationInput{
		RoomID:      strings.TrimSpace(body.ClassroomID),
		Title:       body.Title,
		Description: body.Description,
		Kind:        body.ReservationType,
		Start:       body.StartDatetime,
		End:         body.EndDatetime,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reservation": s.describeOne(r, reservation)})
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.booking.CancelReservation(r.Context(), principalFrom(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reserva cancelada"})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.booking.GetReservation(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation": s.describeOne(r, reservation)})
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reservations, err := s.booking.ListReservations(r.Context(), principalFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": s.booking.Describe(r.Context(), reservations)})
}

func (s *HTTPServer) describeOne(r *http.Request, reservation *models.Reservation) models.ReservationDetail {
	return s.booking.Describe(r.Context(), []models.Reservation{*reservation})[0]
}

func (s *HTTPServer) handleListClassrooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.booking.ListRooms(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classrooms": nonNilRooms(rooms)})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	start := strings.TrimSpace(q.Get("start_time"))
	end := strings.TrimSpace(q.Get("end_time"))
	if date == "" || start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "date, start_time and end_time are required")
		return
	}

	iv, err := models.ParseInterval(date, start, end, s.loc)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	rooms, err := s.booking.FindAvailableRooms(r.Context(), iv)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classrooms": nonNilRooms(rooms)})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.booking.Stats(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleFailedOutbox(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).IsCoordinator() {
		s.writeServiceError(w, r, service.ErrForbidden)
		return
	}
	if s.outbox == nil {
		writeError(w, http.StatusNotFound, "outbox not available")
		return
	}

	failed, err := s.outbox.FailedTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	dead, err := s.outbox.DeadLetters(r.Context(), 100)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": failed, "dead_letters": dead})
}

func (s *HTTPServer) handleReservationsReport(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit == 0 {
		filter.Limit = models.MaxListLimit
	}

	rows, err := s.booking.ReservationRows(r.Context(), principalFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	data, err := report.ReservationsXLSX(rows, s.loc)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	fileName := fmt.Sprintf("reservas_%s.xlsx", time.Now().In(s.loc).Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.PingContext(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// parseFilter reads the list filters. Dates are whole days in the app
// timezone; end_date is inclusive.
func (s *HTTPServer) parseFilter(r *http.Request) (models.ReservationFilter, error) {
	q := r.URL.Query()
	filter := models.ReservationFilter{
		UserID: strings.TrimSpace(q.Get("user_id")),
		RoomID: strings.TrimSpace(q.Get("classroom_id")),
		Kind:   strings.TrimSpace(q.Get("reservation_type")),
		Status: strings.TrimSpace(q.Get("status")),
	}

	if raw := strings.TrimSpace(q.Get("start_date")); raw != "" {
		day, err := time.ParseInLocation(models.DateLayout, raw, s.loc)
		if err != nil {
			return filter, errors.New("invalid start_date; expected YYYY-MM-DD")
		}
		filter.From = day
	}
	if raw := strings.TrimSpace(q.Get("end_date")); raw != "" {
		day, err := time.ParseInLocation(models.DateLayout, raw, s.loc)
		if err != nil {
			return filter, errors.New("invalid end_date; expected YYYY-MM-DD")
		}
		filter.To = day.AddDate(0, 0, 1)
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInterval),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrRoomUnavailable):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func nonNilRooms(rooms []models.Room) []models.Room {
	if rooms == nil {
		return []models.Room{}
	}
	return rooms
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
