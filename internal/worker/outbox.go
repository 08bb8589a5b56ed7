package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"reservas/internal/domain"
	"reservas/internal/events"
	"reservas/internal/metrics"
	"reservas/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskNotify       = "notify"
	TaskSheetsUpsert = "sheets_upsert"
)

const (
	redisQueueKey    = "reservas:outbox:queue"
	redisDeadLetters = "reservas:outbox:deadletter"

	// fastPathGrace hides a task from the poller while the redis or
	// in-memory copy is expected to be processed.
	fastPathGrace  = 30 * time.Second
	claimLease     = 2 * time.Minute
	enqueueTimeout = 5 * time.Second
)

// TaskHandler processes one outbox task. A returned error schedules a retry.
type TaskHandler func(ctx context.Context, task models.SyncTask) error

// ReservationTask is the payload of tasks derived from reservation events.
type ReservationTask struct {
	EventType string                         `json:"event_type"`
	Event     events.ReservationEventPayload `json:"event"`
}

// OutboxWorker consumes sync_queue tasks: in-memory queue first, then redis,
// then a database poll for everything the fast paths missed.
type OutboxWorker struct {
	store        domain.OutboxStore
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	running  atomic.Bool
}

func NewOutboxWorker(store domain.OutboxStore, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *OutboxWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	child := logger.With().Str("component", "outbox_worker").Logger()

	return &OutboxWorker{
		store:        store,
		redis:        redisClient,
		retryPolicy:  retry.withDefaults(),
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: 2 * time.Second,
		batchSize:    20,
		logger:       &child,
		handlers:     make(map[string]TaskHandler),
	}
}

func (w *OutboxWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Handle registers the handler for a task type, replacing any previous one.
func (w *OutboxWorker) Handle(taskType string, h TaskHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = h
}

func (w *OutboxWorker) handler(taskType string) (TaskHandler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[taskType]
	return h, ok
}

// Subscribe turns every reservation event on the bus into one task per
// listed task type.
func (w *OutboxWorker) Subscribe(bus *events.EventBus, taskTypes ...string) {
	if bus == nil || len(taskTypes) == 0 {
		return
	}
	handler := func(event *events.Event) error {
		var payload events.ReservationEventPayload
		if err := event.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Type, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()

		task := ReservationTask{EventType: event.Type, Event: payload}
		var errs []error
		for _, taskType := range taskTypes {
			if err := w.Enqueue(ctx, taskType, payload.Reservation.ID, task); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	bus.Subscribe(events.EventReservationCreated, handler)
	bus.Subscribe(events.EventReservationCancelled, handler)
}

// Enqueue persists the task and hands it to the fastest available path.
func (w *OutboxWorker) Enqueue(ctx context.Context, taskType, reservationID string, payload any) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if reservationID == "" {
		return errors.New("reservation id is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	running := w.running.Load()
	fastPath := w.redis != nil || running
	task := models.SyncTask{
		TaskType:      taskType,
		ReservationID: reservationID,
		Payload:       string(payloadBytes),
		Status:        models.SyncStatusPending,
	}
	if fastPath {
		visibleAt := time.Now().Add(fastPathGrace)
		task.NextRetryAt = &visibleAt
	}

	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	if !running {
		return nil
	}
	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Str("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the consume loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.Info().Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if w.pollOnce(ctx) == 0 {
			w.idle(ctx)
		}
	}
}

// pollOnce processes one batch of due tasks and returns how many it saw.
func (w *OutboxWorker) pollOnce(ctx context.Context) int {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *OutboxWorker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case t := <-w.queue:
		w.processTask(ctx, &t)
	}
}

func (w *OutboxWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return models.SyncTask{}, false
		}
		w.logger.Warn().Err(err).Msg("redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.SyncTask) {
	claimed, err := w.store.ClaimSyncTask(ctx, task.ID, claimLease)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("claim task")
		}
		return
	}
	if !claimed {
		w.logger.Debug().Str("task_id", task.ID).Msg("task already claimed")
		return
	}

	h, ok := w.handler(task.TaskType)
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("no handler for task type %q", task.TaskType))
		return
	}

	if err := h(ctx, *task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncOutbox(task.TaskType, models.SyncStatusCompleted)
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	if w.retryPolicy.Exhausted(task.RetryCount) {
		w.failTask(ctx, task, cause)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(task.RetryCount + 1)
	nextTime := time.Now().Add(nextDelay)
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncOutbox(task.TaskType, models.SyncStatusRetry)
	w.logger.Warn().Err(cause).
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Int("attempt", task.RetryCount+1).
		Dur("next_delay", nextDelay).
		Msg("task failed, retry scheduled")
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncOutbox(task.TaskType, models.SyncStatusFailed)
	w.logger.Error().Err(cause).Str("task_id", task.ID).Str("task_type", task.TaskType).Msg("task failed permanently")

	msg := cause.Error()
	task.Status = models.SyncStatusFailed
	task.LastError = &msg
	w.pushDeadLetter(ctx, task)
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, redisDeadLetters, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("deadletter push")
	}
}

// DeadLetters returns up to limit dead-lettered tasks, newest first.
func (w *OutboxWorker) DeadLetters(ctx context.Context, limit int64) ([]models.SyncTask, error) {
	if w.redis == nil {
		return nil, nil
	}
	raw, err := w.redis.LRange(ctx, redisDeadLetters, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read deadletters: %w", err)
	}
	tasks := make([]models.SyncTask, 0, len(raw))
	for _, item := range raw {
		var t models.SyncTask
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode deadletter: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// FailedTasks lists the tasks that exhausted their retries.
func (w *OutboxWorker) FailedTasks(ctx context.Context) ([]models.SyncTask, error) {
	return w.store.GetFailedSyncTasks(ctx)
}
