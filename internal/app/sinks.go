package app

import (
	"context"
	"fmt"
	"time"

	"reservas/internal/config"
	"reservas/internal/domain"
	"reservas/internal/google"
	"reservas/internal/notify"
	"reservas/internal/service"
	"reservas/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sinks holds the external delivery targets of reservation events.
// Any of Telegram, Publisher or Sheets is nil when not configured.
type Sinks struct {
	Telegram   *service.TelegramService
	Publisher  *notify.AMQPPublisher
	Sheets     *google.SheetsService
	Dispatcher *notify.Dispatcher
}

func BuildSinks(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zerolog.Logger) (*Sinks, error) {
	s := &Sinks{}

	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		bot.Debug = cfg.Telegram.Debug
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
		s.Telegram = service.NewTelegramService(bot, loc)
	}

	if cfg.AMQP.URL != "" {
		s.Publisher = notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	}

	if cfg.Google.CredentialsFile != "" && cfg.Google.ReservationsSpreadsheetID != "" {
		sheets, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile,
			cfg.Google.ReservationsSpreadsheetID, cfg.Google.SheetName, loc)
		if err == nil {
			err = sheets.TestConnection(ctx)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets unavailable, continuing without sheets")
		} else if err := sheets.EnsureHeader(ctx); err != nil {
			logger.Warn().Err(err).Msg("google sheets header check failed, continuing without sheets")
		} else {
			if err := sheets.WarmUpCache(ctx); err != nil {
				logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
			}
			s.Sheets = sheets
		}
	}

	s.Dispatcher = s.dispatcher(loc, logger)
	return s, nil
}

func (s *Sinks) dispatcher(loc *time.Location, logger *zerolog.Logger) *notify.Dispatcher {
	var (
		publisher domain.MessagePublisher
		telegram  notify.ReservationNotifier
	)
	if s.Publisher != nil {
		publisher = s.Publisher
	}
	if s.Telegram != nil {
		telegram = s.Telegram
	}
	if publisher == nil && telegram == nil {
		return nil
	}
	return notify.NewDispatcher(publisher, telegram, loc, logger)
}

// Register wires the outbox handlers for every configured sink and returns
// the task types events should be fanned out to.
func (s *Sinks) Register(w *worker.OutboxWorker) []string {
	var taskTypes []string
	if s.Dispatcher != nil {
		w.Handle(worker.TaskNotify, worker.NotifyHandler(s.Dispatcher))
		taskTypes = append(taskTypes, worker.TaskNotify)
	}
	if s.Sheets != nil {
		w.Handle(worker.TaskSheetsUpsert, worker.SheetsHandler(s.Sheets))
		taskTypes = append(taskTypes, worker.TaskSheetsUpsert)
	}
	return taskTypes
}

// TaskTypes lists the task types implied by the configuration alone, for
// processes that enqueue but do not consume.
func TaskTypes(cfg *config.Config) []string {
	var taskTypes []string
	if cfg.Telegram.BotToken != "" || cfg.AMQP.URL != "" {
		taskTypes = append(taskTypes, worker.TaskNotify)
	}
	if cfg.Google.CredentialsFile != "" && cfg.Google.ReservationsSpreadsheetID != "" {
		taskTypes = append(taskTypes, worker.TaskSheetsUpsert)
	}
	return taskTypes
}

func (s *Sinks) Close() {
	if s.Publisher != nil {
		_ = s.Publisher.Close()
	}
}
