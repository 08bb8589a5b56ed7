package app

import (
	"context"
	"sync"
	"time"

	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/worker"

	"github.com/rs/zerolog"
)

// RunBackground consumes the outbox and runs the reminder and backup jobs
// until ctx is done. Handlers must already be registered on outbox.
func RunBackground(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	outbox *worker.OutboxWorker,
	sinks *Sinks,
	rows worker.RowSource,
	loc *time.Location,
	logger *zerolog.Logger,
) error {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(outbox.Start)

	if sinks.Telegram != nil {
		job, err := worker.NewReminderJob(rows, db, sinks.Telegram, cfg.Worker.ReminderTime, loc, logger)
		if err != nil {
			return err
		}
		run(job.Start)
	} else {
		logger.Info().Msg("telegram not configured, reminders disabled")
	}

	if cfg.Backup.Enabled {
		run(database.NewBackupService(db, cfg.Backup, logger).Start)
	}

	wg.Wait()
	return nil
}
