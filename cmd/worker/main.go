package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"reservas/internal/app"
	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/logging"
	"reservas/internal/metrics"
	"reservas/internal/repository"
	"reservas/internal/service"
	"reservas/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	loc := cfg.App.Location()

	if cfg.Worker.InProcess {
		logger.Warn().Msg("worker.in_process is set; the API already consumes the outbox")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	sinks, err := app.BuildSinks(ctx, cfg, loc, &logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	outbox := worker.NewOutboxWorker(db, redisClient, worker.RetryPolicyFromConfig(cfg.Worker), &logger)
	outbox.SetPollInterval(cfg.Worker.PollIntervalDuration())
	if taskTypes := sinks.Register(outbox); len(taskTypes) == 0 {
		logger.Warn().Msg("no delivery sinks configured; outbox tasks will fail")
	}

	if cfg.Monitoring.PrometheusEnabled {
		go metrics.Serve(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	// Reads only; nothing is published from this process.
	bookingService := service.NewBookingService(db, db, nil, &logger)

	logger.Info().Msg("worker started")
	err = app.RunBackground(ctx, cfg, db, outbox, sinks, bookingService, loc, &logger)
	logger.Info().Msg("worker stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "worker-main")

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, polling the database only")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}
