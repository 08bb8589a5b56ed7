package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"reservas/internal/app"
	"reservas/internal/config"
	"reservas/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath   = flag.String("seed", "configs/seed.yaml", "path to seed.yaml")
		configPath = flag.String("config", "configs/config.yaml", "path to config file (database section)")
		deactivate = flag.Bool("deactivate-missing", false, "deactivate rooms not listed in the seed")
	)
	flag.Parse()

	seed, err := app.LoadSeed(*seedPath)
	if err != nil {
		return err
	}
	if len(seed.Rooms) == 0 && len(seed.Profiles) == 0 {
		return fmt.Errorf("seed %s is empty", *seedPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Open(cfg.Database, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := seed.Apply(ctx, db, db, &logger); err != nil {
		return err
	}

	deactivated := 0
	if *deactivate {
		if deactivated, err = seed.DeactivateMissing(ctx, db); err != nil {
			return err
		}
	}

	fmt.Printf("done: rooms=%d profiles=%d deactivated=%d\n", len(seed.Rooms), len(seed.Profiles), deactivated)
	return nil
}
