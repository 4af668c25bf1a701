// Command cleanup-reservations deletes lapsed stock reservations. It exists
// for environments where the API's opportunistic sweep is not enough and a
// cron-driven pass is wanted.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/BohdanKuzik/MamaSHO/internal/config"
	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := store.CleanupExpiredReservations(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to clean up reservations")
	}

	logger.Info().Int64("removed", removed).Msg("expired reservations cleaned up")
}
