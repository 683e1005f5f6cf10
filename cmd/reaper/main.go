package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aurorafeed/broadcast-core/internal/config"
	"github.com/aurorafeed/broadcast-core/internal/database"
	"github.com/aurorafeed/broadcast-core/internal/notify"
	"github.com/aurorafeed/broadcast-core/internal/queue"
)

// main runs the stale-lease reaper as its own process, so it keeps
// recovering abandoned jobs even when every worker instance is scaled to
// zero. Adapted from cmd/dispatcher/main.go's standalone ticker-loop shape:
// one long-lived background loop plus signal-driven shutdown, no HTTP
// surface and no request handler of its own.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting broadcast-core reaper")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	notifier := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	defer notifier.Close()

	store := queue.NewStore(db, notifier, cfg.JobBackoffBase, cfg.JobBackoffMax)
	reaper := queue.NewReaper(store, cfg.ReaperInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper.Start(ctx)

	log.Info().Dur("interval", cfg.ReaperInterval).Msg("reaper running, recovering stale leases")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down reaper...")
	reaper.Stop()
	cancel()

	log.Info().Msg("Reaper exited")
}
