package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/p2pdesk/p2pdesk-api/internal/config"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/evaluation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/notification"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().Dur("interval", cfg.SweepInterval).Msg("Starting sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	// Retractions go through Redis to whichever API instance holds the gateway connections.
	hub := notification.NewHub(rdb, cfg.EventsChannel)
	defer hub.Shutdown()

	tx := database.NewTransactor(db)
	evaluations := evaluation.NewRepository(db, tx)
	service := operation.NewService(
		operation.NewRepository(db),
		tx,
		evaluation.NewGate(evaluations),
		nil,
		notification.NewDispatcher(hub),
		operation.Options{CollaboratorTimeout: cfg.CollaboratorTimeout},
	)
	worker := operation.NewWorker(service, cfg.SweepInterval, cfg.SweepTimeout)

	if *once {
		n := worker.RunOnce()
		log.Info().Int("cancelled", n).Msg("Sweep finished")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An operator can force a sweep by publishing on <prefix>:sweep; the ticker still runs.
	wake := make(chan struct{}, 1)
	go subscribeWakeups(ctx, rdb, cfg.EventsChannel+":sweep", wake)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	worker.RunOnce()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-wake:
		case <-ticker.C:
		}
		worker.RunOnce()
	}
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, channel string, wake chan<- struct{}) {
	sub := rdb.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
