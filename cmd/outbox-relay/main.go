package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/carebook/paydesk/internal/config"
	"github.com/carebook/paydesk/internal/database"
	"github.com/carebook/paydesk/internal/kafka"
	"github.com/carebook/paydesk/internal/logger"
	"github.com/carebook/paydesk/internal/outbox"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Outbox Relay Service...")

	db, err := database.New(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	kProducer, err := kafka.NewProducer(kafka.DefaultConfig(cfg.Kafka.Brokers), &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Kafka producer")
	}
	defer kProducer.Close()

	relay := outbox.NewRelay(db.Pool, kProducer, &log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Relay service stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Outbox Relay...")
	cancel()

	log.Info().Msg("Outbox Relay shutdown complete")
}
