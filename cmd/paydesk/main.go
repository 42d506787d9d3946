package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebook/paydesk/internal/audit"
	"github.com/carebook/paydesk/internal/config"
	"github.com/carebook/paydesk/internal/database"
	"github.com/carebook/paydesk/internal/idempotency"
	"github.com/carebook/paydesk/internal/logger"
	"github.com/carebook/paydesk/internal/options"
	"github.com/carebook/paydesk/internal/outbox"
	"github.com/carebook/paydesk/internal/payment"
	"github.com/carebook/paydesk/internal/reconciliation"
	"github.com/carebook/paydesk/internal/redis"
	"github.com/carebook/paydesk/internal/refund"
	"github.com/carebook/paydesk/internal/reversal"
	"github.com/carebook/paydesk/internal/router"
	"github.com/carebook/paydesk/internal/server"
	"github.com/carebook/paydesk/internal/topup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()

	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	db, err := database.New(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// The guard degrades gracefully when redis is unreachable; the store's
	// unique keys still hold the at-most-once line.
	var guard *idempotency.Guard
	redisClient, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, commands rely on store-level idempotency only")
	} else {
		defer redisClient.Close()
		guard = idempotency.NewGuard(redisClient, cfg.Redis.IdempotencyTTL, &log)
	}

	srv, err := server.NewServer(cfg, &log, loggerService, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	events := outbox.NewQueue(db.Pool)

	auditRepo := audit.NewRepository(db.Pool)
	recorder := audit.NewRecorder(auditRepo, events, &log)

	paymentRepo := payment.NewRepository(db.Pool)
	refundRepo := refund.NewRepository(db.Pool)
	reversalRepo := reversal.NewRepository(db.Pool)
	topUpRepo := topup.NewRepository(db.Pool)
	balances := topup.NewBalances(db.Pool)
	optionsRepo := options.NewRepository(db.Pool)
	reconciliationRepo := reconciliation.NewRepository(db.Pool)

	refundService := refund.NewService(refundRepo, paymentRepo, guard, recorder)
	reversalService := reversal.NewService(reversalRepo, paymentRepo, guard, recorder)
	optionsService := options.NewService(optionsRepo, guard, recorder)
	topUpService := topup.NewService(topUpRepo, balances, optionsService, guard, recorder)
	reconciliationService := reconciliation.NewService(
		reconciliationRepo, paymentRepo, guard, recorder, events, cfg.Reconciliation.TransactionCap)

	handlers := &router.Handlers{
		Refund:         refund.NewHandler(refundService),
		Reversal:       reversal.NewHandler(reversalService),
		TopUp:          topup.NewHandler(topUpService),
		Options:        options.NewHandler(optionsService),
		Reconciliation: reconciliation.NewHandler(reconciliationService),
		Audit:          audit.NewHandler(auditRepo),
	}

	r := router.NewRouter(srv, handlers)

	srv.SetupHTTPServer(r)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
