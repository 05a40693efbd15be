package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("tick_interval", cfg.TickInterval).
		Msg("Starting assessment engine")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	gateway := repository.NewGateway(attemptRepo, violationRepo)

	// ─── Initialize Services ──────────────────────────────────────────
	journal := service.NewRedisJournal(rdb)
	retryQueue := worker.NewRetryQueue(rdb)
	catalog := service.NewCatalogService(assessmentRepo, questionRepo, rdb, cfg.CatalogCacheTTL, log)

	attemptService := service.NewAttemptService(catalog, gateway, journal, attempt.Config{
		Gateway:        gateway,
		Journal:        journal,
		Failures:       retryQueue,
		Publisher:      service.NewViolationFeed(rdb),
		TickInterval:   cfg.TickInterval,
		PersistTimeout: cfg.PersistTimeout,
	}, log)

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	retryWorker := worker.NewRetryWorker(gateway, rdb, worker.DefaultMaxRetries, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		retryWorker.Start(workerCtx)
	}()

	if n, err := retryQueue.Len(ctx); err == nil && n > 0 {
		log.Warn().Int64("pending", n).Msg("Retry queue has writes from a previous run")
	}

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router.SetupRouter(ctx, handlers, cfg),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Int("active_attempts", attemptService.Active()).
		Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Running attempts stay
	// IN_PROGRESS with their journal and resume on the next start.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the retry worker and wait for it to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Retry worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
