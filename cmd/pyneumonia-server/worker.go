package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/pyneumonia/pyneumonia/internal/config"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/queue"
)

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env).With().Str("component", "worker").Logger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize image storage")
	}
	pgSink, sink, publisher := newAuditSink(cfg, pool, logger)
	if publisher != nil {
		defer publisher.Close()
	}
	svc := newServices(cfg, pool, store, sink, pgSink, logger)

	server := asynq.NewServer(queue.RedisOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info().Str("redis", cfg.RedisAddr).Int("concurrency", cfg.WorkerConcurrency).Msg("starting worker")
	return server.Run(queue.NewProcessor(svc.diagnoses, logger).Handler())
}
