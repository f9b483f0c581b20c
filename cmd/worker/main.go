package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"flowledger.org/internal/config"
	"flowledger.org/internal/jobs"
	"flowledger.org/internal/ledger"
	"flowledger.org/internal/obs"
	"flowledger.org/internal/store/pg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	obs.Init()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("FLOWLEDGER_REDIS_ADDR is required for the worker")
	}
	if cfg.PGDSN == "" {
		return errors.New("FLOWLEDGER_PG_DSN is required for the worker")
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := ledger.NewCoordinator(store, cfg.Ledger(), ledger.WithLogger(logger))
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:     asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:        logger,
		Reconcile:     jobs.NewReconcileJob(svc, logger),
		ReconcileCron: cfg.ReconcileCron,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker starting", zap.String("redis", cfg.RedisAddr), zap.String("reconcile_cron", cfg.ReconcileCron))
	return worker.Run(ctx)
}
