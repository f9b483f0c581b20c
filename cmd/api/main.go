package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"flowledger.org/internal/config"
	"flowledger.org/internal/httpapi"
	"flowledger.org/internal/jobs"
	"flowledger.org/internal/ledger"
	"flowledger.org/internal/lock"
	"flowledger.org/internal/obs"
	"flowledger.org/internal/store/pg"
	"flowledger.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
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
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.IsProduction() && cfg.PGDSN == "" {
		return errors.New("FLOWLEDGER_PG_DSN is required in production")
	}

	var store ledger.Store
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		store = pgStore
		logger.Info("using postgres store")
	} else {
		store = ledger.NewInMemory()
		logger.Warn("FLOWLEDGER_PG_DSN not set, using in-memory store")
	}

	var (
		locker  lock.Locker = lock.NewLocal()
		apiOpts             = []httpapi.Option{
			httpapi.WithLogger(logger),
			httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
			httpapi.WithCORSOrigins(cfg.Origins()...),
		}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.LockTTL, 10*time.Millisecond)

		queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer queue.Close()
		apiOpts = append(apiOpts, httpapi.WithReconcileQueue(queue))
		logger.Info("using redis locks and job queue", zap.String("addr", cfg.RedisAddr))
	}

	events := stream.New()
	svc := ledger.NewCoordinator(store, cfg.Ledger(),
		ledger.WithLogger(logger),
		ledger.WithLocker(locker),
		ledger.WithCommitHook(events.Hook()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := svc.Provision(provisionCtx)
	cancel()
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{Target: svc}
	api := httpapi.New(probe, version, svc, events, apiOpts...)

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe, logger.Named("grpc.health"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting http", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("starting grpc", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go health.Run(ctx, 5*time.Second)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("server failed", zap.Error(err))
	}
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	grpcSrv.GracefulStop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}
