package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"flowledger.org/internal/obs"
	"flowledger.org/internal/sim"
)

func main() {
	var (
		baseURL   = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers   = flag.Int("workers", 4, "Concurrent worker count")
		duration  = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		requests  = flag.Int("requests", 0, "Stop after this many actions (0 = run for -duration)")
		rps       = flag.Float64("rps", 0, "Client-side request rate limit (0 = unlimited)")
		seed      = flag.Int64("seed", 0, "Random seed (0 = time based)")
		logLevel  = flag.String("log-level", "info", "Log level")
		logFormat = flag.String("log-format", "console", "Log format: json or console")
	)
	flag.Parse()

	logger, err := obs.NewLogger(*logLevel, *logFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := sim.Config{
		BaseURL:    *baseURL,
		Workers:    *workers,
		Duration:   *duration,
		Requests:   *requests,
		RatePerSec: *rps,
		Seed:       *seed,
	}
	if *requests > 0 {
		cfg.Duration = 0
	}
	logger.Info("launching load simulation",
		zap.String("base_url", cfg.BaseURL),
		zap.Int("workers", cfg.Workers),
		zap.Duration("duration", cfg.Duration),
		zap.Int("requests", cfg.Requests),
	)

	runner := sim.NewRunner(cfg, &http.Client{Timeout: 10 * time.Second}, logger.Named("sim"))
	rep, err := runner.Run(ctx)
	logger.Info("run complete",
		zap.Stringer("summary", rep.Summary),
		zap.Duration("elapsed", rep.Elapsed),
		zap.Bool("conserved", rep.Conserved()),
	)
	if err != nil {
		if errors.Is(err, sim.ErrNotConserved) {
			logger.Error("conservation check failed", zap.Error(err))
		} else {
			logger.Error("simulation failed", zap.Error(err))
		}
		os.Exit(1)
	}
}
