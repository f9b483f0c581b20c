package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"flowledger.org/internal/migrate"
	"flowledger.org/internal/obs"
	"flowledger.org/internal/store/pg"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("FLOWLEDGER_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", os.Getenv("FLOWLEDGER_MIGRATIONS_DIR"), "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger, err := obs.NewLogger("info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or FLOWLEDGER_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status]")
	}

	migrations, err := source(*migrationsPath, pg.Migrations, "migrations")
	if err != nil {
		logger.Fatal("migrations source", zap.Error(err))
	}
	seeds, err := source(*seedsPath, pg.Seeds, "seeds")
	if err != nil {
		logger.Fatal("seeds source", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations, seeds, migrate.WithLogger(logger))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		logger.Info("migrations applied", zap.Strings("files", applied))
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			err = nil
		} else if err == nil {
			logger.Info("migration rolled back", zap.String("file", reverted))
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		logger.Info("seeds applied", zap.Strings("files", applied))
	case "status":
		var entries []migrate.Entry
		entries, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range entries {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}

// source prefers an on-disk directory and falls back to the embedded files.
func source(dir string, embedded fs.FS, sub string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(embedded, sub)
}
