// Package pg implements ledger.Store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"flowledger.org/internal/ledger"
)

// SQLSTATE codes that mean the transaction lost a race and may be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// movementLockKey serializes movement appends until commit so sequence
// numbers become visible in order.
const movementLockKey int64 = 0x666c6f77

type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a serializable transaction. Serialization failures,
// deadlocks and unique violations surface as ledger.ErrConcurrencyConflict.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	t := &tx{tx: sqlTx}
	if err := fn(ctx, t); err != nil {
		return mapErr("apply", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

func mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %s: %s", ledger.ErrConcurrencyConflict, op, pgErr.Message)
		}
	}
	return ledger.Storage("pg."+op, err)
}
