package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flowledger.org/internal/lock"
	"flowledger.org/internal/obs"
)

// Service defines the engine operations exposed to the API layer.
type Service interface {
	RecordSale(ctx context.Context, in SaleInput) (SaleResult, error)
	RecordAbono(ctx context.Context, in AbonoInput) (AbonoResult, error)
	CreatePurchaseOrder(ctx context.Context, in PurchaseOrderInput) (PurchaseOrderResult, error)
	RecordDistributorPayment(ctx context.Context, in DistributorPaymentInput) (DistributorPaymentResult, error)
	Transfer(ctx context.Context, in TransferInput) (TransferResult, error)
	RegisterExpense(ctx context.Context, in EntryInput) (EntryResult, error)
	RegisterIncome(ctx context.Context, in EntryInput) (EntryResult, error)

	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListMovements(ctx context.Context, f MovementFilter, limit int, afterSeq uint64) ([]Movement, uint64, error)
	GetSale(ctx context.Context, id string) (Sale, error)
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	GetClient(ctx context.Context, id string) (Client, error)
	GetDistributor(ctx context.Context, id string) (Distributor, error)
	GetTransfer(ctx context.Context, id string) (Transfer, error)

	Statement(ctx context.Context, accountID string, from, to time.Time) (Statement, error)
	ReconcileClient(ctx context.Context, id string) (DebtReport, error)
	ReconcileDistributor(ctx context.Context, id string) (DebtReport, error)
	ReconcileAccounts(ctx context.Context) ([]AccountAudit, error)
	Reconcile(ctx context.Context) (ReconciliationReport, error)
}

// Config bounds each storage attempt and the transparent retry loop.
type Config struct {
	StorageTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{StorageTimeout: 5 * time.Second, MaxRetries: 3, RetryBackoff: 20 * time.Millisecond}
}

// MaxIdempotencyKeyLen bounds idempotency keys accepted by every operation.
const MaxIdempotencyKeyLen = 128

// CommitHook observes the movements of every committed (not replayed) operation.
type CommitHook func(ctx context.Context, op string, moves []Movement)

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l.Named("ledger") }
}

// WithLocker serializes operations over the keys they touch before the
// storage transaction starts.
func WithLocker(l lock.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithCommitHook(h CommitHook) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, h) }
}

// Coordinator runs every operation as one storage transaction with the
// states Pending -> Applying -> Committed | Aborted. Mutations require an
// idempotency key stored with their result in the same transaction.
type Coordinator struct {
	store  Store
	cfg    Config
	log    *zap.Logger
	locker lock.Locker
	flight singleflight.Group
	hooks  []CommitHook
	now    func() time.Time
}

var _ Service = (*Coordinator)(nil)

// NewCoordinator wires a coordinator over store.
func NewCoordinator(store Store, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = def.StorageTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	c := &Coordinator{
		store: store,
		cfg:   cfg,
		log:   zap.L().Named("ledger"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provision creates every account of the fixed set that does not exist yet.
func (c *Coordinator) Provision(ctx context.Context) error {
	return c.retry(ctx, "provision", c.log, func(ctx context.Context, tx Tx) error {
		p := &posting{tx: tx, now: c.now().UTC()}
		for _, a := range accountSet {
			if _, err := p.ensureAccount(ctx, a.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping reports whether the store is reachable within the storage timeout.
func (c *Coordinator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()
	return c.store.Ping(ctx)
}

// mutation is one idempotent write operation.
type mutation[T any] struct {
	op    string
	key   string
	locks []string
	apply func(ctx context.Context, p *posting) (T, error)
}

func checkKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return invalid("idempotency_key", "is required")
	case len(key) > MaxIdempotencyKeyLen:
		return invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", MaxIdempotencyKeyLen))
	}
	return nil
}

// execute collapses concurrent calls with the same operation and key, then runs m.
// The shared run is detached from any single caller's cancellation and is
// bounded by the storage timeout of each attempt; a caller that gives up
// early gets a storage failure and may replay the key later.
func execute[T any](ctx context.Context, c *Coordinator, m mutation[T]) (T, error) {
	var zero T
	if err := checkKey(m.key); err != nil {
		return zero, err
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(m.op+"|"+m.key, func() (any, error) {
		return run(flightCtx, c, m)
	})
	select {
	case <-ctx.Done():
		return zero, Storage(m.op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func run[T any](ctx context.Context, c *Coordinator, m mutation[T]) (T, error) {
	var zero T
	start := time.Now()
	log := c.log.With(zap.String("op", m.op), zap.String("idempotency_key", m.key))
	log.Debug("operation state", zap.String("state", string(OpPending)))

	if c.locker != nil {
		lctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
		unlock, err := c.locker.Lock(lctx, m.locks...)
		cancel()
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
			c.finish(log, m.op, start, err)
			return zero, err
		}
		defer unlock()
	}

	var (
		result   T
		replayed bool
		moves    []*Movement
	)
	err := c.retry(ctx, m.op, log, func(ctx context.Context, tx Tx) error {
		replayed, moves = false, nil
		rec, err := tx.Idempotency(ctx, m.key)
		switch {
		case err == nil:
			if rec.Operation != m.op {
				return invalid("idempotency_key", "already used by "+rec.Operation)
			}
			replayed = true
			return json.Unmarshal(rec.Result, &result)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		log.Debug("operation state", zap.String("state", string(OpApplying)))
		p := &posting{tx: tx, opID: m.key, now: c.now().UTC()}
		out, err := m.apply(ctx, p)
		if err != nil {
			return err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := tx.PutIdempotency(ctx, IdempotencyRecord{
			Key: m.key, Operation: m.op, Result: data, CreatedAt: p.now,
		}); err != nil {
			return err
		}
		result, moves = out, p.moves
		return nil
	})
	if err != nil {
		c.finish(log, m.op, start, err)
		return zero, err
	}
	if replayed {
		obs.ObserveOperation(m.op, "replayed", time.Since(start))
		log.Info("operation replayed")
		return result, nil
	}
	c.finish(log, m.op, start, nil)
	c.publish(ctx, m.op, moves)
	return result, nil
}

func (c *Coordinator) finish(log *zap.Logger, op string, start time.Time, err error) {
	d := time.Since(start)
	if err != nil {
		obs.ObserveOperation(op, string(OpAborted), d)
		log.Warn("operation aborted",
			zap.String("state", string(OpAborted)),
			zap.Duration("duration", d),
			zap.Error(err))
		return
	}
	obs.ObserveOperation(op, string(OpCommitted), d)
	log.Info("operation committed",
		zap.String("state", string(OpCommitted)),
		zap.Duration("duration", d))
}

func (c *Coordinator) publish(ctx context.Context, op string, moves []*Movement) {
	if len(c.hooks) == 0 || len(moves) == 0 {
		return
	}
	out := make([]Movement, len(moves))
	for i, m := range moves {
		out[i] = *m
	}
	for _, h := range c.hooks {
		h(ctx, op, out)
	}
}

// retry runs fn in fresh storage transactions until it succeeds, fails with
// a non-retryable error, or MaxRetries retries are spent.
func (c *Coordinator) retry(ctx context.Context, op string, log *zap.Logger, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, op, fn)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return err
		}
		reason := "storage"
		if errors.Is(err, ErrConcurrencyConflict) {
			reason = "conflict"
		}
		obs.ObserveRetry(op, reason)
		log.Debug("retrying operation", zap.Int("attempt", attempt+1), zap.Error(err))

		t := time.NewTimer(c.cfg.RetryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// attempt is one storage transaction bounded by the storage timeout.
func (c *Coordinator) attempt(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()
	err := c.store.WithTx(actx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &StorageError{Op: op, Err: err}
	}
	return Storage(op, err)
}

// read runs a read-only transaction under the same timeout and retry rules.
func (c *Coordinator) read(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	return c.retry(ctx, op, c.log, fn)
}
