package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	kindAccount       = "account"
	kindMovement      = "movement"
	kindSale          = "sale"
	kindPurchaseOrder = "purchase_order"
	kindClient        = "client"
	kindDistributor   = "distributor"
	kindTransfer      = "transfer"
	kindIdempotency   = "idempotency"
)

// InMemory is a Store with optimistic concurrency control.
//
// Every record carries a version. A transaction reads committed versions
// without blocking, buffers its writes, and at commit validates that nothing
// it read (or scanned) changed in the meantime; otherwise it aborts with
// ErrConcurrencyConflict and none of its writes apply. Transactions over
// disjoint records commit independently.
type InMemory struct {
	mu        sync.RWMutex
	records   map[string]map[string]*versioned // kind -> id -> record
	clocks    map[string]uint64                // kind -> modification count, guards scans
	movements []Movement
	seq       uint64

	faultMu sync.Mutex
	fault   func(op string) error
}

type versioned struct {
	version uint64
	value   any
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]map[string]*versioned),
		clocks:  make(map[string]uint64),
	}
}

// SetFault installs a hook consulted before every storage step ("sale.put",
// "movement.append", "commit", ...). A non-nil return fails that step as if
// the storage had. Pass nil to remove it.
func (s *InMemory) SetFault(fn func(op string) error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = fn
}

func (s *InMemory) inject(op string) error {
	s.faultMu.Lock()
	fn := s.fault
	s.faultMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (s *InMemory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inject("ping")
}

func (s *InMemory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &memTx{
		s:      s,
		reads:  make(map[string]map[string]uint64),
		scans:  make(map[string]uint64),
		writes: make(map[string]map[string]any),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := s.inject("commit"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *InMemory) commit(t *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, ids := range t.reads {
		for id, seen := range ids {
			if s.versionLocked(kind, id) != seen {
				return fmt.Errorf("%w: %s %q changed", ErrConcurrencyConflict, kind, id)
			}
		}
	}
	for kind, seen := range t.scans {
		if s.clocks[kind] != seen {
			return fmt.Errorf("%w: %s set changed", ErrConcurrencyConflict, kind)
		}
	}

	for kind, ids := range t.writes {
		m := s.records[kind]
		if m == nil {
			m = make(map[string]*versioned)
			s.records[kind] = m
		}
		for id, val := range ids {
			var next uint64 = 1
			if old := m[id]; old != nil {
				next = old.version + 1
			}
			m[id] = &versioned{version: next, value: val}
		}
		s.clocks[kind]++
	}
	if len(t.moves) > 0 {
		for _, mv := range t.moves {
			s.seq++
			mv.Sequence = s.seq
			s.movements = append(s.movements, *mv)
		}
		s.clocks[kindMovement]++
	}
	return nil
}

func (s *InMemory) versionLocked(kind, id string) uint64 {
	if rec := s.records[kind][id]; rec != nil {
		return rec.version
	}
	return 0
}

type memTx struct {
	s      *InMemory
	reads  map[string]map[string]uint64
	scans  map[string]uint64
	writes map[string]map[string]any
	moves  []*Movement
}

func (t *memTx) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.s.inject(op)
}

func (t *memTx) noteRead(kind, id string, version uint64) {
	ids := t.reads[kind]
	if ids == nil {
		ids = make(map[string]uint64)
		t.reads[kind] = ids
	}
	if _, seen := ids[id]; !seen {
		ids[id] = version
	}
}

func (t *memTx) read(ctx context.Context, kind, id string) (any, bool, error) {
	if err := t.check(ctx, kind+".get"); err != nil {
		return nil, false, err
	}
	if v, ok := t.writes[kind][id]; ok {
		return v, true, nil
	}
	t.s.mu.RLock()
	rec := t.s.records[kind][id]
	t.s.mu.RUnlock()

	if rec == nil {
		t.noteRead(kind, id, 0)
		return nil, false, nil
	}
	t.noteRead(kind, id, rec.version)
	return rec.value, true, nil
}

func (t *memTx) write(ctx context.Context, kind, id string, val any) error {
	if err := t.check(ctx, kind+".put"); err != nil {
		return err
	}
	if _, seen := t.reads[kind][id]; !seen {
		// Blind writes still conflict with a concurrent writer of the same record.
		t.s.mu.RLock()
		v := t.s.versionLocked(kind, id)
		t.s.mu.RUnlock()
		t.noteRead(kind, id, v)
	}
	ids := t.writes[kind]
	if ids == nil {
		ids = make(map[string]any)
		t.writes[kind] = ids
	}
	ids[id] = val
	return nil
}

func (t *memTx) scan(ctx context.Context, kind string) ([]any, error) {
	if err := t.check(ctx, kind+".scan"); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	if _, seen := t.scans[kind]; !seen {
		t.scans[kind] = t.s.clocks[kind]
	}
	overlay := t.writes[kind]
	out := make([]any, 0, len(t.s.records[kind])+len(overlay))
	for id, rec := range t.s.records[kind] {
		if _, shadowed := overlay[id]; shadowed {
			continue
		}
		out = append(out, rec.value)
	}
	t.s.mu.RUnlock()
	for _, v := range overlay {
		out = append(out, v)
	}
	return out, nil
}

func get[T any](ctx context.Context, t *memTx, kind, id string) (T, error) {
	var zero T
	v, ok, err := t.read(ctx, kind, id)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, notFound(strings.ReplaceAll(kind, "_", " "), id)
	}
	return v.(T), nil
}

func list[T any](ctx context.Context, t *memTx, kind string, keep func(T) bool) ([]T, error) {
	vals, err := t.scan(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		item := v.(T)
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *memTx) Account(ctx context.Context, id string) (Account, error) {
	return get[Account](ctx, t, kindAccount, id)
}

func (t *memTx) Accounts(ctx context.Context) ([]Account, error) {
	out, err := list[Account](ctx, t, kindAccount, nil)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *memTx) PutAccount(ctx context.Context, a Account) error {
	return t.write(ctx, kindAccount, a.ID, a)
}

func (t *memTx) AppendMovement(ctx context.Context, m *Movement) error {
	if err := t.check(ctx, "movement.append"); err != nil {
		return err
	}
	t.moves = append(t.moves, m)
	return nil
}

func (t *memTx) Movements(ctx context.Context, f MovementFilter, limit int, afterSeq uint64) ([]Movement, error) {
	if err := t.check(ctx, "movement.scan"); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if _, seen := t.scans[kindMovement]; !seen {
		t.scans[kindMovement] = t.s.clocks[kindMovement]
	}
	all := t.s.movements
	start := sort.Search(len(all), func(i int) bool { return all[i].Sequence > afterSeq })
	var out []Movement
	for _, m := range all[start:] {
		if !f.Match(m) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) Sale(ctx context.Context, id string) (Sale, error) {
	return get[Sale](ctx, t, kindSale, id)
}

func (t *memTx) PutSale(ctx context.Context, s Sale) error {
	return t.write(ctx, kindSale, s.ID, s)
}

func (t *memTx) SalesByClient(ctx context.Context, clientID string) ([]Sale, error) {
	out, err := list(ctx, t, kindSale, func(s Sale) bool { return s.ClientID == clientID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *memTx) PurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return get[PurchaseOrder](ctx, t, kindPurchaseOrder, id)
}

func (t *memTx) PutPurchaseOrder(ctx context.Context, p PurchaseOrder) error {
	return t.write(ctx, kindPurchaseOrder, p.ID, p)
}

func (t *memTx) PurchaseOrdersByDistributor(ctx context.Context, distributorID string) ([]PurchaseOrder, error) {
	out, err := list(ctx, t, kindPurchaseOrder, func(p PurchaseOrder) bool { return p.DistributorID == distributorID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (t *memTx) Client(ctx context.Context, id string) (Client, error) {
	return get[Client](ctx, t, kindClient, id)
}

func (t *memTx) PutClient(ctx context.Context, c Client) error {
	return t.write(ctx, kindClient, c.ID, c)
}

func (t *memTx) Clients(ctx context.Context) ([]Client, error) {
	out, err := list[Client](ctx, t, kindClient, nil)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *memTx) Distributor(ctx context.Context, id string) (Distributor, error) {
	return get[Distributor](ctx, t, kindDistributor, id)
}

func (t *memTx) PutDistributor(ctx context.Context, d Distributor) error {
	return t.write(ctx, kindDistributor, d.ID, d)
}

func (t *memTx) Distributors(ctx context.Context) ([]Distributor, error) {
	out, err := list[Distributor](ctx, t, kindDistributor, nil)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (t *memTx) Transfer(ctx context.Context, id string) (Transfer, error) {
	return get[Transfer](ctx, t, kindTransfer, id)
}

func (t *memTx) PutTransfer(ctx context.Context, tr Transfer) error {
	return t.write(ctx, kindTransfer, tr.ID, tr)
}

func (t *memTx) Idempotency(ctx context.Context, key string) (IdempotencyRecord, error) {
	rec, err := get[IdempotencyRecord](ctx, t, kindIdempotency, key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	rec.Result = bytes.Clone(rec.Result)
	return rec, nil
}

func (t *memTx) PutIdempotency(ctx context.Context, r IdempotencyRecord) error {
	r.Result = bytes.Clone(r.Result)
	return t.write(ctx, kindIdempotency, r.Key, r)
}
