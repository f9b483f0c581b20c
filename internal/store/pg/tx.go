package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"flowledger.org/internal/distribution"
	"flowledger.org/internal/ledger"
)

type tx struct {
	tx             *sql.Tx
	movementLocked bool
}

var _ ledger.Tx = (*tx)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// --- accounts ---

const accountCols = `id, name, kind, total_credited, total_debited, created_at, updated_at`

func scanAccount(row scanner) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.TotalCredited, &a.TotalDebited, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *tx) Account(ctx context.Context, id string) (ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx,
		`select `+accountCols+` from accounts where id=$1 for update`, id))
	return a, notFound("account", id, err)
}

func (t *tx) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := t.tx.QueryContext(ctx, `select `+accountCols+` from accounts order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) PutAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into accounts(id, name, kind, total_credited, total_debited, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update set
			total_credited = excluded.total_credited,
			total_debited = excluded.total_debited,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, string(a.Kind), a.TotalCredited, a.TotalDebited, a.CreatedAt, a.UpdatedAt)
	return err
}

// --- movements ---

const movementCols = `sequence, id, account_id, direction, amount, reason, related_entity_id, related_entity_type, operation_id, created_at`

func (t *tx) AppendMovement(ctx context.Context, m *ledger.Movement) error {
	if !t.movementLocked {
		if _, err := t.tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, movementLockKey); err != nil {
			return err
		}
		t.movementLocked = true
	}
	return t.tx.QueryRowContext(ctx, `
		insert into movements(id, account_id, direction, amount, reason, related_entity_id, related_entity_type, operation_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning sequence
	`, m.ID, m.AccountID, string(m.Direction), m.Amount, m.Reason,
		m.RelatedEntityID, string(m.RelatedEntityType), m.OperationID, m.CreatedAt).Scan(&m.Sequence)
}

func movementQuery(f ledger.MovementFilter, limit int, afterSeq uint64) (string, []any) {
	var (
		where = []string{"sequence > $1"}
		args  = []any{afterSeq}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.RelatedEntityID != "" {
		add("related_entity_id = $%d", f.RelatedEntityID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	q := `select ` + movementCols + ` from movements where ` + strings.Join(where, " and ") + ` order by sequence asc`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}
	return q, args
}

func (t *tx) Movements(ctx context.Context, f ledger.MovementFilter, limit int, afterSeq uint64) ([]ledger.Movement, error) {
	q, args := movementQuery(f, limit, afterSeq)
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(&m.Sequence, &m.ID, &m.AccountID, &m.Direction, &m.Amount, &m.Reason,
			&m.RelatedEntityID, &m.RelatedEntityType, &m.OperationID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- sales ---

const saleCols = `id, client_id, purchase_order_id, quantity, unit_sale_price, unit_cost, unit_freight,
	freight_applies, total_amount, amount_paid,
	historical_cost, historical_freight, historical_profit,
	effective_cost, effective_freight, effective_profit,
	note, created_at, updated_at`

func scanSale(row scanner) (ledger.Sale, error) {
	var (
		s    ledger.Sale
		h, e distribution.Distribution
	)
	err := row.Scan(&s.ID, &s.ClientID, &s.PurchaseOrderID, &s.Quantity, &s.UnitSalePrice, &s.UnitCost, &s.UnitFreight,
		&s.FreightApplies, &s.TotalAmount, &s.AmountPaid,
		&h.Cost, &h.Freight, &h.Profit,
		&e.Cost, &e.Freight, &e.Profit,
		&s.Note, &s.CreatedAt, &s.UpdatedAt)
	s.Historical, s.Effective = h, e
	return s, err
}

func (t *tx) Sale(ctx context.Context, id string) (ledger.Sale, error) {
	s, err := scanSale(t.tx.QueryRowContext(ctx, `select `+saleCols+` from sales where id=$1 for update`, id))
	return s, notFound("sale", id, err)
}

func (t *tx) PutSale(ctx context.Context, s ledger.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into sales(`+saleCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		on conflict (id) do update set
			amount_paid = excluded.amount_paid,
			effective_cost = excluded.effective_cost,
			effective_freight = excluded.effective_freight,
			effective_profit = excluded.effective_profit,
			updated_at = excluded.updated_at
	`, s.ID, s.ClientID, s.PurchaseOrderID, s.Quantity, s.UnitSalePrice, s.UnitCost, s.UnitFreight,
		s.FreightApplies, s.TotalAmount, s.AmountPaid,
		s.Historical.Cost, s.Historical.Freight, s.Historical.Profit,
		s.Effective.Cost, s.Effective.Freight, s.Effective.Profit,
		s.Note, s.CreatedAt, s.UpdatedAt)
	return err
}

func (t *tx) SalesByClient(ctx context.Context, clientID string) ([]ledger.Sale, error) {
	rows, err := t.tx.QueryContext(ctx, `select `+saleCols+` from sales where client_id=$1 order by id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- purchase orders ---

const orderCols = `id, distributor_id, quantity, unit_distributor_cost, unit_transport_cost,
	total_cost, amount_paid, stock_remaining, created_at, updated_at`

func scanOrder(row scanner) (ledger.PurchaseOrder, error) {
	var p ledger.PurchaseOrder
	err := row.Scan(&p.ID, &p.DistributorID, &p.Quantity, &p.UnitDistributorCost, &p.UnitTransportCost,
		&p.TotalCost, &p.AmountPaid, &p.StockRemaining, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *tx) PurchaseOrder(ctx context.Context, id string) (ledger.PurchaseOrder, error) {
	p, err := scanOrder(t.tx.QueryRowContext(ctx, `select `+orderCols+` from purchase_orders where id=$1 for update`, id))
	return p, notFound("purchase order", id, err)
}

func (t *tx) PutPurchaseOrder(ctx context.Context, p ledger.PurchaseOrder) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into purchase_orders(`+orderCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (id) do update set
			amount_paid = excluded.amount_paid,
			stock_remaining = excluded.stock_remaining,
			updated_at = excluded.updated_at
	`, p.ID, p.DistributorID, p.Quantity, p.UnitDistributorCost, p.UnitTransportCost,
		p.TotalCost, p.AmountPaid, p.StockRemaining, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *tx) PurchaseOrdersByDistributor(ctx context.Context, distributorID string) ([]ledger.PurchaseOrder, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select `+orderCols+` from purchase_orders
		where distributor_id=$1
		order by created_at asc, id asc
		for update`, distributorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.PurchaseOrder
	for rows.Next() {
		p, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- clients and distributors ---

const partyCols = `id, total_debt, %s, total_paid, created_at, updated_at`

var (
	clientCols      = fmt.Sprintf(partyCols, "total_billed")
	distributorCols = fmt.Sprintf(partyCols, "total_purchased")
)

func scanClient(row scanner) (ledger.Client, error) {
	var c ledger.Client
	err := row.Scan(&c.ID, &c.TotalDebt, &c.TotalBilled, &c.TotalPaid, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanDistributor(row scanner) (ledger.Distributor, error) {
	var d ledger.Distributor
	err := row.Scan(&d.ID, &d.TotalDebt, &d.TotalPurchase, &d.TotalPaid, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (t *tx) Client(ctx context.Context, id string) (ledger.Client, error) {
	c, err := scanClient(t.tx.QueryRowContext(ctx, `select `+clientCols+` from clients where id=$1 for update`, id))
	return c, notFound("client", id, err)
}

func (t *tx) PutClient(ctx context.Context, c ledger.Client) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into clients(`+clientCols+`)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do update set
			total_debt = excluded.total_debt,
			total_billed = excluded.total_billed,
			total_paid = excluded.total_paid,
			updated_at = excluded.updated_at
	`, c.ID, c.TotalDebt, c.TotalBilled, c.TotalPaid, c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *tx) Clients(ctx context.Context) ([]ledger.Client, error) {
	rows, err := t.tx.QueryContext(ctx, `select `+clientCols+` from clients order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *tx) Distributor(ctx context.Context, id string) (ledger.Distributor, error) {
	d, err := scanDistributor(t.tx.QueryRowContext(ctx, `select `+distributorCols+` from distributors where id=$1 for update`, id))
	return d, notFound("distributor", id, err)
}

func (t *tx) PutDistributor(ctx context.Context, d ledger.Distributor) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into distributors(`+distributorCols+`)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do update set
			total_debt = excluded.total_debt,
			total_purchased = excluded.total_purchased,
			total_paid = excluded.total_paid,
			updated_at = excluded.updated_at
	`, d.ID, d.TotalDebt, d.TotalPurchase, d.TotalPaid, d.CreatedAt, d.UpdatedAt)
	return err
}

func (t *tx) Distributors(ctx context.Context) ([]ledger.Distributor, error) {
	rows, err := t.tx.QueryContext(ctx, `select `+distributorCols+` from distributors order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Distributor
	for rows.Next() {
		d, err := scanDistributor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- transfers and idempotency ---

func (t *tx) Transfer(ctx context.Context, id string) (ledger.Transfer, error) {
	var tr ledger.Transfer
	err := t.tx.QueryRowContext(ctx, `
		select id, from_account_id, to_account_id, amount, reason, created_at
		from transfers where id=$1
	`, id).Scan(&tr.ID, &tr.FromAccountID, &tr.ToAccountID, &tr.Amount, &tr.Reason, &tr.CreatedAt)
	return tr, notFound("transfer", id, err)
}

func (t *tx) PutTransfer(ctx context.Context, tr ledger.Transfer) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into transfers(id, from_account_id, to_account_id, amount, reason, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, tr.ID, tr.FromAccountID, tr.ToAccountID, tr.Amount, tr.Reason, tr.CreatedAt)
	return err
}

func (t *tx) Idempotency(ctx context.Context, key string) (ledger.IdempotencyRecord, error) {
	var r ledger.IdempotencyRecord
	err := t.tx.QueryRowContext(ctx, `
		select key, operation, result, created_at from idempotency_keys where key=$1
	`, key).Scan(&r.Key, &r.Operation, &r.Result, &r.CreatedAt)
	return r, notFound("idempotency key", key, err)
}

func (t *tx) PutIdempotency(ctx context.Context, r ledger.IdempotencyRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into idempotency_keys(key, operation, result, created_at)
		values ($1,$2,$3,$4)
	`, r.Key, r.Operation, r.Result, r.CreatedAt)
	return err
}
