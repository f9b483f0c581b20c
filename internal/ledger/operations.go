package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowledger.org/internal/distribution"
	"flowledger.org/internal/ids"
)

// Operation names, stored with idempotency records and used as metric labels.
const (
	OpRecordSale          = "record_sale"
	OpRecordAbono         = "record_abono"
	OpCreatePurchaseOrder = "create_purchase_order"
	OpPayDistributor      = "pay_distributor"
	OpTransfer            = "transfer"
	OpRegisterExpense     = "register_expense"
	OpRegisterIncome      = "register_income"
)

func lockKey(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}

func accountLock(id string) string     { return lockKey("account", id) }
func clientLock(id string) string      { return lockKey("client", id) }
func distributorLock(id string) string { return lockKey("distributor", id) }
func saleLock(id string) string        { return lockKey("sale", id) }
func orderLock(id string) string       { return lockKey("purchase_order", id) }

func fromDistribution(err error) error {
	var ie *distribution.InputError
	if errors.As(err, &ie) {
		return invalid(ie.Field, ie.Reason)
	}
	if errors.Is(err, distribution.ErrOverflow) {
		return invalid("amount", "overflows int64 minor units")
	}
	return err
}

type SaleInput struct {
	IdempotencyKey  string
	ClientID        string
	PurchaseOrderID string
	Quantity        int64
	UnitSalePrice   int64
	UnitCost        int64
	UnitFreight     int64
	FreightApplies  bool
	AmountPaid      int64
	Note            string
}

type SaleResult struct {
	SaleID          string                    `json:"sale_id"`
	TotalAmount     int64                     `json:"total_amount"`
	AmountPaid      int64                     `json:"amount_paid"`
	AmountRemaining int64                     `json:"amount_remaining"`
	PaymentState    PaymentState              `json:"payment_state"`
	Historical      distribution.Distribution `json:"historical"`
	Effective       distribution.Distribution `json:"effective"`
	ClientDebtDelta int64                     `json:"client_debt_delta"`
}

// RecordSale registers a sale, posts the paid share of its distribution to
// the vaults, grows the client's debt by the unpaid remainder and consumes
// stock from the linked purchase order.
func (c *Coordinator) RecordSale(ctx context.Context, in SaleInput) (SaleResult, error) {
	in.ClientID = strings.TrimSpace(in.ClientID)
	if in.ClientID == "" {
		return SaleResult{}, invalid("client_id", "is required")
	}
	if in.AmountPaid < 0 {
		return SaleResult{}, invalid("amount_paid", "must be >= 0")
	}
	line := distribution.SaleInput{
		UnitSalePrice:  in.UnitSalePrice,
		UnitCost:       in.UnitCost,
		UnitFreight:    in.UnitFreight,
		Quantity:       in.Quantity,
		FreightApplies: in.FreightApplies,
	}
	full, err := distribution.Full(line)
	if err != nil {
		return SaleResult{}, fromDistribution(err)
	}
	total, err := line.Total()
	if err != nil {
		return SaleResult{}, fromDistribution(err)
	}

	return execute(ctx, c, mutation[SaleResult]{
		op:  OpRecordSale,
		key: in.IdempotencyKey,
		locks: []string{
			accountLock(BovedaMonte), accountLock(FleteSur), accountLock(Utilidades),
			clientLock(in.ClientID), orderLock(in.PurchaseOrderID),
		},
		apply: func(ctx context.Context, p *posting) (SaleResult, error) {
			if in.PurchaseOrderID != "" {
				po, err := p.tx.PurchaseOrder(ctx, in.PurchaseOrderID)
				if err != nil {
					return SaleResult{}, err
				}
				po.StockRemaining -= in.Quantity
				if po.StockRemaining < 0 {
					po.StockRemaining = 0
				}
				po.UpdatedAt = p.now
				if err := p.tx.PutPurchaseOrder(ctx, po); err != nil {
					return SaleResult{}, err
				}
			}

			paid := distribution.PaidTarget(in.AmountPaid, total)
			sale := Sale{
				ID:              ids.NewWithPrefix(ids.PrefixSale),
				ClientID:        in.ClientID,
				PurchaseOrderID: in.PurchaseOrderID,
				Quantity:        in.Quantity,
				UnitSalePrice:   in.UnitSalePrice,
				UnitCost:        in.UnitCost,
				UnitFreight:     in.UnitFreight,
				FreightApplies:  in.FreightApplies,
				TotalAmount:     total,
				AmountPaid:      paid,
				Historical:      full,
				Effective:       distribution.Effective(full, paid, total),
				Note:            in.Note,
				CreatedAt:       p.now,
				UpdatedAt:       p.now,
			}
			ref := entityRef{ID: sale.ID, Type: EntitySale}
			if err := p.postDistribution(ctx, sale.Effective, "sale", ref); err != nil {
				return SaleResult{}, err
			}

			client, err := p.client(ctx, in.ClientID)
			if err != nil {
				return SaleResult{}, err
			}
			client.TotalDebt += sale.AmountRemaining()
			client.TotalBilled += total
			client.TotalPaid += paid
			client.UpdatedAt = p.now
			if err := p.tx.PutClient(ctx, client); err != nil {
				return SaleResult{}, err
			}
			if err := p.tx.PutSale(ctx, sale); err != nil {
				return SaleResult{}, err
			}
			return SaleResult{
				SaleID:          sale.ID,
				TotalAmount:     total,
				AmountPaid:      paid,
				AmountRemaining: sale.AmountRemaining(),
				PaymentState:    sale.PaymentState(),
				Historical:      sale.Historical,
				Effective:       sale.Effective,
				ClientDebtDelta: sale.AmountRemaining(),
			}, nil
		},
	})
}

// client loads a client, creating it on first reference.
func (p *posting) client(ctx context.Context, id string) (Client, error) {
	c, err := p.tx.Client(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Client{ID: id, CreatedAt: p.now, UpdatedAt: p.now}, nil
	}
	return c, err
}

type AbonoInput struct {
	IdempotencyKey string
	SaleID         string
	Amount         int64
}

type AbonoResult struct {
	AbonoID            string                    `json:"abono_id"`
	SaleID             string                    `json:"sale_id"`
	Applied            int64                     `json:"applied"`
	NewAmountPaid      int64                     `json:"new_amount_paid"`
	NewAmountRemaining int64                     `json:"new_amount_remaining"`
	NewPaymentState    PaymentState              `json:"new_payment_state"`
	Delta              distribution.Distribution `json:"delta"`
}

// RecordAbono applies a client payment to a sale. Only the difference
// between the new and the previous effective distribution is posted.
// Payments above the remaining balance are capped.
func (c *Coordinator) RecordAbono(ctx context.Context, in AbonoInput) (AbonoResult, error) {
	in.SaleID = strings.TrimSpace(in.SaleID)
	if in.SaleID == "" {
		return AbonoResult{}, invalid("sale_id", "is required")
	}
	if in.Amount <= 0 {
		return AbonoResult{}, invalid("amount", "must be > 0")
	}
	return execute(ctx, c, mutation[AbonoResult]{
		op:  OpRecordAbono,
		key: in.IdempotencyKey,
		locks: []string{
			accountLock(BovedaMonte), accountLock(FleteSur), accountLock(Utilidades),
			saleLock(in.SaleID),
		},
		apply: func(ctx context.Context, p *posting) (AbonoResult, error) {
			sale, err := p.tx.Sale(ctx, in.SaleID)
			if err != nil {
				return AbonoResult{}, err
			}
			newPaid := sale.TotalAmount
			if in.Amount < sale.AmountRemaining() {
				newPaid = sale.AmountPaid + in.Amount
			}
			if newPaid < sale.AmountPaid {
				newPaid = sale.AmountPaid
			}
			applied := newPaid - sale.AmountPaid
			res := AbonoResult{
				AbonoID: ids.NewWithPrefix(ids.PrefixAbono),
				SaleID:  sale.ID,
				Applied: applied,
			}
			if applied > 0 {
				next := distribution.Effective(sale.Historical, newPaid, sale.TotalAmount)
				res.Delta = distribution.Delta(next, sale.Effective)
				ref := entityRef{ID: sale.ID, Type: EntityAbono}
				if err := p.postDistribution(ctx, res.Delta, "abono "+res.AbonoID, ref); err != nil {
					return AbonoResult{}, err
				}
				sale.AmountPaid = newPaid
				sale.Effective = next
				sale.UpdatedAt = p.now
				if err := p.tx.PutSale(ctx, sale); err != nil {
					return AbonoResult{}, err
				}

				client, err := p.client(ctx, sale.ClientID)
				if err != nil {
					return AbonoResult{}, err
				}
				client.TotalDebt -= applied
				if client.TotalDebt < 0 {
					client.TotalDebt = 0
				}
				client.TotalPaid += applied
				client.UpdatedAt = p.now
				if err := p.tx.PutClient(ctx, client); err != nil {
					return AbonoResult{}, err
				}
			}
			res.NewAmountPaid = sale.AmountPaid
			res.NewAmountRemaining = sale.AmountRemaining()
			res.NewPaymentState = sale.PaymentState()
			return res, nil
		},
	})
}

type PurchaseOrderInput struct {
	IdempotencyKey      string
	DistributorID       string
	Quantity            int64
	UnitDistributorCost int64
	UnitTransportCost   int64
	InitialPayment      int64
	FromAccountID       string
}

type PurchaseOrderResult struct {
	PurchaseOrderID string `json:"purchase_order_id"`
	TotalCost       int64  `json:"total_cost"`
	AmountPaid      int64  `json:"amount_paid"`
	Debt            int64  `json:"debt"`
	StockRemaining  int64  `json:"stock_remaining"`
	DistributorDebt int64  `json:"distributor_debt"`
}

// CreatePurchaseOrder registers stock bought from a distributor. A positive
// initial payment is funds-checked and debited from FromAccountID; the
// unpaid cost becomes distributor debt.
func (c *Coordinator) CreatePurchaseOrder(ctx context.Context, in PurchaseOrderInput) (PurchaseOrderResult, error) {
	in.DistributorID = strings.TrimSpace(in.DistributorID)
	if in.DistributorID == "" {
		return PurchaseOrderResult{}, invalid("distributor_id", "is required")
	}
	total, err := distribution.PurchaseOrderCost(in.Quantity, in.UnitDistributorCost, in.UnitTransportCost)
	if err != nil {
		return PurchaseOrderResult{}, fromDistribution(err)
	}
	if in.InitialPayment < 0 {
		return PurchaseOrderResult{}, invalid("initial_payment", "must be >= 0")
	}
	paid := min(in.InitialPayment, total)
	if paid > 0 {
		if in.FromAccountID == "" {
			return PurchaseOrderResult{}, invalid("from_account_id", "is required with an initial payment")
		}
		if _, ok := lookupAccount(in.FromAccountID); !ok {
			return PurchaseOrderResult{}, notFound("account", in.FromAccountID)
		}
	}

	return execute(ctx, c, mutation[PurchaseOrderResult]{
		op:    OpCreatePurchaseOrder,
		key:   in.IdempotencyKey,
		locks: []string{distributorLock(in.DistributorID), accountLock(in.FromAccountID)},
		apply: func(ctx context.Context, p *posting) (PurchaseOrderResult, error) {
			po := PurchaseOrder{
				ID:                  ids.NewWithPrefix(ids.PrefixPurchaseOrder),
				DistributorID:       in.DistributorID,
				Quantity:            in.Quantity,
				UnitDistributorCost: in.UnitDistributorCost,
				UnitTransportCost:   in.UnitTransportCost,
				TotalCost:           total,
				AmountPaid:          paid,
				StockRemaining:      in.Quantity,
				CreatedAt:           p.now,
				UpdatedAt:           p.now,
			}
			if paid > 0 {
				if err := p.requireFunds(ctx, in.FromAccountID, paid); err != nil {
					return PurchaseOrderResult{}, err
				}
				ref := entityRef{ID: po.ID, Type: EntityPurchaseOrder}
				if _, err := p.debit(ctx, in.FromAccountID, paid, "purchase order initial payment", ref); err != nil {
					return PurchaseOrderResult{}, err
				}
			}

			d, err := p.tx.Distributor(ctx, in.DistributorID)
			if errors.Is(err, ErrNotFound) {
				d, err = Distributor{ID: in.DistributorID, CreatedAt: p.now}, nil
			}
			if err != nil {
				return PurchaseOrderResult{}, err
			}
			d.TotalDebt += po.Debt()
			d.TotalPurchase += total
			d.TotalPaid += paid
			d.UpdatedAt = p.now
			if err := p.tx.PutDistributor(ctx, d); err != nil {
				return PurchaseOrderResult{}, err
			}
			if err := p.tx.PutPurchaseOrder(ctx, po); err != nil {
				return PurchaseOrderResult{}, err
			}
			return PurchaseOrderResult{
				PurchaseOrderID: po.ID,
				TotalCost:       total,
				AmountPaid:      paid,
				Debt:            po.Debt(),
				StockRemaining:  po.StockRemaining,
				DistributorDebt: d.TotalDebt,
			}, nil
		},
	})
}

type DistributorPaymentInput struct {
	IdempotencyKey  string
	DistributorID   string
	Amount          int64
	FromAccountID   string
	PurchaseOrderID string
}

type DistributorPaymentResult struct {
	PaymentID  string `json:"payment_id"`
	Applied    int64  `json:"applied"`
	NewDebt    int64  `json:"new_debt"`
	NewBalance int64  `json:"new_balance"`
}

// RecordDistributorPayment pays a distributor from a funds-checked account.
// The full amount is debited; the debt shrinks by min(amount, debt), settling
// the targeted order first and then open orders oldest first.
func (c *Coordinator) RecordDistributorPayment(ctx context.Context, in DistributorPaymentInput) (DistributorPaymentResult, error) {
	in.DistributorID = strings.TrimSpace(in.DistributorID)
	switch {
	case in.DistributorID == "":
		return DistributorPaymentResult{}, invalid("distributor_id", "is required")
	case in.Amount <= 0:
		return DistributorPaymentResult{}, invalid("amount", "must be > 0")
	case in.FromAccountID == "":
		return DistributorPaymentResult{}, invalid("from_account_id", "is required")
	}
	if _, ok := lookupAccount(in.FromAccountID); !ok {
		return DistributorPaymentResult{}, notFound("account", in.FromAccountID)
	}

	return execute(ctx, c, mutation[DistributorPaymentResult]{
		op:    OpPayDistributor,
		key:   in.IdempotencyKey,
		locks: []string{distributorLock(in.DistributorID), accountLock(in.FromAccountID)},
		apply: func(ctx context.Context, p *posting) (DistributorPaymentResult, error) {
			d, err := p.tx.Distributor(ctx, in.DistributorID)
			if err != nil {
				return DistributorPaymentResult{}, err
			}
			var target *PurchaseOrder
			if in.PurchaseOrderID != "" {
				po, err := p.tx.PurchaseOrder(ctx, in.PurchaseOrderID)
				if err != nil {
					return DistributorPaymentResult{}, err
				}
				if po.DistributorID != d.ID {
					return DistributorPaymentResult{}, invalid("purchase_order_id",
						fmt.Sprintf("belongs to distributor %q", po.DistributorID))
				}
				target = &po
			}
			if err := p.requireFunds(ctx, in.FromAccountID, in.Amount); err != nil {
				return DistributorPaymentResult{}, err
			}

			res := DistributorPaymentResult{PaymentID: ids.NewWithPrefix(ids.PrefixPayment)}
			ref := entityRef{ID: res.PaymentID, Type: EntityDistributorPayment}
			res.NewBalance, err = p.debit(ctx, in.FromAccountID, in.Amount, "distributor payment "+d.ID, ref)
			if err != nil {
				return DistributorPaymentResult{}, err
			}

			res.Applied = min(in.Amount, d.TotalDebt)
			if err := p.settleOrders(ctx, d.ID, target, res.Applied); err != nil {
				return DistributorPaymentResult{}, err
			}
			d.TotalDebt -= res.Applied
			d.TotalPaid += in.Amount
			d.UpdatedAt = p.now
			if err := p.tx.PutDistributor(ctx, d); err != nil {
				return DistributorPaymentResult{}, err
			}
			res.NewDebt = d.TotalDebt
			return res, nil
		},
	})
}

// settleOrders spreads amount over the distributor's open orders.
func (p *posting) settleOrders(ctx context.Context, distributorID string, target *PurchaseOrder, amount int64) error {
	if amount <= 0 {
		return nil
	}
	orders, err := p.tx.PurchaseOrdersByDistributor(ctx, distributorID)
	if err != nil {
		return err
	}
	if target != nil {
		queue := []PurchaseOrder{*target}
		for _, o := range orders {
			if o.ID != target.ID {
				queue = append(queue, o)
			}
		}
		orders = queue
	}
	for _, o := range orders {
		if amount == 0 {
			break
		}
		take := min(amount, o.Debt())
		if take == 0 {
			continue
		}
		o.AmountPaid += take
		o.UpdatedAt = p.now
		if err := p.tx.PutPurchaseOrder(ctx, o); err != nil {
			return err
		}
		amount -= take
	}
	return nil
}

type TransferInput struct {
	IdempotencyKey string
	FromAccountID  string
	ToAccountID    string
	Amount         int64
	Reason         string
}

type TransferResult struct {
	TransferID  string `json:"transfer_id"`
	FromBalance int64  `json:"from_balance"`
	ToBalance   int64  `json:"to_balance"`
}

// Transfer moves funds between two accounts. It writes exactly two
// movements referencing the same transfer id.
func (c *Coordinator) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Amount <= 0 {
		return TransferResult{}, invalid("amount", "must be > 0")
	}
	if in.FromAccountID == in.ToAccountID {
		return TransferResult{}, fmt.Errorf("%w: %s", ErrSameAccount, in.FromAccountID)
	}
	for _, id := range []string{in.FromAccountID, in.ToAccountID} {
		if _, ok := lookupAccount(id); !ok {
			return TransferResult{}, notFound("account", id)
		}
	}

	return execute(ctx, c, mutation[TransferResult]{
		op:    OpTransfer,
		key:   in.IdempotencyKey,
		locks: []string{accountLock(in.FromAccountID), accountLock(in.ToAccountID)},
		apply: func(ctx context.Context, p *posting) (TransferResult, error) {
			if err := p.requireFunds(ctx, in.FromAccountID, in.Amount); err != nil {
				return TransferResult{}, err
			}
			tr := Transfer{
				ID:            ids.NewWithPrefix(ids.PrefixTransfer),
				FromAccountID: in.FromAccountID,
				ToAccountID:   in.ToAccountID,
				Amount:        in.Amount,
				Reason:        in.Reason,
				CreatedAt:     p.now,
			}
			reason := in.Reason
			if reason == "" {
				reason = "transfer"
			}
			ref := entityRef{ID: tr.ID, Type: EntityTransfer}
			fromBal, err := p.debit(ctx, in.FromAccountID, in.Amount, reason, ref)
			if err != nil {
				return TransferResult{}, err
			}
			toBal, err := p.credit(ctx, in.ToAccountID, in.Amount, reason, ref)
			if err != nil {
				return TransferResult{}, err
			}
			if err := p.tx.PutTransfer(ctx, tr); err != nil {
				return TransferResult{}, err
			}
			return TransferResult{TransferID: tr.ID, FromBalance: fromBal, ToBalance: toBal}, nil
		},
	})
}

type EntryInput struct {
	IdempotencyKey string
	AccountID      string
	Amount         int64
	Reason         string
}

type EntryResult struct {
	EntryID    string `json:"entry_id"`
	MovementID string `json:"movement_id"`
	NewBalance int64  `json:"new_balance"`
}

// RegisterExpense debits an operating account. Funds are not checked.
func (c *Coordinator) RegisterExpense(ctx context.Context, in EntryInput) (EntryResult, error) {
	return c.entry(ctx, OpRegisterExpense, Debit, in)
}

// RegisterIncome credits an operating account.
func (c *Coordinator) RegisterIncome(ctx context.Context, in EntryInput) (EntryResult, error) {
	return c.entry(ctx, OpRegisterIncome, Credit, in)
}

func (c *Coordinator) entry(ctx context.Context, op string, dir Direction, in EntryInput) (EntryResult, error) {
	if !IsOperating(in.AccountID) {
		return EntryResult{}, invalid("account_id", fmt.Sprintf("%q does not accept expenses or income", in.AccountID))
	}
	if in.Amount <= 0 {
		return EntryResult{}, invalid("amount", "must be > 0")
	}
	typ, reason := EntityExpense, "expense"
	if dir == Credit {
		typ, reason = EntityIncome, "income"
	}
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason = r
	}
	return execute(ctx, c, mutation[EntryResult]{
		op:    op,
		key:   in.IdempotencyKey,
		locks: []string{accountLock(in.AccountID)},
		apply: func(ctx context.Context, p *posting) (EntryResult, error) {
			res := EntryResult{EntryID: ids.NewWithPrefix(ids.PrefixEntry)}
			ref := entityRef{ID: res.EntryID, Type: typ}
			var err error
			if dir == Credit {
				res.NewBalance, err = p.credit(ctx, in.AccountID, in.Amount, reason, ref)
			} else {
				res.NewBalance, err = p.debit(ctx, in.AccountID, in.Amount, reason, ref)
			}
			if err != nil {
				return EntryResult{}, err
			}
			res.MovementID = p.moves[len(p.moves)-1].ID
			return res, nil
		},
	})
}
