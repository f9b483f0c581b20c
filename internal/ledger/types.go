package ledger

import (
	"time"

	"flowledger.org/internal/distribution"
)

// Fixed account set. Nothing outside this list can hold a balance.
const (
	BovedaMonte = "boveda_monte"
	FleteSur    = "flete_sur"
	Utilidades  = "utilidades"
	BovedaUSA   = "boveda_usa"
	Profit      = "profit"
	Leftie      = "leftie"
	Azteca      = "azteca"
)

// AccountKind groups accounts by the operations allowed on them.
type AccountKind string

const (
	KindDistribution AccountKind = "distribution"
	KindReserve      AccountKind = "reserve"
	KindOperating    AccountKind = "operating"
)

type accountSpec struct {
	ID   string
	Name string
	Kind AccountKind
}

var accountSet = []accountSpec{
	{BovedaMonte, "Bóveda Monte", KindDistribution},
	{FleteSur, "Flete Sur", KindDistribution},
	{Utilidades, "Utilidades", KindDistribution},
	{BovedaUSA, "Bóveda USA", KindReserve},
	{Profit, "Profit", KindOperating},
	{Leftie, "Leftie", KindOperating},
	{Azteca, "Azteca", KindOperating},
}

func lookupAccount(id string) (accountSpec, bool) {
	for _, a := range accountSet {
		if a.ID == id {
			return a, true
		}
	}
	return accountSpec{}, false
}

// AccountIDs lists the fixed account set in display order.
func AccountIDs() []string {
	out := make([]string, len(accountSet))
	for i, a := range accountSet {
		out[i] = a.ID
	}
	return out
}

// IsOperating reports whether expenses and income may be registered on id.
func IsOperating(id string) bool {
	a, ok := lookupAccount(id)
	return ok && a.Kind == KindOperating
}

// Account is a bank. Balance is always derived from the two counters.
type Account struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Kind          AccountKind `json:"kind"`
	TotalCredited int64       `json:"total_credited"`
	TotalDebited  int64       `json:"total_debited"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (a Account) Balance() int64 { return a.TotalCredited - a.TotalDebited }

// Direction of a movement relative to its account.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// EntityType names the record a movement was produced for.
type EntityType string

const (
	EntitySale               EntityType = "sale"
	EntityAbono              EntityType = "abono"
	EntityPurchaseOrder      EntityType = "purchase_order"
	EntityDistributorPayment EntityType = "distributor_payment"
	EntityTransfer           EntityType = "transfer"
	EntityExpense            EntityType = "expense"
	EntityIncome             EntityType = "income"
)

// Movement is one immutable credit or debit. Sequence is assigned by the
// store at commit and is strictly increasing across all accounts.
type Movement struct {
	ID                string     `json:"id"`
	Sequence          uint64     `json:"sequence"`
	AccountID         string     `json:"account_id"`
	Direction         Direction  `json:"direction"`
	Amount            int64      `json:"amount"`
	Reason            string     `json:"reason"`
	RelatedEntityID   string     `json:"related_entity_id"`
	RelatedEntityType EntityType `json:"related_entity_type"`
	OperationID       string     `json:"operation_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

// MovementFilter narrows ListMovements. Zero fields match everything.
type MovementFilter struct {
	AccountID       string
	RelatedEntityID string
	From            time.Time
	To              time.Time
}

func (f MovementFilter) Match(m Movement) bool {
	if f.AccountID != "" && m.AccountID != f.AccountID {
		return false
	}
	if f.RelatedEntityID != "" && m.RelatedEntityID != f.RelatedEntityID {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// PaymentState of a sale, derived from amountPaid vs totalAmount.
type PaymentState string

const (
	PaymentComplete PaymentState = "complete"
	PaymentPartial  PaymentState = "partial"
	PaymentPending  PaymentState = "pending"
)

// StateFor derives the payment state.
func StateFor(amountPaid, total int64) PaymentState {
	switch {
	case amountPaid >= total:
		return PaymentComplete
	case amountPaid <= 0:
		return PaymentPending
	default:
		return PaymentPartial
	}
}

// Sale is a recorded sale. Historical is the 100% split, Effective the share
// already posted to the vaults.
type Sale struct {
	ID              string                    `json:"id"`
	ClientID        string                    `json:"client_id"`
	PurchaseOrderID string                    `json:"purchase_order_id,omitempty"`
	Quantity        int64                     `json:"quantity"`
	UnitSalePrice   int64                     `json:"unit_sale_price"`
	UnitCost        int64                     `json:"unit_cost"`
	UnitFreight     int64                     `json:"unit_freight"`
	FreightApplies  bool                      `json:"freight_applies"`
	TotalAmount     int64                     `json:"total_amount"`
	AmountPaid      int64                     `json:"amount_paid"`
	Historical      distribution.Distribution `json:"historical"`
	Effective       distribution.Distribution `json:"effective"`
	Note            string                    `json:"note,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

func (s Sale) AmountRemaining() int64 {
	if s.AmountPaid >= s.TotalAmount {
		return 0
	}
	return s.TotalAmount - s.AmountPaid
}

func (s Sale) PaymentState() PaymentState { return StateFor(s.AmountPaid, s.TotalAmount) }

// PurchaseOrder is stock bought from a distributor.
type PurchaseOrder struct {
	ID                  string    `json:"id"`
	DistributorID       string    `json:"distributor_id"`
	Quantity            int64     `json:"quantity"`
	UnitDistributorCost int64     `json:"unit_distributor_cost"`
	UnitTransportCost   int64     `json:"unit_transport_cost"`
	TotalCost           int64     `json:"total_cost"`
	AmountPaid          int64     `json:"amount_paid"`
	StockRemaining      int64     `json:"stock_remaining"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Debt is what the business still owes on the order, never negative.
func (p PurchaseOrder) Debt() int64 {
	if p.AmountPaid >= p.TotalCost {
		return 0
	}
	return p.TotalCost - p.AmountPaid
}

// Client owes the business. TotalDebt is maintained incrementally and
// checked against the recomputed value by ReconcileClient.
type Client struct {
	ID          string    `json:"id"`
	TotalDebt   int64     `json:"total_debt"`
	TotalBilled int64     `json:"total_billed"`
	TotalPaid   int64     `json:"total_paid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Distributor is owed by the business.
type Distributor struct {
	ID            string    `json:"id"`
	TotalDebt     int64     `json:"total_debt"`
	TotalPurchase int64     `json:"total_purchased"`
	TotalPaid     int64     `json:"total_paid"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transfer pairs the debit and credit movements it produced.
type Transfer struct {
	ID            string    `json:"id"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// IdempotencyRecord is stored in the same transaction as the operation it guards.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Operation string    `json:"operation"`
	Result    []byte    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// OpState is the lifecycle of one coordinator operation.
type OpState string

const (
	OpPending   OpState = "pending"
	OpApplying  OpState = "applying"
	OpCommitted OpState = "committed"
	OpAborted   OpState = "aborted"
)
