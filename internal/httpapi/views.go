package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"flowledger.org/internal/distribution"
	"flowledger.org/internal/ledger"
	"flowledger.org/internal/money"
	"flowledger.org/internal/stream"
)

// Views render ledger records with amounts as decimal strings.

type accountView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Kind          ledger.AccountKind `json:"kind"`
	Balance       money.Amount       `json:"balance"`
	TotalCredited money.Amount       `json:"total_credited"`
	TotalDebited  money.Amount       `json:"total_debited"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func newAccountView(a ledger.Account) accountView {
	return accountView{
		ID:            a.ID,
		Name:          a.Name,
		Kind:          a.Kind,
		Balance:       money.Amount(a.Balance()),
		TotalCredited: money.Amount(a.TotalCredited),
		TotalDebited:  money.Amount(a.TotalDebited),
		UpdatedAt:     a.UpdatedAt,
	}
}

type movementView struct {
	ID                string            `json:"id"`
	Sequence          uint64            `json:"sequence"`
	AccountID         string            `json:"account_id"`
	Direction         ledger.Direction  `json:"direction"`
	Amount            money.Amount      `json:"amount"`
	Reason            string            `json:"reason"`
	RelatedEntityID   string            `json:"related_entity_id"`
	RelatedEntityType ledger.EntityType `json:"related_entity_type"`
	OperationID       string            `json:"operation_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func newMovementView(m ledger.Movement) movementView {
	return movementView{
		ID:                m.ID,
		Sequence:          m.Sequence,
		AccountID:         m.AccountID,
		Direction:         m.Direction,
		Amount:            money.Amount(m.Amount),
		Reason:            m.Reason,
		RelatedEntityID:   m.RelatedEntityID,
		RelatedEntityType: m.RelatedEntityType,
		OperationID:       m.OperationID,
		CreatedAt:         m.CreatedAt,
	}
}

func newMovementViews(ms []ledger.Movement) []movementView {
	out := make([]movementView, len(ms))
	for i, m := range ms {
		out[i] = newMovementView(m)
	}
	return out
}

type eventView struct {
	Sequence          uint64            `json:"sequence"`
	MovementID        string            `json:"movement_id"`
	Operation         string            `json:"operation"`
	AccountID         string            `json:"account_id"`
	Direction         ledger.Direction  `json:"direction"`
	Amount            money.Amount      `json:"amount"`
	Reason            string            `json:"reason"`
	RelatedEntityID   string            `json:"related_entity_id"`
	RelatedEntityType ledger.EntityType `json:"related_entity_type"`
	Timestamp         time.Time         `json:"timestamp"`
}

func newEventView(e stream.MovementEvent) eventView {
	return eventView{
		Sequence:          e.Sequence,
		MovementID:        e.MovementID,
		Operation:         e.Operation,
		AccountID:         e.AccountID,
		Direction:         e.Direction,
		Amount:            money.Amount(e.Amount),
		Reason:            e.Reason,
		RelatedEntityID:   e.RelatedEntityID,
		RelatedEntityType: e.RelatedEntityType,
		Timestamp:         e.Timestamp,
	}
}

type distributionView struct {
	Cost    money.Amount `json:"cost"`
	Freight money.Amount `json:"freight"`
	Profit  money.Amount `json:"profit"`
}

func newDistributionView(d distribution.Distribution) distributionView {
	return distributionView{
		Cost:    money.Amount(d.Cost),
		Freight: money.Amount(d.Freight),
		Profit:  money.Amount(d.Profit),
	}
}

type saleView struct {
	ID              string              `json:"id"`
	ClientID        string              `json:"client_id"`
	PurchaseOrderID string              `json:"purchase_order_id,omitempty"`
	Quantity        int64               `json:"quantity"`
	UnitSalePrice   money.Amount        `json:"unit_sale_price"`
	UnitCost        money.Amount        `json:"unit_cost"`
	UnitFreight     money.Amount        `json:"unit_freight"`
	FreightApplies  bool                `json:"freight_applies"`
	UnitMargin      money.Amount        `json:"unit_margin"`
	MarginPercent   decimal.Decimal     `json:"margin_percent"`
	TotalAmount     money.Amount        `json:"total_amount"`
	AmountPaid      money.Amount        `json:"amount_paid"`
	AmountRemaining money.Amount        `json:"amount_remaining"`
	PaymentState    ledger.PaymentState `json:"payment_state"`
	Historical      distributionView    `json:"historical"`
	Effective       distributionView    `json:"effective"`
	Note            string              `json:"note,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newSaleView(s ledger.Sale) saleView {
	unit, pct := distribution.Margin(distribution.SaleInput{
		UnitSalePrice:  s.UnitSalePrice,
		UnitCost:       s.UnitCost,
		UnitFreight:    s.UnitFreight,
		Quantity:       s.Quantity,
		FreightApplies: s.FreightApplies,
	})
	return saleView{
		ID:              s.ID,
		ClientID:        s.ClientID,
		PurchaseOrderID: s.PurchaseOrderID,
		Quantity:        s.Quantity,
		UnitSalePrice:   money.Amount(s.UnitSalePrice),
		UnitCost:        money.Amount(s.UnitCost),
		UnitFreight:     money.Amount(s.UnitFreight),
		FreightApplies:  s.FreightApplies,
		UnitMargin:      money.Amount(unit),
		MarginPercent:   pct,
		TotalAmount:     money.Amount(s.TotalAmount),
		AmountPaid:      money.Amount(s.AmountPaid),
		AmountRemaining: money.Amount(s.AmountRemaining()),
		PaymentState:    s.PaymentState(),
		Historical:      newDistributionView(s.Historical),
		Effective:       newDistributionView(s.Effective),
		Note:            s.Note,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type saleResultView struct {
	SaleID          string              `json:"sale_id"`
	TotalAmount     money.Amount        `json:"total_amount"`
	AmountPaid      money.Amount        `json:"amount_paid"`
	AmountRemaining money.Amount        `json:"amount_remaining"`
	PaymentState    ledger.PaymentState `json:"payment_state"`
	Historical      distributionView    `json:"historical"`
	Effective       distributionView    `json:"effective"`
	ClientDebtDelta money.Amount        `json:"client_debt_delta"`
}

func newSaleResultView(r ledger.SaleResult) saleResultView {
	return saleResultView{
		SaleID:          r.SaleID,
		TotalAmount:     money.Amount(r.TotalAmount),
		AmountPaid:      money.Amount(r.AmountPaid),
		AmountRemaining: money.Amount(r.AmountRemaining),
		PaymentState:    r.PaymentState,
		Historical:      newDistributionView(r.Historical),
		Effective:       newDistributionView(r.Effective),
		ClientDebtDelta: money.Amount(r.ClientDebtDelta),
	}
}

type abonoResultView struct {
	AbonoID            string              `json:"abono_id"`
	SaleID             string              `json:"sale_id"`
	Applied            money.Amount        `json:"applied"`
	NewAmountPaid      money.Amount        `json:"new_amount_paid"`
	NewAmountRemaining money.Amount        `json:"new_amount_remaining"`
	NewPaymentState    ledger.PaymentState `json:"new_payment_state"`
	Delta              distributionView    `json:"delta"`
}

func newAbonoResultView(r ledger.AbonoResult) abonoResultView {
	return abonoResultView{
		AbonoID:            r.AbonoID,
		SaleID:             r.SaleID,
		Applied:            money.Amount(r.Applied),
		NewAmountPaid:      money.Amount(r.NewAmountPaid),
		NewAmountRemaining: money.Amount(r.NewAmountRemaining),
		NewPaymentState:    r.NewPaymentState,
		Delta:              newDistributionView(r.Delta),
	}
}

type purchaseOrderView struct {
	ID                  string       `json:"id"`
	DistributorID       string       `json:"distributor_id"`
	Quantity            int64        `json:"quantity"`
	UnitDistributorCost money.Amount `json:"unit_distributor_cost"`
	UnitTransportCost   money.Amount `json:"unit_transport_cost"`
	TotalCost           money.Amount `json:"total_cost"`
	AmountPaid          money.Amount `json:"amount_paid"`
	Debt                money.Amount `json:"debt"`
	StockRemaining      int64        `json:"stock_remaining"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func newPurchaseOrderView(p ledger.PurchaseOrder) purchaseOrderView {
	return purchaseOrderView{
		ID:                  p.ID,
		DistributorID:       p.DistributorID,
		Quantity:            p.Quantity,
		UnitDistributorCost: money.Amount(p.UnitDistributorCost),
		UnitTransportCost:   money.Amount(p.UnitTransportCost),
		TotalCost:           money.Amount(p.TotalCost),
		AmountPaid:          money.Amount(p.AmountPaid),
		Debt:                money.Amount(p.Debt()),
		StockRemaining:      p.StockRemaining,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

type purchaseOrderResultView struct {
	PurchaseOrderID string       `json:"purchase_order_id"`
	TotalCost       money.Amount `json:"total_cost"`
	AmountPaid      money.Amount `json:"amount_paid"`
	Debt            money.Amount `json:"debt"`
	StockRemaining  int64        `json:"stock_remaining"`
	DistributorDebt money.Amount `json:"distributor_debt"`
}

func newPurchaseOrderResultView(r ledger.PurchaseOrderResult) purchaseOrderResultView {
	return purchaseOrderResultView{
		PurchaseOrderID: r.PurchaseOrderID,
		TotalCost:       money.Amount(r.TotalCost),
		AmountPaid:      money.Amount(r.AmountPaid),
		Debt:            money.Amount(r.Debt),
		StockRemaining:  r.StockRemaining,
		DistributorDebt: money.Amount(r.DistributorDebt),
	}
}

type distributorPaymentView struct {
	PaymentID  string       `json:"payment_id"`
	Applied    money.Amount `json:"applied"`
	NewDebt    money.Amount `json:"new_debt"`
	NewBalance money.Amount `json:"new_balance"`
}

type transferResultView struct {
	TransferID  string       `json:"transfer_id"`
	FromBalance money.Amount `json:"from_balance"`
	ToBalance   money.Amount `json:"to_balance"`
}

type transferView struct {
	ID            string       `json:"id"`
	FromAccountID string       `json:"from_account_id"`
	ToAccountID   string       `json:"to_account_id"`
	Amount        money.Amount `json:"amount"`
	Reason        string       `json:"reason"`
	CreatedAt     time.Time    `json:"created_at"`
}

type entryResultView struct {
	EntryID    string       `json:"entry_id"`
	MovementID string       `json:"movement_id"`
	NewBalance money.Amount `json:"new_balance"`
}

type clientView struct {
	ID          string       `json:"id"`
	TotalDebt   money.Amount `json:"total_debt"`
	TotalBilled money.Amount `json:"total_billed"`
	TotalPaid   money.Amount `json:"total_paid"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type distributorView struct {
	ID             string       `json:"id"`
	TotalDebt      money.Amount `json:"total_debt"`
	TotalPurchased money.Amount `json:"total_purchased"`
	TotalPaid      money.Amount `json:"total_paid"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type debtReportView struct {
	Kind       string       `json:"kind"`
	EntityID   string       `json:"entity_id"`
	Stored     money.Amount `json:"stored"`
	Recomputed money.Amount `json:"recomputed"`
	Drift      money.Amount `json:"drift"`
	InSync     bool         `json:"in_sync"`
}

func newDebtReportView(r ledger.DebtReport) debtReportView {
	return debtReportView{
		Kind:       r.Kind,
		EntityID:   r.EntityID,
		Stored:     money.Amount(r.Stored),
		Recomputed: money.Amount(r.Recomputed),
		Drift:      money.Amount(r.Drift),
		InSync:     r.InSync(),
	}
}

func newDebtReportViews(rs []ledger.DebtReport) []debtReportView {
	out := make([]debtReportView, len(rs))
	for i, r := range rs {
		out[i] = newDebtReportView(r)
	}
	return out
}

type accountAuditView struct {
	AccountID        string       `json:"account_id"`
	StoredCredited   money.Amount `json:"stored_credited"`
	StoredDebited    money.Amount `json:"stored_debited"`
	MovementCredited money.Amount `json:"movement_credited"`
	MovementDebited  money.Amount `json:"movement_debited"`
	Balance          money.Amount `json:"balance"`
	InSync           bool         `json:"in_sync"`
}

type reconciliationView struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Clients      []debtReportView   `json:"clients"`
	Distributors []debtReportView   `json:"distributors"`
	Accounts     []accountAuditView `json:"accounts"`
	Drifting     int                `json:"drifting"`
}

func newReconciliationView(r ledger.ReconciliationReport) reconciliationView {
	accounts := make([]accountAuditView, len(r.Accounts))
	for i, a := range r.Accounts {
		accounts[i] = accountAuditView{
			AccountID:        a.AccountID,
			StoredCredited:   money.Amount(a.StoredCredited),
			StoredDebited:    money.Amount(a.StoredDebited),
			MovementCredited: money.Amount(a.MovementCredited),
			MovementDebited:  money.Amount(a.MovementDebited),
			Balance:          money.Amount(a.Balance),
			InSync:           a.InSync(),
		}
	}
	return reconciliationView{
		GeneratedAt:  r.GeneratedAt,
		Clients:      newDebtReportViews(r.Clients),
		Distributors: newDebtReportViews(r.Distributors),
		Accounts:     accounts,
		Drifting:     r.Drifting,
	}
}

type statementView struct {
	AccountID      string         `json:"account_id"`
	From           *time.Time     `json:"from,omitempty"`
	To             time.Time      `json:"to"`
	OpeningBalance money.Amount   `json:"opening_balance"`
	Income         money.Amount   `json:"income"`
	Expense        money.Amount   `json:"expense"`
	TransfersIn    money.Amount   `json:"transfers_in"`
	TransfersOut   money.Amount   `json:"transfers_out"`
	ClosingBalance money.Amount   `json:"closing_balance"`
	Movements      []movementView `json:"movements"`
}

func newStatementView(st ledger.Statement) statementView {
	v := statementView{
		AccountID:      st.AccountID,
		To:             st.To,
		OpeningBalance: money.Amount(st.OpeningBalance),
		Income:         money.Amount(st.Income),
		Expense:        money.Amount(st.Expense),
		TransfersIn:    money.Amount(st.TransfersIn),
		TransfersOut:   money.Amount(st.TransfersOut),
		ClosingBalance: money.Amount(st.ClosingBalance),
		Movements:      newMovementViews(st.Movements),
	}
	if !st.From.IsZero() {
		from := st.From
		v.From = &from
	}
	return v
}
