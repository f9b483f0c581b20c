package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flowledger.org/internal/ledger"
	"flowledger.org/internal/money"
)

type saleRequest struct {
	command
	ClientID        string       `json:"client_id" validate:"required,max=64"`
	PurchaseOrderID string       `json:"purchase_order_id" validate:"omitempty,max=64"`
	Quantity        int64        `json:"quantity" validate:"gt=0"`
	UnitSalePrice   money.Amount `json:"unit_sale_price" validate:"gte=0"`
	UnitCost        money.Amount `json:"unit_cost" validate:"gte=0"`
	UnitFreight     money.Amount `json:"unit_freight" validate:"gte=0"`
	FreightApplies  *bool        `json:"freight_applies"`
	AmountPaid      money.Amount `json:"amount_paid" validate:"gte=0"`
	Note            string       `json:"note" validate:"max=500"`
}

type abonoRequest struct {
	command
	Amount money.Amount `json:"amount" validate:"gt=0"`
}

type purchaseOrderRequest struct {
	command
	DistributorID       string       `json:"distributor_id" validate:"required,max=64"`
	Quantity            int64        `json:"quantity" validate:"gt=0"`
	UnitDistributorCost money.Amount `json:"unit_distributor_cost" validate:"gte=0"`
	UnitTransportCost   money.Amount `json:"unit_transport_cost" validate:"gte=0"`
	InitialPayment      money.Amount `json:"initial_payment" validate:"gte=0"`
	FromAccountID       string       `json:"from_account_id" validate:"max=64"`
}

type distributorPaymentRequest struct {
	command
	Amount          money.Amount `json:"amount" validate:"gt=0"`
	FromAccountID   string       `json:"from_account_id" validate:"required,max=64"`
	PurchaseOrderID string       `json:"purchase_order_id" validate:"omitempty,max=64"`
}

type transferRequest struct {
	command
	FromAccountID string       `json:"from_account_id" validate:"required,max=64"`
	ToAccountID   string       `json:"to_account_id" validate:"required,max=64"`
	Amount        money.Amount `json:"amount" validate:"gt=0"`
	Reason        string       `json:"reason" validate:"max=200"`
}

type entryRequest struct {
	command
	Amount money.Amount `json:"amount" validate:"gt=0"`
	Reason string       `json:"reason" validate:"max=200"`
}

func (a *API) recordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}
	freight := true
	if req.FreightApplies != nil {
		freight = *req.FreightApplies
	}

	res, err := a.ledger.RecordSale(r.Context(), ledger.SaleInput{
		IdempotencyKey:  key,
		ClientID:        req.ClientID,
		PurchaseOrderID: req.PurchaseOrderID,
		Quantity:        req.Quantity,
		UnitSalePrice:   req.UnitSalePrice.Cents(),
		UnitCost:        req.UnitCost.Cents(),
		UnitFreight:     req.UnitFreight.Cents(),
		FreightApplies:  freight,
		AmountPaid:      req.AmountPaid.Cents(),
		Note:            req.Note,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.sale.record", "sale", res.SaleID, map[string]any{
		"client_id":       req.ClientID,
		"total_amount":    money.Format(res.TotalAmount),
		"amount_paid":     money.Format(res.AmountPaid),
		"idempotency_key": key,
	})
	w.Header().Set("Location", "/v1/sales/"+res.SaleID)
	writeJSON(w, http.StatusCreated, newSaleResultView(res))
}

func (a *API) recordAbono(w http.ResponseWriter, r *http.Request) {
	var req abonoRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}
	saleID := chi.URLParam(r, "id")

	res, err := a.ledger.RecordAbono(r.Context(), ledger.AbonoInput{
		IdempotencyKey: key,
		SaleID:         saleID,
		Amount:         req.Amount.Cents(),
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.sale.abono", "sale", saleID, map[string]any{
		"abono_id":        res.AbonoID,
		"requested":       req.Amount.String(),
		"applied":         money.Format(res.Applied),
		"idempotency_key": key,
	})
	writeJSON(w, http.StatusCreated, newAbonoResultView(res))
}

func (a *API) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req purchaseOrderRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}

	res, err := a.ledger.CreatePurchaseOrder(r.Context(), ledger.PurchaseOrderInput{
		IdempotencyKey:      key,
		DistributorID:       req.DistributorID,
		Quantity:            req.Quantity,
		UnitDistributorCost: req.UnitDistributorCost.Cents(),
		UnitTransportCost:   req.UnitTransportCost.Cents(),
		InitialPayment:      req.InitialPayment.Cents(),
		FromAccountID:       req.FromAccountID,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.purchase_order.create", "purchase_order", res.PurchaseOrderID, map[string]any{
		"distributor_id":  req.DistributorID,
		"total_cost":      money.Format(res.TotalCost),
		"amount_paid":     money.Format(res.AmountPaid),
		"idempotency_key": key,
	})
	w.Header().Set("Location", "/v1/purchase-orders/"+res.PurchaseOrderID)
	writeJSON(w, http.StatusCreated, newPurchaseOrderResultView(res))
}

func (a *API) payDistributor(w http.ResponseWriter, r *http.Request) {
	var req distributorPaymentRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}
	distributorID := chi.URLParam(r, "id")

	res, err := a.ledger.RecordDistributorPayment(r.Context(), ledger.DistributorPaymentInput{
		IdempotencyKey:  key,
		DistributorID:   distributorID,
		Amount:          req.Amount.Cents(),
		FromAccountID:   req.FromAccountID,
		PurchaseOrderID: req.PurchaseOrderID,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.distributor.pay", "distributor", distributorID, map[string]any{
		"payment_id":      res.PaymentID,
		"from_account":    req.FromAccountID,
		"amount":          req.Amount.String(),
		"idempotency_key": key,
	})
	writeJSON(w, http.StatusCreated, distributorPaymentView{
		PaymentID:  res.PaymentID,
		Applied:    money.Amount(res.Applied),
		NewDebt:    money.Amount(res.NewDebt),
		NewBalance: money.Amount(res.NewBalance),
	})
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}

	res, err := a.ledger.Transfer(r.Context(), ledger.TransferInput{
		IdempotencyKey: key,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount.Cents(),
		Reason:         req.Reason,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.transfer.execute", "transfer", res.TransferID, map[string]any{
		"from_account":    req.FromAccountID,
		"to_account":      req.ToAccountID,
		"amount":          req.Amount.String(),
		"idempotency_key": key,
	})
	w.Header().Set("Location", "/v1/transfers/"+res.TransferID)
	writeJSON(w, http.StatusCreated, transferResultView{
		TransferID:  res.TransferID,
		FromBalance: money.Amount(res.FromBalance),
		ToBalance:   money.Amount(res.ToBalance),
	})
}

func (a *API) registerExpense(w http.ResponseWriter, r *http.Request) {
	a.entry(w, r, "ledger.expense.register", a.ledger.RegisterExpense)
}

func (a *API) registerIncome(w http.ResponseWriter, r *http.Request) {
	a.entry(w, r, "ledger.income.register", a.ledger.RegisterIncome)
}

func (a *API) entry(w http.ResponseWriter, r *http.Request, event string, register func(context.Context, ledger.EntryInput) (ledger.EntryResult, error)) {
	var req entryRequest
	key, ok := bind(w, r, &req)
	if !ok {
		return
	}
	accountID := chi.URLParam(r, "id")

	res, err := register(r.Context(), ledger.EntryInput{
		IdempotencyKey: key,
		AccountID:      accountID,
		Amount:         req.Amount.Cents(),
		Reason:         req.Reason,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), event, "account", accountID, map[string]any{
		"entry_id":        res.EntryID,
		"amount":          req.Amount.String(),
		"reason":          req.Reason,
		"idempotency_key": key,
	})
	writeJSON(w, http.StatusCreated, entryResultView{
		EntryID:    res.EntryID,
		MovementID: res.MovementID,
		NewBalance: money.Amount(res.NewBalance),
	})
}
