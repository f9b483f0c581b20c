package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"flowledger.org/internal/ledger"
	"flowledger.org/internal/money"
)

type listAccountsResponse struct {
	Items []accountView `json:"items"`
	Total money.Amount  `json:"total"`
	AsOf  time.Time     `json:"as_of"`
}

type listMovementsResponse struct {
	Items     []movementView `json:"items"`
	NextAfter uint64         `json:"next_after"`
	AsOf      time.Time      `json:"as_of"`
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.ledger.ListAccounts(r.Context())
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	resp := listAccountsResponse{Items: make([]accountView, len(accounts)), AsOf: time.Now().UTC()}
	var total int64
	for i, acc := range accounts {
		resp.Items[i] = newAccountView(acc)
		total += acc.Balance()
	}
	resp.Total = money.Amount(total)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (a *API) listMovements(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := a.ledger.GetAccount(r.Context(), accountID); err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}
	filter := ledger.MovementFilter{
		AccountID:       accountID,
		RelatedEntityID: strings.TrimSpace(q.Get("entity")),
	}

	items, next, err := a.ledger.ListMovements(r.Context(), filter, limit, after)
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listMovementsResponse{
		Items:     newMovementViews(items),
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) statement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := a.ledger.Statement(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatementView(st))
}

func (a *API) getSale(w http.ResponseWriter, r *http.Request) {
	s, err := a.ledger.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleView(s))
}

func (a *API) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := a.ledger.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPurchaseOrderView(po))
}

func (a *API) getTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := a.ledger.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferView{
		ID:            tr.ID,
		FromAccountID: tr.FromAccountID,
		ToAccountID:   tr.ToAccountID,
		Amount:        money.Amount(tr.Amount),
		Reason:        tr.Reason,
		CreatedAt:     tr.CreatedAt,
	})
}

func (a *API) getClient(w http.ResponseWriter, r *http.Request) {
	cl, err := a.ledger.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clientView{
		ID:          cl.ID,
		TotalDebt:   money.Amount(cl.TotalDebt),
		TotalBilled: money.Amount(cl.TotalBilled),
		TotalPaid:   money.Amount(cl.TotalPaid),
		CreatedAt:   cl.CreatedAt,
		UpdatedAt:   cl.UpdatedAt,
	})
}

func (a *API) getDistributor(w http.ResponseWriter, r *http.Request) {
	d, err := a.ledger.GetDistributor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, distributorView{
		ID:             d.ID,
		TotalDebt:      money.Amount(d.TotalDebt),
		TotalPurchased: money.Amount(d.TotalPurchase),
		TotalPaid:      money.Amount(d.TotalPaid),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	})
}

func (a *API) reconcileClient(w http.ResponseWriter, r *http.Request) {
	rep, err := a.ledger.ReconcileClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDebtReportView(rep))
}

func (a *API) reconcileDistributor(w http.ResponseWriter, r *http.Request) {
	rep, err := a.ledger.ReconcileDistributor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDebtReportView(rep))
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := a.ledger.Reconcile(r.Context())
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReconciliationView(rep))
}
