package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"flowledger.org/internal/ledger"
	"flowledger.org/internal/money"
)

type errorResponse struct {
	Error     string        `json:"error"`
	Code      string        `json:"code,omitempty"`
	Field     string        `json:"field,omitempty"`
	AccountID string        `json:"account_id,omitempty"`
	Balance   *money.Amount `json:"balance,omitempty"`
	Requested *money.Amount `json:"requested,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// handleLedgerError maps engine errors onto HTTP statuses. Conflicts and
// storage failures are safe to retry with the same idempotency key.
func (a *API) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *ledger.ValidationError
		fe *ledger.InsufficientFundsError
	)
	switch {
	case errors.As(err, &ve):
		writeErrorBody(w, r, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_failed", Field: ve.Field})
	case errors.Is(err, ledger.ErrValidation):
		writeErrorBody(w, r, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_failed"})
	case errors.Is(err, ledger.ErrSameAccount):
		writeErrorBody(w, r, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "same_account"})
	case errors.Is(err, ledger.ErrNotFound):
		writeErrorBody(w, r, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.As(err, &fe):
		bal, req := money.Amount(fe.Balance), money.Amount(fe.Requested)
		writeErrorBody(w, r, http.StatusConflict, errorResponse{
			Error:     err.Error(),
			Code:      "insufficient_funds",
			AccountID: fe.AccountID,
			Balance:   &bal,
			Requested: &req,
		})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeErrorBody(w, r, http.StatusConflict, errorResponse{Error: "concurrent update, retry with the same Idempotency-Key", Code: "conflict"})
	case errors.Is(err, ledger.ErrStorage):
		a.logger.Error("storage failure", zap.String("request_id", RequestIDFromContext(r)), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeErrorBody(w, r, http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable", Code: "storage_failure"})
	default:
		a.logger.Error("unhandled ledger error", zap.String("request_id", RequestIDFromContext(r)), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, errorResponse{Error: msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body errorResponse) {
	body.RequestID = RequestIDFromContext(r)
	writeJSON(w, code, body)
}
