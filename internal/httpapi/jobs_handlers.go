package httpapi

import (
	"context"
	"net/http"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"flowledger.org/internal/jobs"
)

// ReconcileQueue hands reconciliation runs to the background worker.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, payload jobs.ReconcilePayload) (*asynq.TaskInfo, error)
}

type reconcileJobRequest struct {
	ClientID      string `json:"client_id" validate:"omitempty,max=128"`
	DistributorID string `json:"distributor_id" validate:"omitempty,max=128"`
}

type reconcileJobView struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Scope  string `json:"scope"`
}

func (a *API) enqueueReconcile(w http.ResponseWriter, r *http.Request) {
	if a.queue == nil {
		writeErrorBody(w, r, http.StatusServiceUnavailable, errorResponse{
			Error: "background worker is not configured",
			Code:  "queue_unavailable",
		})
		return
	}
	var req reconcileJobRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, r, err)
		return
	}

	payload := jobs.ReconcilePayload{ClientID: req.ClientID, DistributorID: req.DistributorID}
	info, err := a.queue.EnqueueReconcile(r.Context(), payload)
	if err != nil {
		a.logger.Error("enqueue reconcile", zap.Error(err))
		w.Header().Set("Retry-After", "5")
		writeErrorBody(w, r, http.StatusServiceUnavailable, errorResponse{
			Error: "could not enqueue reconciliation",
			Code:  "queue_unavailable",
		})
		return
	}

	scope := "full"
	switch {
	case req.ClientID != "":
		scope = "client"
	case req.DistributorID != "":
		scope = "distributor"
	}
	a.audit(r.Context(), "reconcile.enqueued", "task", info.ID, map[string]any{"scope": scope})
	writeJSON(w, http.StatusAccepted, reconcileJobView{TaskID: info.ID, Queue: info.Queue, Scope: scope})
}
