// Package jobs runs ledger maintenance tasks on asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueLedger is the queue every ledger task is enqueued on.
	QueueLedger = "ledger"
	// TaskReconcile recomputes debts and account totals and reports drift.
	TaskReconcile = "ledger:reconcile"
)

// ReconcilePayload scopes a reconciliation run. Both ids empty means a
// full sweep.
type ReconcilePayload struct {
	ClientID      string `json:"client_id,omitempty"`
	DistributorID string `json:"distributor_id,omitempty"`
}

// NewReconcileTask constructs an asynq task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, data,
		asynq.Queue(QueueLedger),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}
