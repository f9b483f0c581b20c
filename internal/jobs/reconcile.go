package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"flowledger.org/internal/ledger"
)

// Reconciler is the part of ledger.Service the reconcile job needs.
type Reconciler interface {
	ReconcileClient(ctx context.Context, id string) (ledger.DebtReport, error)
	ReconcileDistributor(ctx context.Context, id string) (ledger.DebtReport, error)
	Reconcile(ctx context.Context) (ledger.ReconciliationReport, error)
}

// ReconcileJob handles TaskReconcile.
type ReconcileJob struct {
	Service Reconciler
	Logger  *zap.Logger
}

func NewReconcileJob(svc Reconciler, logger *zap.Logger) *ReconcileJob {
	return &ReconcileJob{Service: svc, Logger: logger}
}

// Handle executes one reconciliation. Drift is reported, not failed: the
// task only errors when the ledger could not be read.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	start := time.Now()
	log := j.logger().With(
		zap.String("client_id", payload.ClientID),
		zap.String("distributor_id", payload.DistributorID),
	)

	var (
		reports []ledger.DebtReport
		err     error
	)
	switch {
	case payload.ClientID != "" || payload.DistributorID != "":
		if payload.ClientID != "" {
			var r ledger.DebtReport
			r, err = j.Service.ReconcileClient(ctx, payload.ClientID)
			reports = append(reports, r)
		}
		if err == nil && payload.DistributorID != "" {
			var r ledger.DebtReport
			r, err = j.Service.ReconcileDistributor(ctx, payload.DistributorID)
			reports = append(reports, r)
		}
	default:
		var full ledger.ReconciliationReport
		full, err = j.Service.Reconcile(ctx)
		if err == nil {
			log.Info("reconciliation completed",
				zap.Int("clients", len(full.Clients)),
				zap.Int("distributors", len(full.Distributors)),
				zap.Int("drifting", full.Drifting),
				zap.Duration("duration", time.Since(start)))
			return nil
		}
	}
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrValidation) {
			log.Warn("reconciliation skipped", zap.Error(err))
			return fmt.Errorf("reconcile: %v: %w", err, asynq.SkipRetry)
		}
		log.Error("reconciliation failed", zap.Error(err))
		return err
	}
	for _, r := range reports {
		if !r.InSync() {
			log.Warn("debt drift detected",
				zap.String("kind", r.Kind),
				zap.String("entity_id", r.EntityID),
				zap.Int64("stored", r.Stored),
				zap.Int64("recomputed", r.Recomputed),
				zap.Int64("drift", r.Drift))
		}
	}
	log.Info("reconciliation completed", zap.Int("reports", len(reports)), zap.Duration("duration", time.Since(start)))
	return nil
}

func (j *ReconcileJob) logger() *zap.Logger {
	if j.Logger != nil {
		return j.Logger.With(zap.String("job", TaskReconcile))
	}
	return zap.L().With(zap.String("job", TaskReconcile))
}
