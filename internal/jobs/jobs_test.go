package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowledger.org/internal/ledger"
)

func newLedger(t *testing.T) (*ledger.Coordinator, *ledger.InMemory) {
	t.Helper()
	store := ledger.NewInMemory()
	svc := ledger.NewCoordinator(store, ledger.Config{StorageTimeout: time.Second, MaxRetries: 1},
		ledger.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, svc.Provision(context.Background()))
	_, err := svc.RecordSale(context.Background(), ledger.SaleInput{
		IdempotencyKey: "sale-1", ClientID: "cliente-1",
		Quantity: 1, UnitSalePrice: 1000, UnitCost: 600, AmountPaid: 400,
	})
	require.NoError(t, err)
	return svc, store
}

func task(t *testing.T, payload ReconcilePayload) *asynq.Task {
	t.Helper()
	tk, err := NewReconcileTask(payload)
	require.NoError(t, err)
	return tk
}

func TestReconcileJobRunsFullAndScopedSweeps(t *testing.T) {
	svc, _ := newLedger(t)
	job := NewReconcileJob(svc, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, task(t, ReconcilePayload{})))
	require.NoError(t, job.Handle(ctx, task(t, ReconcilePayload{ClientID: "cliente-1"})))

	err := job.Handle(ctx, task(t, ReconcilePayload{DistributorID: "ghost"}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	svc, _ := newLedger(t)
	job := NewReconcileJob(svc, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskReconcile, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var empty *ReconcileJob
	require.Error(t, empty.Handle(context.Background(), task(t, ReconcilePayload{})))
}

func TestReconcileJobRetriesStorageFailures(t *testing.T) {
	svc, store := newLedger(t)
	store.SetFault(func(op string) error {
		if op == "movement.scan" {
			return errors.New("disk unavailable")
		}
		return nil
	})
	job := NewReconcileJob(svc, zaptest.NewLogger(t))
	err := job.Handle(context.Background(), task(t, ReconcilePayload{}))
	require.ErrorIs(t, err, ledger.ErrStorage)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestNewReconcileTaskPayload(t *testing.T) {
	tk := task(t, ReconcilePayload{ClientID: "c"})
	require.Equal(t, TaskReconcile, tk.Type())
	var p ReconcilePayload
	require.NoError(t, json.Unmarshal(tk.Payload(), &p))
	require.Equal(t, "c", p.ClientID)
	require.Empty(t, p.DistributorID)
}

func TestClientEnqueuesOnLedgerQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	info, err := client.EnqueueReconcile(context.Background(), ReconcilePayload{DistributorID: "d"})
	require.NoError(t, err)
	require.Equal(t, QueueLedger, info.Queue)
	require.Equal(t, TaskReconcile, info.Type)
	require.Equal(t, 3, info.MaxRetry)
	require.True(t, mr.Exists("asynq:{"+QueueLedger+"}:pending"))
}

func TestNewWorkerValidatesConfig(t *testing.T) {
	svc, _ := newLedger(t)
	job := NewReconcileJob(svc, nil)

	_, err := NewWorker(WorkerConfig{Reconcile: job})
	require.Error(t, err)
	_, err = NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	w, err := NewWorker(WorkerConfig{RedisOpts: opts, Reconcile: job, ReconcileCron: "@every 1h", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NotNil(t, w.scheduler)

	_, err = NewWorker(WorkerConfig{RedisOpts: opts, Reconcile: job, ReconcileCron: "not a schedule"})
	require.Error(t, err)
}
