package httpapi

import (
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"flowledger.org/internal/jobs"
)

func TestEnqueueReconcileWithoutWorker(t *testing.T) {
	c := newTestAPI(t)
	body := expectStatus(t, c.post("/v1/reconcile/jobs", nil, nil), http.StatusServiceUnavailable)
	require.Equal(t, "queue_unavailable", body["code"])
}

func TestEnqueueReconcile(t *testing.T) {
	mr := miniredis.RunT(t)
	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = queue.Close() })

	c := newTestAPI(t, WithReconcileQueue(queue))

	body := expectStatus(t, c.post("/v1/reconcile/jobs", nil, nil), http.StatusAccepted)
	require.Equal(t, "full", body["scope"])
	require.Equal(t, jobs.QueueLedger, body["queue"])
	require.NotEmpty(t, body["task_id"])

	body = expectStatus(t, c.post("/v1/reconcile/jobs", map[string]any{"client_id": "cliente-norte"}, nil), http.StatusAccepted)
	require.Equal(t, "client", body["scope"])

	expectStatus(t, c.post("/v1/reconcile/jobs", map[string]any{"account": "x"}, nil), http.StatusBadRequest)
	require.True(t, mr.Exists("asynq:{"+jobs.QueueLedger+"}:pending"))
}
