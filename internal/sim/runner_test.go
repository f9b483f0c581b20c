package sim

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowledger.org/internal/httpapi"
	"flowledger.org/internal/ledger"
	"flowledger.org/internal/lock"
)

func startAPI(t *testing.T) string {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := ledger.NewCoordinator(ledger.NewInMemory(),
		ledger.Config{StorageTimeout: time.Second, MaxRetries: 50, RetryBackoff: time.Millisecond},
		ledger.WithLogger(logger),
		ledger.WithLocker(lock.NewLocal()),
	)
	require.NoError(t, svc.Provision(context.Background()))
	api := httpapi.New(httpapi.ReadyProbe{Target: svc}, "test", svc, nil,
		httpapi.WithRateLimit(10000, 10000), httpapi.WithLogger(logger))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunnerConservesAccountSum(t *testing.T) {
	base := startAPI(t)
	r := NewRunner(Config{BaseURL: base, Workers: 6, Requests: 300, Seed: 42}, nil, zaptest.NewLogger(t))

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, rep.Conserved())
	require.Equal(t, 300, rep.Summary.Total()+rep.Summary.Failed())
	require.Positive(t, rep.Summary.Successes[KindSale])
	require.Zero(t, rep.Summary.ServerErrors)
	require.Zero(t, rep.Summary.Transport)
}

func TestGeneratorProducesValidActions(t *testing.T) {
	g := NewGenerator(7)
	seen := map[Kind]bool{}
	for i := 0; i < 500; i++ {
		act := g.Next()
		seen[act.Kind] = true
		require.NotEmpty(t, act.Path)
		require.NotEmpty(t, act.Body)
		if act.Kind == KindTransfer {
			require.NotEqual(t, act.Body["from_account_id"], act.Body["to_account_id"])
		}
		if act.Kind == KindSale && i%10 == 0 {
			g.RememberSale("VTA-test")
		}
	}
	for _, k := range []Kind{KindSale, KindAbono, KindTransfer, KindIncome, KindExpense} {
		require.True(t, seen[k], "kind %s never generated", k)
	}
}

func TestSummaryCountsFailures(t *testing.T) {
	var c Counter
	c.Success(KindIncome, 500)
	c.Success(KindExpense, -200)
	c.Failure(409, "conflict")
	c.Failure(409, "insufficient_funds")
	c.Failure(503, "storage_failure")
	c.Failure(0, "")
	s := c.Snapshot()
	require.Equal(t, 2, s.Total())
	require.Equal(t, 4, s.Failed())
	require.Equal(t, 1, s.Conflicts)
	require.Equal(t, 1, s.Rejected)
	require.Equal(t, int64(300), s.NetInflow)
	require.Contains(t, s.String(), "net inflow 3.00")
}
