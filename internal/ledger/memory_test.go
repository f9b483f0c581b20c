package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func putAccount(t *testing.T, s *InMemory, a Account) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.PutAccount(ctx, a)
	}))
}

func TestInMemoryDetectsWriteWriteConflict(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	putAccount(t, s, Account{ID: Profit, TotalCredited: 100})

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acc, err := tx.Account(ctx, Profit)
		if err != nil {
			return err
		}
		// A concurrent transaction commits first.
		putAccount(t, s, Account{ID: Profit, TotalCredited: 500})
		acc.TotalDebited += 50
		return tx.PutAccount(ctx, acc)
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acc, err := tx.Account(ctx, Profit)
		require.NoError(t, err)
		require.Equal(t, int64(500), acc.Balance())
		return nil
	}))
}

func TestInMemoryBlindWritesConflict(t *testing.T) {
	s := NewInMemory()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.PutClient(ctx, Client{ID: "c", TotalDebt: 1}); err != nil {
			return err
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutClient(ctx, Client{ID: "c", TotalDebt: 2})
		}))
		return nil
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestInMemoryScanConflictsWithInsert(t *testing.T) {
	s := NewInMemory()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		orders, err := tx.PurchaseOrdersByDistributor(ctx, "d")
		require.NoError(t, err)
		require.Empty(t, orders)
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.PutPurchaseOrder(ctx, PurchaseOrder{ID: "OC-1", DistributorID: "d", TotalCost: 10})
		}))
		return tx.PutDistributor(ctx, Distributor{ID: "d", TotalDebt: 0})
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestInMemoryRollbackDiscardsWrites(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.PutSale(ctx, Sale{ID: "VTA-1", ClientID: "c"}))
		require.NoError(t, tx.AppendMovement(ctx, &Movement{ID: "MOV-1", AccountID: Profit, Amount: 1, Direction: Credit}))

		// Reads inside the transaction see its own writes.
		sale, err := tx.Sale(ctx, "VTA-1")
		require.NoError(t, err)
		require.Equal(t, "c", sale.ClientID)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Sale(ctx, "VTA-1")
		require.ErrorIs(t, err, ErrNotFound)
		moves, err := tx.Movements(ctx, MovementFilter{}, 0, 0)
		require.NoError(t, err)
		require.Empty(t, moves)
		return nil
	}))
}

func TestInMemoryAssignsSequenceAtCommit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		m := &Movement{ID: "MOV", AccountID: Leftie, Amount: int64(i + 1), Direction: Credit, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.AppendMovement(ctx, m)
		}))
		require.Equal(t, uint64(i+1), m.Sequence)
	}

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		moves, err := tx.Movements(ctx, MovementFilter{AccountID: Leftie, From: base.Add(time.Hour)}, 0, 0)
		require.NoError(t, err)
		require.Len(t, moves, 2)
		moves, err = tx.Movements(ctx, MovementFilter{To: base.Add(time.Hour)}, 0, 0)
		require.NoError(t, err)
		require.Len(t, moves, 1)
		moves, err = tx.Movements(ctx, MovementFilter{}, 1, 2)
		require.NoError(t, err)
		require.Len(t, moves, 1)
		require.Equal(t, uint64(3), moves[0].Sequence)
		return nil
	}))
}

func TestInMemoryFaultInjection(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	s.SetFault(func(op string) error {
		if op == "ping" || op == "sale.get" {
			return errors.New("injected")
		}
		return nil
	})
	require.Error(t, s.Ping(ctx))
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Sale(ctx, "x")
		return err
	})
	require.EqualError(t, err, "injected")

	s.SetFault(nil)
	require.NoError(t, s.Ping(ctx))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, s.WithTx(cctx, func(context.Context, Tx) error { return nil }), context.Canceled)
}
