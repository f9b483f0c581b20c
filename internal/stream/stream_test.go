package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowledger.org/internal/ledger"
)

func receive(t *testing.T, ch <-chan MovementEvent) MovementEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for event")
		return MovementEvent{}
	}
}

func TestPublishFiltersByAccount(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := s.Subscribe(ctx, "")
	profit := s.Subscribe(ctx, ledger.Profit)
	require.Equal(t, 2, s.Subscribers())

	s.Publish(MovementEvent{Sequence: 1, AccountID: ledger.Leftie})
	s.Publish(MovementEvent{Sequence: 2, AccountID: ledger.Profit})

	require.Equal(t, uint64(1), receive(t, all).Sequence)
	require.Equal(t, uint64(2), receive(t, all).Sequence)
	require.Equal(t, uint64(2), receive(t, profit).Sequence)
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, "")
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "channel not closed")
	}
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	s.Publish(MovementEvent{Sequence: 9})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx, "")

	for i := 0; i < 100; i++ {
		s.Publish(MovementEvent{Sequence: uint64(i + 1)})
	}
	require.Equal(t, int64(100-64), s.Dropped())
}

func TestHookPublishesCommittedMovements(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx, "")

	now := time.Now().UTC()
	s.Hook()(ctx, "transfer", []ledger.Movement{
		{ID: "MOV-1", Sequence: 7, AccountID: ledger.Profit, Direction: ledger.Debit, Amount: 300, RelatedEntityID: "TRF-1", RelatedEntityType: ledger.EntityTransfer, CreatedAt: now},
		{ID: "MOV-2", Sequence: 8, AccountID: ledger.Leftie, Direction: ledger.Credit, Amount: 300, RelatedEntityID: "TRF-1", RelatedEntityType: ledger.EntityTransfer, CreatedAt: now},
	})

	first := receive(t, ch)
	require.Equal(t, "transfer", first.Operation)
	require.Equal(t, "MOV-1", first.MovementID)
	require.Equal(t, ledger.Debit, first.Direction)
	require.Equal(t, now, first.Timestamp)
	require.Equal(t, uint64(8), receive(t, ch).Sequence)
}
