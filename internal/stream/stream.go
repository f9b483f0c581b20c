// Package stream fans committed ledger movements out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"flowledger.org/internal/ledger"
)

// MovementEvent is one committed movement as seen by stream clients.
type MovementEvent struct {
	Sequence          uint64            `json:"sequence"`
	MovementID        string            `json:"movement_id"`
	Operation         string            `json:"operation"`
	AccountID         string            `json:"account_id"`
	Direction         ledger.Direction  `json:"direction"`
	Amount            int64             `json:"amount"`
	Reason            string            `json:"reason"`
	RelatedEntityID   string            `json:"related_entity_id"`
	RelatedEntityType ledger.EntityType `json:"related_entity_type"`
	Timestamp         time.Time         `json:"timestamp"`
}

// FromMovement converts a stored movement.
func FromMovement(op string, m ledger.Movement) MovementEvent {
	return MovementEvent{
		Sequence:          m.Sequence,
		MovementID:        m.ID,
		Operation:         op,
		AccountID:         m.AccountID,
		Direction:         m.Direction,
		Amount:            m.Amount,
		Reason:            m.Reason,
		RelatedEntityID:   m.RelatedEntityID,
		RelatedEntityType: m.RelatedEntityType,
		Timestamp:         m.CreatedAt,
	}
}

type subscriber struct {
	ch        chan MovementEvent
	accountID string
}

// Stream fan-outs movement events to all active subscribers (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. An empty accountID receives every account. The channel is closed
// when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, accountID string) <-chan MovementEvent {
	ch := make(chan MovementEvent, 64)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, accountID: accountID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt MovementEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.accountID != "" && sub.accountID != evt.AccountID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscribers lose events; they can page /movements to catch up.
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Hook adapts the stream to the coordinator's commit hook.
func (s *Stream) Hook() ledger.CommitHook {
	return func(_ context.Context, op string, moves []ledger.Movement) {
		for _, m := range moves {
			s.Publish(FromMovement(op, m))
		}
	}
}
