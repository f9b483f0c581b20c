package ledger

import (
	"context"
	"time"
)

// Statement summarizes one account over [From, To) from the movement log only.
// Transfers are reported apart from income and expense.
type Statement struct {
	AccountID      string     `json:"account_id"`
	From           time.Time  `json:"from"`
	To             time.Time  `json:"to"`
	OpeningBalance int64      `json:"opening_balance"`
	Income         int64      `json:"income"`
	Expense        int64      `json:"expense"`
	TransfersIn    int64      `json:"transfers_in"`
	TransfersOut   int64      `json:"transfers_out"`
	ClosingBalance int64      `json:"closing_balance"`
	Movements      []Movement `json:"movements"`
}

// Statement builds the period summary ("corte") for an account. A zero to
// means now; a zero from means the beginning of the log.
func (c *Coordinator) Statement(ctx context.Context, accountID string, from, to time.Time) (Statement, error) {
	if _, ok := lookupAccount(accountID); !ok {
		return Statement{}, notFound("account", accountID)
	}
	if to.IsZero() {
		to = c.now().UTC()
	}
	if !from.IsZero() && !from.Before(to) {
		return Statement{}, invalid("from", "must be before to")
	}

	var moves []Movement
	err := c.read(ctx, "statement", func(ctx context.Context, tx Tx) error {
		var err error
		moves, err = tx.Movements(ctx, MovementFilter{AccountID: accountID, To: to}, 0, 0)
		return err
	})
	if err != nil {
		return Statement{}, err
	}
	return buildStatement(accountID, from, to, moves), nil
}

func buildStatement(accountID string, from, to time.Time, moves []Movement) Statement {
	st := Statement{AccountID: accountID, From: from, To: to, Movements: []Movement{}}
	for _, m := range moves {
		if m.AccountID != accountID || !m.CreatedAt.Before(to) {
			continue
		}
		if m.CreatedAt.Before(from) {
			if m.Direction == Credit {
				st.OpeningBalance += m.Amount
			} else {
				st.OpeningBalance -= m.Amount
			}
			continue
		}
		transfer := m.RelatedEntityType == EntityTransfer
		switch {
		case m.Direction == Credit && transfer:
			st.TransfersIn += m.Amount
		case m.Direction == Credit:
			st.Income += m.Amount
		case transfer:
			st.TransfersOut += m.Amount
		default:
			st.Expense += m.Amount
		}
		st.Movements = append(st.Movements, m)
	}
	st.ClosingBalance = st.OpeningBalance + st.Income + st.TransfersIn - st.Expense - st.TransfersOut
	return st
}
