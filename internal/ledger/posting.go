package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"flowledger.org/internal/distribution"
	"flowledger.org/internal/ids"
)

type entityRef struct {
	ID   string
	Type EntityType
}

// posting is the credit/debit primitive set available inside one
// coordinator transaction. It records every movement it appends so the
// coordinator can publish them after commit.
type posting struct {
	tx    Tx
	opID  string
	now   time.Time
	moves []*Movement
}

// ensureAccount returns the account, provisioning it with zero totals the
// first time an id of the fixed set is referenced.
func (p *posting) ensureAccount(ctx context.Context, id string) (Account, error) {
	def, ok := lookupAccount(id)
	if !ok {
		return Account{}, notFound("account", id)
	}
	acc, err := p.tx.Account(ctx, id)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}
	acc = Account{ID: def.ID, Name: def.Name, Kind: def.Kind, CreatedAt: p.now, UpdatedAt: p.now}
	if err := p.tx.PutAccount(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// credit adds amount to the account's ingress total and returns the new balance.
func (p *posting) credit(ctx context.Context, accountID string, amount int64, reason string, ref entityRef) (int64, error) {
	return p.post(ctx, accountID, Credit, amount, reason, ref)
}

// debit adds amount to the account's egress total and returns the new
// balance. It never checks funds.
func (p *posting) debit(ctx context.Context, accountID string, amount int64, reason string, ref entityRef) (int64, error) {
	return p.post(ctx, accountID, Debit, amount, reason, ref)
}

func (p *posting) post(ctx context.Context, accountID string, dir Direction, amount int64, reason string, ref entityRef) (int64, error) {
	if amount <= 0 {
		return 0, invalid("amount", "must be > 0")
	}
	acc, err := p.ensureAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	switch dir {
	case Credit:
		if acc.TotalCredited > math.MaxInt64-amount {
			return 0, invalid("amount", "overflows account total")
		}
		acc.TotalCredited += amount
	default:
		if acc.TotalDebited > math.MaxInt64-amount {
			return 0, invalid("amount", "overflows account total")
		}
		acc.TotalDebited += amount
	}
	acc.UpdatedAt = p.now
	if err := p.tx.PutAccount(ctx, acc); err != nil {
		return 0, err
	}
	m := &Movement{
		ID:                ids.NewWithPrefix(ids.PrefixMovement),
		AccountID:         accountID,
		Direction:         dir,
		Amount:            amount,
		Reason:            reason,
		RelatedEntityID:   ref.ID,
		RelatedEntityType: ref.Type,
		OperationID:       p.opID,
		CreatedAt:         p.now,
	}
	if err := p.tx.AppendMovement(ctx, m); err != nil {
		return 0, err
	}
	p.moves = append(p.moves, m)
	return acc.Balance(), nil
}

// requireFunds is the funds check applied by Transfer and distributor payments.
func (p *posting) requireFunds(ctx context.Context, accountID string, amount int64) error {
	acc, err := p.ensureAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Balance() < amount {
		return &InsufficientFundsError{AccountID: accountID, Balance: acc.Balance(), Requested: amount}
	}
	return nil
}

// postDistribution applies d to the three vaults. Positive portions credit,
// negative portions debit, zero portions write nothing.
func (p *posting) postDistribution(ctx context.Context, d distribution.Distribution, reason string, ref entityRef) error {
	legs := []struct {
		account string
		amount  int64
		label   string
	}{
		{BovedaMonte, d.Cost, "cost"},
		{FleteSur, d.Freight, "freight"},
		{Utilidades, d.Profit, "profit"},
	}
	for _, leg := range legs {
		var err error
		switch {
		case leg.amount > 0:
			_, err = p.credit(ctx, leg.account, leg.amount, reason+" "+leg.label, ref)
		case leg.amount < 0:
			_, err = p.debit(ctx, leg.account, -leg.amount, reason+" "+leg.label, ref)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
