package ledger

import (
	"context"
	"errors"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// GetAccount returns the account with its derived balance. Accounts of the
// fixed set that were never touched report zero totals.
func (c *Coordinator) GetAccount(ctx context.Context, id string) (Account, error) {
	def, ok := lookupAccount(id)
	if !ok {
		return Account{}, notFound("account", id)
	}
	var out Account
	err := c.read(ctx, "get_account", func(ctx context.Context, tx Tx) error {
		acc, err := tx.Account(ctx, id)
		if errors.Is(err, ErrNotFound) {
			out = Account{ID: def.ID, Name: def.Name, Kind: def.Kind}
			return nil
		}
		out = acc
		return err
	})
	return out, err
}

// ListAccounts returns the fixed account set in display order.
func (c *Coordinator) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	err := c.read(ctx, "list_accounts", func(ctx context.Context, tx Tx) error {
		stored, err := tx.Accounts(ctx)
		if err != nil {
			return err
		}
		byID := make(map[string]Account, len(stored))
		for _, a := range stored {
			byID[a.ID] = a
		}
		out = make([]Account, 0, len(accountSet))
		for _, def := range accountSet {
			a, ok := byID[def.ID]
			if !ok {
				a = Account{ID: def.ID, Name: def.Name, Kind: def.Kind}
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// ListMovements pages through the movement log in sequence order. It
// returns the cursor to pass as afterSeq for the next page; an empty page
// returns afterSeq unchanged.
func (c *Coordinator) ListMovements(ctx context.Context, f MovementFilter, limit int, afterSeq uint64) ([]Movement, uint64, error) {
	if f.AccountID != "" {
		if _, ok := lookupAccount(f.AccountID); !ok {
			return nil, 0, notFound("account", f.AccountID)
		}
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	var out []Movement
	err := c.read(ctx, "list_movements", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Movements(ctx, f, limit, afterSeq)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	next := afterSeq
	if n := len(out); n > 0 {
		next = out[n-1].Sequence
	}
	return out, next, nil
}

func (c *Coordinator) GetSale(ctx context.Context, id string) (Sale, error) {
	var out Sale
	err := c.read(ctx, "get_sale", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Sale(ctx, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := c.read(ctx, "get_purchase_order", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.PurchaseOrder(ctx, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetClient(ctx context.Context, id string) (Client, error) {
	var out Client
	err := c.read(ctx, "get_client", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Client(ctx, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetDistributor(ctx context.Context, id string) (Distributor, error) {
	var out Distributor
	err := c.read(ctx, "get_distributor", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Distributor(ctx, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	var out Transfer
	err := c.read(ctx, "get_transfer", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Transfer(ctx, id)
		return err
	})
	return out, err
}
