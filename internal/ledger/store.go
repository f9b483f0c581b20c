package ledger

import "context"

// Store is the durable transactional storage the Service depends on.
//
// WithTx runs fn inside one storage transaction: every write fn makes lands
// together when fn returns nil, and none land otherwise. Implementations
// report a lost race as ErrConcurrencyConflict.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the transactional view handed to WithTx callbacks. Getters return a
// *NotFoundError when the record does not exist.
type Tx interface {
	Account(ctx context.Context, id string) (Account, error)
	Accounts(ctx context.Context) ([]Account, error)
	PutAccount(ctx context.Context, a Account) error

	// AppendMovement stores m and sets m.Sequence no later than commit.
	AppendMovement(ctx context.Context, m *Movement) error
	// Movements returns committed movements matching f with Sequence > afterSeq
	// in sequence order. limit <= 0 returns all of them.
	Movements(ctx context.Context, f MovementFilter, limit int, afterSeq uint64) ([]Movement, error)

	Sale(ctx context.Context, id string) (Sale, error)
	PutSale(ctx context.Context, s Sale) error
	SalesByClient(ctx context.Context, clientID string) ([]Sale, error)

	PurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	PutPurchaseOrder(ctx context.Context, p PurchaseOrder) error
	// PurchaseOrdersByDistributor returns the orders oldest first.
	PurchaseOrdersByDistributor(ctx context.Context, distributorID string) ([]PurchaseOrder, error)

	Client(ctx context.Context, id string) (Client, error)
	PutClient(ctx context.Context, c Client) error
	Clients(ctx context.Context) ([]Client, error)

	Distributor(ctx context.Context, id string) (Distributor, error)
	PutDistributor(ctx context.Context, d Distributor) error
	Distributors(ctx context.Context) ([]Distributor, error)

	Transfer(ctx context.Context, id string) (Transfer, error)
	PutTransfer(ctx context.Context, t Transfer) error

	Idempotency(ctx context.Context, key string) (IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, r IdempotencyRecord) error
}
