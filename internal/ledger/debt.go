package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flowledger.org/internal/obs"
)

// RecomputeClientDebt sums the unpaid remainder of the client's sales.
// Overpaid sales contribute zero, so the result is never negative.
func RecomputeClientDebt(clientID string, sales []Sale) int64 {
	var total int64
	for _, s := range sales {
		if s.ClientID == clientID {
			total += s.AmountRemaining()
		}
	}
	return total
}

// RecomputeDistributorDebt sums the unpaid cost of the distributor's orders.
func RecomputeDistributorDebt(distributorID string, orders []PurchaseOrder) int64 {
	var total int64
	for _, o := range orders {
		if o.DistributorID == distributorID {
			total += o.Debt()
		}
	}
	return total
}

// DebtReport compares an incrementally maintained debt with its recomputed value.
type DebtReport struct {
	Kind       string `json:"kind"`
	EntityID   string `json:"entity_id"`
	Stored     int64  `json:"stored"`
	Recomputed int64  `json:"recomputed"`
	Drift      int64  `json:"drift"`
}

func (r DebtReport) InSync() bool { return r.Drift == 0 }

func newDebtReport(kind, id string, stored, recomputed int64) DebtReport {
	return DebtReport{Kind: kind, EntityID: id, Stored: stored, Recomputed: recomputed, Drift: stored - recomputed}
}

func (c *Coordinator) ReconcileClient(ctx context.Context, id string) (DebtReport, error) {
	var out DebtReport
	err := c.read(ctx, "reconcile_client", func(ctx context.Context, tx Tx) error {
		cl, err := tx.Client(ctx, id)
		if err != nil {
			return err
		}
		out, err = clientReport(ctx, tx, cl)
		return err
	})
	return out, err
}

func (c *Coordinator) ReconcileDistributor(ctx context.Context, id string) (DebtReport, error) {
	var out DebtReport
	err := c.read(ctx, "reconcile_distributor", func(ctx context.Context, tx Tx) error {
		d, err := tx.Distributor(ctx, id)
		if err != nil {
			return err
		}
		out, err = distributorReport(ctx, tx, d)
		return err
	})
	return out, err
}

func clientReport(ctx context.Context, tx Tx, cl Client) (DebtReport, error) {
	sales, err := tx.SalesByClient(ctx, cl.ID)
	if err != nil {
		return DebtReport{}, err
	}
	return newDebtReport("client", cl.ID, cl.TotalDebt, RecomputeClientDebt(cl.ID, sales)), nil
}

func distributorReport(ctx context.Context, tx Tx, d Distributor) (DebtReport, error) {
	orders, err := tx.PurchaseOrdersByDistributor(ctx, d.ID)
	if err != nil {
		return DebtReport{}, err
	}
	return newDebtReport("distributor", d.ID, d.TotalDebt, RecomputeDistributorDebt(d.ID, orders)), nil
}

// AccountAudit compares an account's stored counters with its movement log.
type AccountAudit struct {
	AccountID        string `json:"account_id"`
	StoredCredited   int64  `json:"stored_credited"`
	StoredDebited    int64  `json:"stored_debited"`
	MovementCredited int64  `json:"movement_credited"`
	MovementDebited  int64  `json:"movement_debited"`
	Balance          int64  `json:"balance"`
}

func (a AccountAudit) InSync() bool {
	return a.StoredCredited == a.MovementCredited && a.StoredDebited == a.MovementDebited
}

// ReconcileAccounts recomputes every account's totals from the movement log.
func (c *Coordinator) ReconcileAccounts(ctx context.Context) ([]AccountAudit, error) {
	var out []AccountAudit
	err := c.read(ctx, "reconcile_accounts", func(ctx context.Context, tx Tx) error {
		stored, err := tx.Accounts(ctx)
		if err != nil {
			return err
		}
		moves, err := tx.Movements(ctx, MovementFilter{}, 0, 0)
		if err != nil {
			return err
		}
		audits := make(map[string]*AccountAudit, len(accountSet))
		out = make([]AccountAudit, len(accountSet))
		for i, def := range accountSet {
			out[i].AccountID = def.ID
			audits[def.ID] = &out[i]
		}
		for _, a := range stored {
			if au := audits[a.ID]; au != nil {
				au.StoredCredited, au.StoredDebited, au.Balance = a.TotalCredited, a.TotalDebited, a.Balance()
			}
		}
		for _, m := range moves {
			au := audits[m.AccountID]
			if au == nil {
				continue
			}
			if m.Direction == Credit {
				au.MovementCredited += m.Amount
			} else {
				au.MovementDebited += m.Amount
			}
		}
		return nil
	})
	return out, err
}

// ReconciliationReport is the result of a full consistency sweep.
type ReconciliationReport struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Clients      []DebtReport   `json:"clients"`
	Distributors []DebtReport   `json:"distributors"`
	Accounts     []AccountAudit `json:"accounts"`
	Drifting     int            `json:"drifting"`
}

// Reconcile checks clients, distributors and accounts concurrently and
// publishes the drift counts as metrics.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconciliationReport, error) {
	report := ReconciliationReport{GeneratedAt: c.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.read(gctx, "reconcile_clients", func(ctx context.Context, tx Tx) error {
			clients, err := tx.Clients(ctx)
			if err != nil {
				return err
			}
			report.Clients = make([]DebtReport, 0, len(clients))
			for _, cl := range clients {
				r, err := clientReport(ctx, tx, cl)
				if err != nil {
					return err
				}
				report.Clients = append(report.Clients, r)
			}
			return nil
		})
	})
	g.Go(func() error {
		return c.read(gctx, "reconcile_distributors", func(ctx context.Context, tx Tx) error {
			ds, err := tx.Distributors(ctx)
			if err != nil {
				return err
			}
			report.Distributors = make([]DebtReport, 0, len(ds))
			for _, d := range ds {
				r, err := distributorReport(ctx, tx, d)
				if err != nil {
					return err
				}
				report.Distributors = append(report.Distributors, r)
			}
			return nil
		})
	})
	g.Go(func() error {
		var err error
		report.Accounts, err = c.ReconcileAccounts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ReconciliationReport{}, err
	}

	count := func(n int, inSync func(i int) bool) int {
		drift := 0
		for i := 0; i < n; i++ {
			if !inSync(i) {
				drift++
			}
		}
		return drift
	}
	clients := count(len(report.Clients), func(i int) bool { return report.Clients[i].InSync() })
	distributors := count(len(report.Distributors), func(i int) bool { return report.Distributors[i].InSync() })
	accounts := count(len(report.Accounts), func(i int) bool { return report.Accounts[i].InSync() })
	obs.SetReconcileDrift("clients", clients)
	obs.SetReconcileDrift("distributors", distributors)
	obs.SetReconcileDrift("accounts", accounts)
	report.Drifting = clients + distributors + accounts
	if report.Drifting > 0 {
		c.log.Warn("reconciliation found drift",
			zap.Int("clients", clients),
			zap.Int("distributors", distributors),
			zap.Int("accounts", accounts))
	}
	return report, nil
}
