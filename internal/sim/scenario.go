// Package sim drives synthetic traffic against a running API and checks that
// the account sum moves exactly by the money that entered or left.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"flowledger.org/internal/ledger"
	"flowledger.org/internal/money"
)

// Kind of simulated operation.
type Kind string

const (
	KindSale     Kind = "sale"
	KindAbono    Kind = "abono"
	KindTransfer Kind = "transfer"
	KindIncome   Kind = "income"
	KindExpense  Kind = "expense"
)

// Action is one request the runner will issue.
type Action struct {
	Kind Kind
	Path string
	Body map[string]any
}

type Product struct {
	Label       string
	UnitPrice   int64
	UnitCost    int64
	UnitFreight int64
}

type Scenario struct {
	Name     string
	Clients  []string
	Products []Product
	// Weights per kind; zero disables the kind.
	Mix map[Kind]int
}

func StoreFlowScenario() Scenario {
	return Scenario{
		Name:    "StoreFlow",
		Clients: []string{"cliente-norte", "cliente-centro", "cliente-sur", "cliente-mostrador"},
		Products: []Product{
			{Label: "caja chica", UnitPrice: 10000, UnitCost: 6300, UnitFreight: 500},
			{Label: "caja grande", UnitPrice: 25000, UnitCost: 17000, UnitFreight: 1200},
			{Label: "saldo", UnitPrice: 4500, UnitCost: 4800, UnitFreight: 300},
		},
		Mix: map[Kind]int{
			KindSale:     40,
			KindAbono:    25,
			KindTransfer: 20,
			KindIncome:   10,
			KindExpense:  5,
		},
	}
}

// Generator produces random actions. It is safe for concurrent use.
type Generator struct {
	scenario Scenario

	mu    sync.Mutex
	rnd   *rand.Rand
	sales []string
}

func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{scenario: StoreFlowScenario(), rnd: rand.New(rand.NewSource(seed))}
}

// RememberSale makes a sale with an open balance eligible for abonos.
func (g *Generator) RememberSale(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sales = append(g.sales, id)
}

func (g *Generator) Next() Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	kind := g.pickKind()
	if kind == KindAbono && len(g.sales) == 0 {
		kind = KindSale
	}
	switch kind {
	case KindAbono:
		id := g.sales[g.rnd.Intn(len(g.sales))]
		return Action{
			Kind: KindAbono,
			Path: "/v1/sales/" + id + "/abonos",
			Body: map[string]any{"amount": money.Format(int64(g.rnd.Intn(30_000) + 100))},
		}
	case KindTransfer:
		accs := ledger.AccountIDs()
		from := g.rnd.Intn(len(accs))
		to := g.rnd.Intn(len(accs) - 1)
		if to >= from {
			to++
		}
		return Action{
			Kind: KindTransfer,
			Path: "/v1/transfers",
			Body: map[string]any{
				"from_account_id": accs[from],
				"to_account_id":   accs[to],
				"amount":          money.Format(int64(g.rnd.Intn(20_000) + 100)),
				"reason":          "simulated rebalancing",
			},
		}
	case KindIncome, KindExpense:
		operating := []string{ledger.Profit, ledger.Leftie, ledger.Azteca}
		path := "/income"
		if kind == KindExpense {
			path = "/expenses"
		}
		return Action{
			Kind: kind,
			Path: "/v1/accounts/" + operating[g.rnd.Intn(len(operating))] + path,
			Body: map[string]any{
				"amount": money.Format(int64(g.rnd.Intn(50_000) + 100)),
				"reason": fmt.Sprintf("simulated %s", kind),
			},
		}
	default:
		p := g.scenario.Products[g.rnd.Intn(len(g.scenario.Products))]
		qty := int64(g.rnd.Intn(10) + 1)
		total := p.UnitPrice * qty
		paid := total
		if g.rnd.Intn(2) == 0 {
			paid = g.rnd.Int63n(total + 1)
		}
		return Action{
			Kind: KindSale,
			Path: "/v1/sales",
			Body: map[string]any{
				"client_id":       g.scenario.Clients[g.rnd.Intn(len(g.scenario.Clients))],
				"quantity":        qty,
				"unit_sale_price": money.Format(p.UnitPrice),
				"unit_cost":       money.Format(p.UnitCost),
				"unit_freight":    money.Format(p.UnitFreight),
				"freight_applies": g.rnd.Intn(4) != 0,
				"amount_paid":     money.Format(paid),
				"note":            p.Label,
			},
		}
	}
}

func (g *Generator) pickKind() Kind {
	total := 0
	for _, w := range g.scenario.Mix {
		total += w
	}
	if total == 0 {
		return KindSale
	}
	n := g.rnd.Intn(total)
	for _, k := range []Kind{KindSale, KindAbono, KindTransfer, KindIncome, KindExpense} {
		if n < g.scenario.Mix[k] {
			return k
		}
		n -= g.scenario.Mix[k]
	}
	return KindSale
}
