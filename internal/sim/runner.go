package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"flowledger.org/internal/money"
)

// ErrNotConserved is returned when the account sum moved by something other
// than the money that entered or left through committed operations.
var ErrNotConserved = errors.New("sim: account sum not conserved")

type Config struct {
	BaseURL  string
	Workers  int
	Duration time.Duration
	// Requests caps the number of actions; 0 means until Duration elapses.
	Requests   int
	RatePerSec float64
	Seed       int64
	// Attempts per action for conflicts and storage failures, reusing the key.
	Attempts int
}

// Report is the outcome of one run.
type Report struct {
	Summary  Summary
	StartSum int64
	EndSum   int64
	Elapsed  time.Duration
}

func (r Report) Conserved() bool { return r.EndSum-r.StartSum == r.Summary.NetInflow }

type Runner struct {
	cfg     Config
	client  *http.Client
	gen     *Generator
	logger  *zap.Logger
	counter Counter
	issued  atomic.Int64
}

func NewRunner(cfg Config, client *http.Client, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Duration <= 0 && cfg.Requests <= 0 {
		cfg.Duration = time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, client: client, gen: NewGenerator(cfg.Seed), logger: logger}
}

// Run drives traffic with cfg.Workers goroutines and verifies conservation.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	startSum, err := r.accountSum(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read starting balances: %w", err)
	}

	runCtx := ctx
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.Workers)
	}

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				if r.cfg.Requests > 0 && r.issued.Add(1) > int64(r.cfg.Requests) {
					return nil
				}
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				// In-flight actions run on the parent context; the window only gates new ones.
				r.perform(ctx, r.gen.Next())
			}
		})
	}
	_ = g.Wait()

	endSum, err := r.accountSum(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read final balances: %w", err)
	}
	rep := Report{Summary: r.counter.Snapshot(), StartSum: startSum, EndSum: endSum, Elapsed: time.Since(started)}
	if !rep.Conserved() {
		return rep, fmt.Errorf("%w: start %s, end %s, net inflow %s", ErrNotConserved,
			money.Format(startSum), money.Format(endSum), money.Format(rep.Summary.NetInflow))
	}
	return rep, nil
}

func (r *Runner) perform(ctx context.Context, act Action) {
	idem := uuid.NewString()
	for attempt := 1; ; attempt++ {
		status, body, err := r.post(ctx, act.Path, idem, act.Body)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("request failed", zap.String("kind", string(act.Kind)), zap.Error(err))
			}
			r.counter.Failure(0, "")
			return
		}
		if status < 300 {
			delta, err := r.inflow(act, body)
			if err != nil {
				r.logger.Error("unexpected response", zap.String("kind", string(act.Kind)), zap.Error(err))
			}
			r.counter.Success(act.Kind, delta)
			return
		}
		retryable := status == http.StatusServiceUnavailable ||
			(status == http.StatusConflict && body["code"] == "conflict")
		if !retryable || attempt >= r.cfg.Attempts {
			code, _ := body["code"].(string)
			r.counter.Failure(status, code)
			if status >= 500 {
				r.logger.Warn("server error", zap.String("kind", string(act.Kind)), zap.Int("status", status), zap.Any("body", body))
			}
			return
		}
		select {
		case <-ctx.Done():
			r.counter.Failure(0, "")
			return
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
}

// inflow is how much a committed action changed the sum of all balances.
func (r *Runner) inflow(act Action, body map[string]any) (int64, error) {
	switch act.Kind {
	case KindSale:
		paid, err := amountField(body, "amount_paid")
		if err != nil {
			return 0, err
		}
		if body["payment_state"] != "complete" {
			if id, ok := body["sale_id"].(string); ok {
				r.gen.RememberSale(id)
			}
		}
		return paid, nil
	case KindAbono:
		return amountField(body, "applied")
	case KindIncome:
		return amountField(act.Body, "amount")
	case KindExpense:
		v, err := amountField(act.Body, "amount")
		return -v, err
	default:
		return 0, nil
	}
}

func amountField(m map[string]any, name string) (int64, error) {
	s, ok := m[name].(string)
	if !ok {
		return 0, fmt.Errorf("field %q missing", name)
	}
	return money.Parse(s)
}

func (r *Runner) post(ctx context.Context, path, idem string, payload map[string]any) (int, map[string]any, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idem)
	req.Header.Set("X-Actor", "loadsim")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, body, nil
}

func (r *Runner) accountSum(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/accounts", nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("list accounts: %s", resp.Status)
	}
	var out struct {
		Total money.Amount `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Total.Cents(), nil
}
