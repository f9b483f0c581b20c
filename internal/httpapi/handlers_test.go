package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowledger.org/internal/ledger"
	"flowledger.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *ledger.InMemory
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	store := ledger.NewInMemory()
	st := stream.New()
	logger := zaptest.NewLogger(t)
	svc := ledger.NewCoordinator(store,
		ledger.Config{StorageTimeout: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond},
		ledger.WithLogger(logger),
		ledger.WithCommitHook(st.Hook()),
	)
	require.NoError(t, svc.Provision(context.Background()))

	opts = append([]Option{WithRateLimit(1000, 1000), WithLogger(logger)}, opts...)
	api := New(ReadyProbe{Target: svc}, "test", svc, st, opts...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err, "marshal body")
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err, "do request")
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	require.NoError(c.t, err)
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	require.NoError(c.t, err, "get request")
	return resp
}

func key(k string) map[string]string {
	return map[string]string{"Idempotency-Key": k}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v), "decode response")
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	body := decode[map[string]any](t, resp)
	require.Equal(t, want, resp.StatusCode, "body=%v", body)
	return body
}

func (c *apiClient) balance(id string) string {
	c.t.Helper()
	acc := expectStatus(c.t, c.get("/v1/accounts/"+id, nil), http.StatusOK)
	return acc["balance"].(string)
}

func saleBody(paid string) map[string]any {
	return map[string]any{
		"client_id":       "cliente-1",
		"quantity":        10,
		"unit_sale_price": "100.00",
		"unit_cost":       "63.00",
		"unit_freight":    "5.00",
		"amount_paid":     paid,
	}
}

func TestSaleFullyPaidDistributesToVaults(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/sales", saleBody("1000.00"), key("sale-1"))
	require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/v1/sales/"), "location %q", resp.Header.Get("Location"))
	require.Equal(t, "sale-1", resp.Header.Get("Idempotency-Key"))
	sale := expectStatus(t, resp, http.StatusCreated)
	require.Equal(t, "complete", sale["payment_state"])
	require.Equal(t, map[string]any{"cost": "630.00", "freight": "50.00", "profit": "320.00"}, sale["effective"])

	require.Equal(t, "630.00", api.balance(ledger.BovedaMonte))
	require.Equal(t, "50.00", api.balance(ledger.FleteSur))
	require.Equal(t, "320.00", api.balance(ledger.Utilidades))

	got := expectStatus(t, api.get("/v1/sales/"+sale["sale_id"].(string), nil), http.StatusOK)
	require.Equal(t, "32.00", got["unit_margin"])
	require.Equal(t, "32", got["margin_percent"])
	require.Equal(t, "0.00", got["amount_remaining"])
}

func TestPartialSaleThenAbono(t *testing.T) {
	api := newTestAPI(t)

	sale := expectStatus(t, api.post("/v1/sales", saleBody("500.00"), key("sale-1")), http.StatusCreated)
	saleID := sale["sale_id"].(string)
	require.Equal(t, "partial", sale["payment_state"])
	require.Equal(t, "315.00", api.balance(ledger.BovedaMonte))

	client := expectStatus(t, api.get("/v1/clients/cliente-1", nil), http.StatusOK)
	require.Equal(t, "500.00", client["total_debt"])

	abono := expectStatus(t, api.post("/v1/sales/"+saleID+"/abonos", map[string]any{"amount": "300.00"}, key("abono-1")), http.StatusCreated)
	require.Equal(t, "800.00", abono["new_amount_paid"])
	require.Equal(t, map[string]any{"cost": "189.00", "freight": "15.00", "profit": "96.00"}, abono["delta"])
	require.Equal(t, "504.00", api.balance(ledger.BovedaMonte))

	abono = expectStatus(t, api.post("/v1/sales/"+saleID+"/abonos", map[string]any{"amount": "999.00"}, key("abono-2")), http.StatusCreated)
	require.Equal(t, "200.00", abono["applied"])
	require.Equal(t, "complete", abono["new_payment_state"])

	report := expectStatus(t, api.get("/v1/clients/cliente-1/reconcile", nil), http.StatusOK)
	require.Equal(t, true, report["in_sync"])
	require.Equal(t, "0.00", report["stored"])
}

func TestIdempotencyKeyHandling(t *testing.T) {
	api := newTestAPI(t)

	first := expectStatus(t, api.post("/v1/sales", saleBody("1000.00"), key("same")), http.StatusCreated)
	second := expectStatus(t, api.post("/v1/sales", saleBody("1000.00"), key("same")), http.StatusCreated)
	require.Equal(t, first["sale_id"], second["sale_id"])
	require.Equal(t, "630.00", api.balance(ledger.BovedaMonte))

	body := saleBody("1000.00")
	body["idempotency_key"] = "from-body"
	third := expectStatus(t, api.post("/v1/sales", body, nil), http.StatusCreated)
	require.NotEqual(t, first["sale_id"], third["sale_id"])

	errBody := expectStatus(t, api.post("/v1/sales", body, key("other")), http.StatusBadRequest)
	require.Contains(t, errBody["error"], "must match")

	errBody = expectStatus(t, api.post("/v1/sales", saleBody("1.00"), nil), http.StatusBadRequest)
	require.Contains(t, errBody["error"], "required")

	tooLong := strings.Repeat("k", ledger.MaxIdempotencyKeyLen+1)
	errBody = expectStatus(t, api.post("/v1/sales", saleBody("1.00"), key(tooLong)), http.StatusBadRequest)
	require.Contains(t, errBody["error"], "at most 128")

	body = saleBody("1.00")
	body["idempotency_key"] = tooLong
	errBody = expectStatus(t, api.post("/v1/sales", body, nil), http.StatusBadRequest)
	require.Contains(t, errBody["error"], "at most 128")

	exact := strings.Repeat("k", ledger.MaxIdempotencyKeyLen)
	expectStatus(t, api.post("/v1/sales", saleBody("1.00"), key(exact)), http.StatusCreated)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)

	body := saleBody("0")
	body["quantity"] = 0
	errBody := expectStatus(t, api.post("/v1/sales", body, key("v1")), http.StatusBadRequest)
	require.Equal(t, "quantity", errBody["field"])
	require.Equal(t, "validation_failed", errBody["code"])
	require.NotEmpty(t, errBody["request_id"])

	expectStatus(t, api.post("/v1/sales", saleBody("1.001"), key("v2")), http.StatusBadRequest)

	body = saleBody("0")
	body["unexpected"] = true
	expectStatus(t, api.post("/v1/sales", body, key("v3")), http.StatusBadRequest)

	expectStatus(t, api.post("/v1/sales", nil, key("v4")), http.StatusBadRequest)

	start := time.Now()
	for i, raw := range []string{"1e-20000000", "1e30", "1E5"} {
		body = saleBody("0")
		body["amount_paid"] = json.RawMessage(raw)
		expectStatus(t, api.post("/v1/sales", body, key(fmt.Sprintf("exp-%d", i))), http.StatusBadRequest)
	}
	require.Less(t, time.Since(start), time.Second)
	expectStatus(t, api.post("/v1/sales/VTA-missing/abonos", map[string]any{"amount": "1"}, key("v5")), http.StatusNotFound)
}

func TestTransferAndFundsChecks(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.post("/v1/accounts/profit/income", map[string]any{"amount": "1000.00", "reason": "capital"}, key("inc-1")), http.StatusCreated)

	tr := expectStatus(t, api.post("/v1/transfers", map[string]any{
		"from_account_id": ledger.Profit,
		"to_account_id":   ledger.Leftie,
		"amount":          "250.00",
	}, key("tr-1")), http.StatusCreated)
	require.Equal(t, "750.00", tr["from_balance"])
	require.Equal(t, "250.00", tr["to_balance"])

	got := expectStatus(t, api.get("/v1/transfers/"+tr["transfer_id"].(string), nil), http.StatusOK)
	require.Equal(t, "250.00", got["amount"])

	errBody := expectStatus(t, api.post("/v1/transfers", map[string]any{
		"from_account_id": ledger.BovedaUSA,
		"to_account_id":   ledger.Leftie,
		"amount":          "10.00",
	}, key("tr-2")), http.StatusConflict)
	require.Equal(t, "insufficient_funds", errBody["code"])
	require.Equal(t, "0.00", errBody["balance"])
	require.Equal(t, "10.00", errBody["requested"])

	errBody = expectStatus(t, api.post("/v1/transfers", map[string]any{
		"from_account_id": ledger.Leftie,
		"to_account_id":   ledger.Leftie,
		"amount":          "1.00",
	}, key("tr-3")), http.StatusBadRequest)
	require.Equal(t, "same_account", errBody["code"])

	expectStatus(t, api.post("/v1/transfers", map[string]any{
		"from_account_id": "nowhere",
		"to_account_id":   ledger.Leftie,
		"amount":          "1.00",
	}, key("tr-4")), http.StatusNotFound)

	accounts := expectStatus(t, api.get("/v1/accounts", nil), http.StatusOK)
	require.Equal(t, "1000.00", accounts["total"])
	require.Len(t, accounts["items"], len(ledger.AccountIDs()))
}

func TestExpenseOnlyOnOperatingAccounts(t *testing.T) {
	api := newTestAPI(t)

	entry := expectStatus(t, api.post("/v1/accounts/azteca/expenses", map[string]any{"amount": "40.00"}, key("exp-1")), http.StatusCreated)
	require.Equal(t, "-40.00", entry["new_balance"])

	expectStatus(t, api.post("/v1/accounts/boveda_monte/expenses", map[string]any{"amount": "40.00"}, key("exp-2")), http.StatusBadRequest)
}

func TestPurchaseOrderAndDistributorPayment(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.post("/v1/accounts/profit/income", map[string]any{"amount": "3000.00"}, key("inc")), http.StatusCreated)

	po := expectStatus(t, api.post("/v1/purchase-orders", map[string]any{
		"distributor_id":        "dist-1",
		"quantity":              100,
		"unit_distributor_cost": "60.00",
		"unit_transport_cost":   "3.00",
		"initial_payment":       "2000.00",
		"from_account_id":       ledger.Profit,
	}, key("po-1")), http.StatusCreated)
	require.Equal(t, "6300.00", po["total_cost"])
	require.Equal(t, "4300.00", po["debt"])

	pay := expectStatus(t, api.post("/v1/distributors/dist-1/payments", map[string]any{
		"amount":          "800.00",
		"from_account_id": ledger.Profit,
	}, key("pay-1")), http.StatusCreated)
	require.Equal(t, "3500.00", pay["new_debt"])
	require.Equal(t, "200.00", pay["new_balance"])

	errBody := expectStatus(t, api.post("/v1/distributors/dist-1/payments", map[string]any{
		"amount":          "300.00",
		"from_account_id": ledger.Profit,
	}, key("pay-2")), http.StatusConflict)
	require.Equal(t, "insufficient_funds", errBody["code"])

	dist := expectStatus(t, api.get("/v1/distributors/dist-1", nil), http.StatusOK)
	require.Equal(t, "3500.00", dist["total_debt"])

	order := expectStatus(t, api.get("/v1/purchase-orders/"+po["purchase_order_id"].(string), nil), http.StatusOK)
	require.Equal(t, "2800.00", order["amount_paid"])

	report := expectStatus(t, api.get("/v1/distributors/dist-1/reconcile", nil), http.StatusOK)
	require.Equal(t, true, report["in_sync"])
}

func TestMovementsPaginationAndStatement(t *testing.T) {
	api := newTestAPI(t)
	for i, amt := range []string{"10.00", "20.00", "30.00"} {
		expectStatus(t, api.post("/v1/accounts/leftie/income", map[string]any{"amount": amt}, key("inc-"+string(rune('a'+i)))), http.StatusCreated)
	}

	page := expectStatus(t, api.get("/v1/accounts/leftie/movements", url.Values{"limit": {"2"}}), http.StatusOK)
	require.Len(t, page["items"], 2)
	next := page["next_after"].(float64)
	require.NotZero(t, next)

	page = expectStatus(t, api.get("/v1/accounts/leftie/movements", url.Values{"limit": {"2"}, "after": {"2"}}), http.StatusOK)
	require.Len(t, page["items"], 1)

	expectStatus(t, api.get("/v1/accounts/leftie/movements", url.Values{"limit": {"0"}}), http.StatusBadRequest)
	expectStatus(t, api.get("/v1/accounts/leftie/movements", url.Values{"after": {"-1"}}), http.StatusBadRequest)
	expectStatus(t, api.get("/v1/accounts/nowhere/movements", nil), http.StatusNotFound)

	st := expectStatus(t, api.get("/v1/accounts/leftie/statement", nil), http.StatusOK)
	require.Equal(t, "60.00", st["income"])
	require.Equal(t, "60.00", st["closing_balance"])

	expectStatus(t, api.get("/v1/accounts/leftie/statement", url.Values{"from": {"yesterday"}}), http.StatusBadRequest)
	expectStatus(t, api.get("/v1/accounts/leftie/statement", url.Values{"from": {"2030-01-02"}, "to": {"2030-01-01"}}), http.StatusBadRequest)

	rec := expectStatus(t, api.get("/v1/reconcile", nil), http.StatusOK)
	require.Equal(t, float64(0), rec["drifting"])
}

func TestStorageFailureMapsToServiceUnavailable(t *testing.T) {
	api := newTestAPI(t)
	api.store.SetFault(func(op string) error {
		if op == "commit" {
			return errors.New("disk unavailable")
		}
		return nil
	})

	resp := api.post("/v1/accounts/profit/income", map[string]any{"amount": "1.00"}, key("inc"))
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	errBody := expectStatus(t, resp, http.StatusServiceUnavailable)
	require.Equal(t, "storage_failure", errBody["code"])

	api.store.SetFault(nil)
	expectStatus(t, api.post("/v1/accounts/profit/income", map[string]any{"amount": "1.00"}, key("inc")), http.StatusCreated)
	require.Equal(t, "1.00", api.balance(ledger.Profit))
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)

	health := expectStatus(t, api.get("/healthz", nil), http.StatusOK)
	require.Equal(t, "ok", health["status"])
	expectStatus(t, api.get("/readyz", nil), http.StatusOK)

	api.store.SetFault(func(op string) error {
		if op == "ping" {
			return errors.New("down")
		}
		return nil
	})
	ready := expectStatus(t, api.get("/readyz", nil), http.StatusServiceUnavailable)
	require.Equal(t, "not_ready", ready["status"])

	info := expectStatus(t, api.get("/v1/info", nil), http.StatusOK)
	require.Equal(t, "test", info["version"])
	require.Equal(t, false, info["reconcile_queue"])
	require.Equal(t, map[string]any{"subscribers": float64(0), "dropped": float64(0)}, info["stream"])

	expectStatus(t, api.get("/v1/nothing-here", nil), http.StatusNotFound)
}

func TestMovementStreamDeliversCommittedMovements(t *testing.T) {
	api := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/movements/stream?account=azteca", nil)
	require.NoError(t, err)
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": stream started\n", line)

	expectStatus(t, api.post("/v1/accounts/leftie/income", map[string]any{"amount": "5.00"}, key("other")), http.StatusCreated)
	expectStatus(t, api.post("/v1/accounts/azteca/income", map[string]any{"amount": "7.50"}, key("mine")), http.StatusCreated)

	var data string
	for data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var evt map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	require.Equal(t, ledger.Azteca, evt["account_id"])
	require.Equal(t, "7.50", evt["amount"])
	require.Equal(t, ledger.OpRegisterIncome, evt["operation"])
}
