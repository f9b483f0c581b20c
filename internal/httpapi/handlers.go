package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"flowledger.org/internal/audit"
	"flowledger.org/internal/ledger"
	"flowledger.org/internal/obs"
	"flowledger.org/internal/stream"
)

const serviceName = "flowledger-api"

// Pinger is anything that can report storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the ledger store answers.
type ReadyProbe struct {
	Target Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Target == nil {
		return nil
	}
	return rp.Target.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Option tunes the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithCORSOrigins restricts browser origins. Default is "*".
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithLogger sets the handler logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithReconcileQueue enables POST /v1/reconcile/jobs.
func WithReconcileQueue(q ReconcileQueue) Option {
	return func(a *API) { a.queue = q }
}

// API is the HTTP layer over the ledger service.
type API struct {
	readyProbe  readinessChecker
	version     string
	ledger      ledger.Service
	stream      *stream.Stream
	queue       ReconcileQueue
	logger      *zap.Logger
	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
}

func New(rp readinessChecker, version string, svc ledger.Service, st *stream.Stream, opts ...Option) *API {
	a := &API{
		readyProbe:  rp,
		version:     version,
		ledger:      svc,
		stream:      st,
		logger:      obs.Logger().Named("httpapi"),
		rateBurst:   100,
		ratePerSec:  50,
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed and instrumented http.Handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(obs.Instrument)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-ID", "X-Actor"},
		ExposedHeaders: []string{"Idempotency-Key", "X-Request-ID", "Retry-After", "Location"},
		MaxAge:         600,
	}))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.Get("/movements/stream", a.Stream)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, a.rateBurst, a.ratePerSec)
			})

			r.Post("/sales", a.recordSale)
			r.Get("/sales/{id}", a.getSale)
			r.Post("/sales/{id}/abonos", a.recordAbono)

			r.Post("/purchase-orders", a.createPurchaseOrder)
			r.Get("/purchase-orders/{id}", a.getPurchaseOrder)

			r.Get("/distributors/{id}", a.getDistributor)
			r.Post("/distributors/{id}/payments", a.payDistributor)
			r.Get("/distributors/{id}/reconcile", a.reconcileDistributor)

			r.Get("/clients/{id}", a.getClient)
			r.Get("/clients/{id}/reconcile", a.reconcileClient)

			r.Post("/transfers", a.transfer)
			r.Get("/transfers/{id}", a.getTransfer)

			r.Get("/accounts", a.listAccounts)
			r.Get("/accounts/{id}", a.getAccount)
			r.Get("/accounts/{id}/movements", a.listMovements)
			r.Get("/accounts/{id}/statement", a.statement)
			r.Post("/accounts/{id}/expenses", a.registerExpense)
			r.Post("/accounts/{id}/income", a.registerIncome)

			r.Get("/reconcile", a.reconcile)
			r.Post("/reconcile/jobs", a.enqueueReconcile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":            serviceName,
		"time":            time.Now().UTC().Format(time.RFC3339),
		"version":         a.version,
		"accounts":        ledger.AccountIDs(),
		"reconcile_queue": a.queue != nil,
	}
	if a.stream != nil {
		info["stream"] = map[string]any{
			"subscribers": a.stream.Subscribers(),
			"dropped":     a.stream.Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) audit(ctx context.Context, event, kind, id string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["resource_type"] = kind
	fields["resource_id"] = id
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.logger.Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
