package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Ledger metrics
var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowledger_operations_total",
			Help: "Coordinator operations by final outcome (committed, aborted, replayed).",
		},
		[]string{"op", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowledger_operation_duration_seconds",
			Help:    "Coordinator operation latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	operationRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowledger_operation_retries_total",
			Help: "Attempts retried after a conflict or storage failure.",
		},
		[]string{"op", "reason"},
	)

	reconcileDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowledger_reconcile_drift",
			Help: "Entities whose stored aggregates differ from the recomputed value at the last reconciliation.",
		},
		[]string{"kind"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowledger_ready",
		Help: "1 when the ledger store answered the last readiness probe.",
	})

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			operationsTotal, operationDuration, operationRetries, reconcileDrift,
			readyGauge,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records the outcome and latency of one coordinator operation.
func ObserveOperation(op, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRetry counts one retried attempt.
func ObserveRetry(op, reason string) {
	operationRetries.WithLabelValues(op, reason).Inc()
}

// SetReconcileDrift publishes the number of drifting entities of a kind.
func SetReconcileDrift(kind string, n int) {
	reconcileDrift.WithLabelValues(kind).Set(float64(n))
}

// SetReady publishes the outcome of the last readiness probe.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures RPS, latency and in-flight requests, and writes the access log.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		status := strconv.Itoa(sw.code)
		path := routePattern(r)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		LogRequest(method, path, sw.code,
			zap.Duration("duration", duration),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
		)
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
			return p
		}
	}
	return CanonicalPath(r.URL.Path)
}

var idCollections = map[string]bool{
	"accounts":        true,
	"sales":           true,
	"purchase-orders": true,
	"distributors":    true,
	"clients":         true,
}

var idSubresources = map[string]bool{
	"movements": true,
	"statement": true,
	"abonos":    true,
	"payments":  true,
	"reconcile": true,
	"expenses":  true,
	"income":    true,
}

// CanonicalPath collapses entity ids so metric labels stay low-cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || !idCollections[parts[1]] {
		return p
	}
	switch len(parts) {
	case 3:
		return "/v1/" + parts[1] + "/{id}"
	case 4:
		if idSubresources[parts[3]] {
			return "/v1/" + parts[1] + "/{id}/" + parts[3]
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
