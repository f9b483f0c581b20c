package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"flowledger.org/internal/obs"
)

// HealthServer serves grpc.health.v1 with the status of the readiness probe.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewHealthServer creates the gRPC health wrapper. The status starts as
// NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthServer{srv: health.NewServer(), readiness: r, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh evaluates readiness once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx ends, then marks every service as
// shutting down so clients drain.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
