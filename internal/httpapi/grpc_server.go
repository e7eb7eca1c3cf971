package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tiernet.org/internal/obs"
)

// GRPCHealth serves the standard gRPC health protocol, driven by the readiness probe.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewGRPCHealth creates the health service. Its status is NOT_SERVING until Refresh runs.
func NewGRPCHealth(r readinessChecker, logger *zap.Logger) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GRPCHealth{server: health.NewServer(), readiness: r, logger: logger}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh runs the readiness probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("readiness probe failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
	ok := status == healthpb.HealthCheckResponse_SERVING
	obs.SetReady(ok)
	return ok
}

// Watch refreshes the status every interval until ctx ends, then reports NOT_SERVING.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		h.Refresh(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-t.C:
		}
	}
}
