package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/inventory.report/internal/monitoring"
)

// PipelineService is the service name reported by the gRPC health server,
// alongside the overall "" status.
const PipelineService = "inventory.Pipeline"

// DefaultHealthRefresh is how often the gRPC status follows the pipeline.
const DefaultHealthRefresh = time.Second

// HealthChecker reports pipeline health.
type HealthChecker interface {
	Healthy() bool
}

// HealthServer mirrors pipeline health on the standard gRPC health
// service so orchestrators and load balancers can probe it.
type HealthServer struct {
	checker HealthChecker
	health  *health.Server
	server  *grpc.Server
	logger  *slog.Logger
	refresh time.Duration
}

// NewHealthServer creates a health server. Nothing listens until Serve.
func NewHealthServer(checker HealthChecker, logger *slog.Logger) *HealthServer {
	h := &HealthServer{
		checker: checker,
		health:  health.NewServer(),
		server:  grpc.NewServer(),
		logger:  monitoring.Component(logger, "grpc-health"),
		refresh: DefaultHealthRefresh,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.Refresh()
	return h
}

// Refresh copies the current pipeline health into the gRPC status table.
func (h *HealthServer) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.checker.Healthy() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(PipelineService, status)
}

// Serve accepts health checks on lis until ctx is cancelled, refreshing the
// status periodically.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("grpc health server listening", "addr", lis.Addr().String())
		errCh <- h.server.Serve(lis)
	}()

	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Refresh()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		case <-ctx.Done():
			h.health.Shutdown()
			h.server.GracefulStop()
			h.logger.Info("grpc health server stopped")
			return nil
		}
	}
}

// ListenAndServe binds addr and calls Serve.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, lis)
}
