package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name reported for the match server.
const ServiceName = "duel.MatchServer"

// AdminServer exposes the standard gRPC health protocol so orchestrators can
// probe the process without speaking WebSocket.
type AdminServer struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewAdminServer creates an AdminServer bound to addr. Both the overall
// status ("") and ServiceName start as NOT_SERVING.
//
// Precondition: logger must be non-nil.
func NewAdminServer(addr string, logger *zap.Logger) *AdminServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &AdminServer{
		addr:   addr,
		logger: logger,
		grpc:   gs,
		health: hs,
	}
}

// SetServing flips the reported status of the process and ServiceName.
func (a *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(ServiceName, status)
}

// Serve accepts gRPC connections on lis until Stop is called.
func (a *AdminServer) Serve(lis net.Listener) error {
	a.mu.Lock()
	a.listener = lis
	a.mu.Unlock()

	a.logger.Info("admin grpc listening", zap.String("addr", lis.Addr().String()))
	if err := a.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving admin grpc: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until stopped.
func (a *AdminServer) Start(_ context.Context) error {
	lis, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.addr, err)
	}
	return a.Serve(lis)
}

// Stop reports NOT_SERVING, then drains in-flight RPCs until ctx expires.
func (a *AdminServer) Stop(ctx context.Context) {
	a.health.Shutdown()

	done := make(chan struct{})
	go func() {
		a.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.grpc.Stop()
	}
}
