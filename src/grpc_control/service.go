package grpc_control

import (
	"context"
	"errors"
	"fmt"
	"net"

	"market-gateway/src/feed"
	"market-gateway/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// UpstreamService is the health service name that tracks the upstream feed.
const UpstreamService = "market-gateway.upstream"

// -----------------------------------------------------------------------------
// ControlService exposes the standard gRPC health protocol. The overall
// status follows the process lifecycle; UpstreamService follows the feed.
// -----------------------------------------------------------------------------

type ControlService struct {
	Logger *logger.Logger
	Port   int

	health *health.Server
	grpc   *grpc.Server
}

// NewControlService creates a new instance of ControlService
func NewControlService(port int, log *logger.Logger) *ControlService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &ControlService{
		Logger: log,
		Port:   port,
		health: hs,
		grpc:   gs,
	}
}

// -----------------------------------------------------------------------------

// OnFeedStatus mirrors upstream connectivity into the health service.
func (s *ControlService) OnFeedStatus(status, detail string) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if status == feed.StatusConnected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(UpstreamService, serving)
	s.Logger.Debug("Health %s -> %s (%s)", UpstreamService, serving, detail)
}

// -----------------------------------------------------------------------------

// Serve accepts gRPC connections on lis until Stop is called.
func (s *ControlService) Serve(lis net.Listener) error {
	s.Logger.Info("gRPC control server listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Run listens on the configured port and serves until ctx is cancelled.
func (s *ControlService) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.Port, err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.Serve(lis)
}

// -----------------------------------------------------------------------------

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *ControlService) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
