package grpc

import (
	"context"
	"fmt"
	"log"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-broker/internal/observability"
)

// HealthServer exposes grpc.health.v1.Health for the broker.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	service string
}

// NewHealthServer builds an instrumented gRPC server that reports service as SERVING.
func NewHealthServer(service string) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	return &HealthServer{server: server, health: hs, service: service}
}

// Serving reports whether the broker is reported healthy.
func (s *HealthServer) Serving() bool {
	return s.status() == healthpb.HealthCheckResponse_SERVING
}

func (s *HealthServer) status() healthpb.HealthCheckResponse_ServingStatus {
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: s.service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

// Serve blocks serving on listener.
func (s *HealthServer) Serve(listener net.Listener) error {
	log.Printf("grpc health listening addr=%s", listener.Addr())
	if err := s.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *HealthServer) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(listener)
}

// Shutdown marks every service NOT_SERVING and stops the server.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
