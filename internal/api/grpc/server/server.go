// Package server hosts the operational gRPC surface: the standard health
// service and reflection. Auth traffic does not flow through it; adjacent
// platform services call the service layer directly.
package server

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/arenalab/authcore/internal/api/grpc/middleware"
	"github.com/arenalab/authcore/internal/logger"
	"github.com/arenalab/authcore/internal/model"
)

var _ model.Server = (*OpsServer)(nil)

// OpsServer wraps a gRPC server with address and lifecycle methods.
type OpsServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
}

// New builds the operational server with logging and panic-recovery
// interceptors, registering health and reflection services.
func New(addr string, log *logger.Logger) *OpsServer {
	recoverOpt := recovery.WithRecoveryHandler(func(p any) error {
		log.Error("recovered from panic in gRPC handler", "panic", p)
		return status.Errorf(codes.Internal, "internal server error")
	})

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.NewLogging(log).HandleGRPC,
		recovery.UnaryServerInterceptor(recoverOpt),
	))

	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)

	return &OpsServer{server: s, health: h, addr: addr}
}

// Start starts serving on the configured address using the provided security layer.
func (s *OpsServer) Start(securityLayer model.SecurityLayer) error {
	listener, err := securityLayer.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.SetServing(true)
	return s.server.Serve(listener)
}

// Stop gracefully stops the server.
func (s *OpsServer) Stop(_ context.Context) error {
	s.SetServing(false)
	s.server.GracefulStop()
	return nil
}

// Address returns the configured listen address.
func (s *OpsServer) Address() string {
	return s.addr
}

// SetServing flips the health service between SERVING and NOT_SERVING.
func (s *OpsServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}
