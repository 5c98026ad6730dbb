// Copyright 2026 Fluxlog, Inc.

package rpcapi

import (
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/fluxlog/fluxlog/pkg/logger"
	"github.com/fluxlog/fluxlog/pkg/replication"
)

// GRPCServer manages the SPU service's gRPC lifecycle.
type GRPCServer struct {
	server       *grpc.Server
	listener     net.Listener
	apiServer    *Server
	logger       *logger.Logger
	healthServer *health.Server
}

// NewGRPCServer binds addr and registers the SPU service, the gRPC health
// service, and reflection.
func NewGRPCServer(addr string, registry *replication.Registry) (*GRPCServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(64 * 1024 * 1024), // replicated batches can be large
		grpc.MaxSendMsgSize(64 * 1024 * 1024),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             1 * time.Minute,
			PermitWithoutStream: true,
		}),
	}

	grpcServer := grpc.NewServer(opts...)

	apiServer := NewServer(registry)
	grpcServer.RegisterService(&spuServiceDesc, apiServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		server:       grpcServer,
		listener:     listener,
		apiServer:    apiServer,
		logger:       logger.Default().WithComponent("grpc-server"),
		healthServer: healthServer,
	}, nil
}

// Start serves until Stop is called. Blocking.
func (s *GRPCServer) Start() error {
	s.logger.Info("starting gRPC server", "addr", s.listener.Addr().String())

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, falling back to a hard stop after 30s.
func (s *GRPCServer) Stop() {
	s.logger.Info("stopping gRPC server")

	s.healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("graceful stop timeout, forcing stop")
		s.server.Stop()
	}
}

// Addr returns the server's listening address.
func (s *GRPCServer) Addr() net.Addr {
	return s.listener.Addr()
}

// API exposes the underlying service implementation for in-process use
// (the admin API reads stored offsets through it).
func (s *GRPCServer) API() *Server {
	return s.apiServer
}
