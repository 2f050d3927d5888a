package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-heal/internal/config"
)

// HealthService is the gRPC health service name whose status follows the
// heartbeat stream.
const HealthService = "mirador.heal.ReliabilityEngine"

// FreshnessFunc reports whether the service is alive.
type FreshnessFunc func(ctx context.Context) (bool, error)

// GRPCServer exposes the standard health service and reflection.
type GRPCServer struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewGRPCServer constructs a gRPC server bound to the configured address.
func NewGRPCServer(cfg config.ServerConfig, logger *slog.Logger, opts ...grpc.ServerOption) (*GRPCServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	grpc_prometheus.Register(grpcServer)
	reflection.Register(grpcServer)

	return &GRPCServer{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
		logger:     logger,
	}, nil
}

// Start serves incoming gRPC requests until Shutdown is invoked.
func (s *GRPCServer) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// WatchHeartbeat keeps HealthService in step with fresh every interval until
// ctx is done.
func (s *GRPCServer) WatchHeartbeat(ctx context.Context, interval time.Duration, fresh FreshnessFunc) {
	watchHealth(ctx, s.health, interval, fresh, s.logger)
}

func watchHealth(ctx context.Context, srv *health.Server, interval time.Duration, fresh FreshnessFunc, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		updateHealth(ctx, srv, fresh, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateHealth(ctx context.Context, srv *health.Server, fresh FreshnessFunc, logger *slog.Logger) {
	ok, err := fresh(ctx)
	if err != nil {
		logger.Warn("heartbeat freshness check failed", slog.Any("error", err))
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	srv.SetServingStatus(HealthService, status)
}

// Shutdown attempts a graceful shutdown, falling back to Stop after timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *GRPCServer) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *GRPCServer) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
