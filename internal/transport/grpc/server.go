package transportgrpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/marioluccio/sobreando/internal/transport/grpc/interceptors"
)

const (
	// ServiceName is the health service name reported alongside the overall "" entry.
	ServiceName         = "sombreando.auth"
	defaultCheckTimeout = 2 * time.Second
	defaultInterval     = 15 * time.Second
)

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ServerDependencies encapsulates what the gRPC server layer needs.
type ServerDependencies struct {
	Logger       *zap.Logger
	Metrics      *grpcinterceptors.GRPCMetrics
	Checks       []HealthCheck
	CheckTimeout time.Duration
}

// Server exposes the standard health service and reflection. Serving status follows
// the dependency checks.
type Server struct {
	grpc         *grpc.Server
	health       *health.Server
	checks       []HealthCheck
	checkTimeout time.Duration
	logger       *zap.Logger
}

// NewServer builds the gRPC server with otel stats and Prometheus interceptors.
// Status starts as NOT_SERVING until the first RefreshHealth.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return &Server{
		grpc:         server,
		health:       healthServer,
		checks:       deps.Checks,
		checkTimeout: timeout,
		logger:       logger,
	}
}

// Serve blocks accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// RefreshHealth runs every check and publishes SERVING only when all pass.
func (s *Server) RefreshHealth(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	for _, hc := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		err := hc.Check(checkCtx)
		cancel()
		if err != nil {
			s.logger.Warn("grpc health check failed", zap.String("check", hc.Name), zap.Error(err))
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// WatchHealth refreshes the serving status every interval until ctx ends.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	s.RefreshHealth(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshHealth(ctx)
		}
	}
}

// GracefulStop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
