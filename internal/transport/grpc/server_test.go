package transportgrpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	grpcinterceptors "github.com/marioluccio/sobreando/internal/transport/grpc/interceptors"
)

func startServer(t *testing.T, deps ServerDependencies) (*Server, grpc_health_v1.HealthClient) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(deps)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.GracefulStop()
	})
	return srv, grpc_health_v1.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestServerHealthFollowsChecks(t *testing.T) {
	var failing atomic.Bool
	registry := prometheus.NewRegistry()
	metrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	srv, client := startServer(t, ServerDependencies{
		Metrics: metrics,
		Checks: []HealthCheck{
			{Name: "database", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error {
				if failing.Load() {
					return errors.New("connection refused")
				}
				return nil
			}},
		},
	})

	if got := checkStatus(t, client, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first refresh, got %s", got)
	}

	if got := srv.RefreshHealth(context.Background()); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", got)
	}
	if got := checkStatus(t, client, ServiceName); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING for %s, got %s", ServiceName, got)
	}

	failing.Store(true)
	srv.RefreshHealth(context.Background())
	if got := checkStatus(t, client, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after failing check, got %s", got)
	}

	n, err := testutil.GatherAndCount(registry, "sombreando_grpc_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected health calls to be counted")
	}
}

func TestWatchHealthStopsWithContext(t *testing.T) {
	var calls atomic.Int32
	srv := NewServer(ServerDependencies{
		Checks: []HealthCheck{{Name: "database", Check: func(context.Context) error {
			calls.Add(1)
			return nil
		}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.WatchHealth(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated checks, got %d", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WatchHealth did not return after cancel")
	}
}
