package redis

import (
	"context"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/marioluccio/sobreando/internal/infra/config"
)

func settingsFor(t *testing.T, mr *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return config.RedisSettings{Host: mr.Host(), Port: port}
}

func TestClientHealthCheckFollowsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), settingsFor(t, mr), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy redis, got %v", err)
	}
	if err := client.Client().Set(context.Background(), "sombreando:probe", "1", 0).Err(); err != nil {
		t.Fatalf("set through wrapped client: %v", err)
	}

	mr.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail once redis is gone")
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := settingsFor(t, mr)
	mr.Close()

	if _, err := NewClient(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected ping failure")
	}
}
