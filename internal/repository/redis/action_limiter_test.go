package redis

import (
	"context"
	"testing"
	"time"
)

func TestActionLimiter_FixedWindow(t *testing.T) {
	client, server := newTestRedis(t)
	limiter := NewActionLimiter(client)

	ctx := context.Background()
	window := time.Hour

	for i := 0; i < 5; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "2fa_code", "user-1", 5, window)
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if remaining != 5-(i+1) {
			t.Fatalf("call %d: expected remaining %d, got %d", i+1, 5-(i+1), remaining)
		}
	}

	allowed, _, retryAfter, err := limiter.Allow(ctx, "2fa_code", "user-1", 5, window)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatal("sixth call should be rejected")
	}
	if retryAfter <= 0 || retryAfter > window {
		t.Fatalf("unexpected retryAfter %v", retryAfter)
	}

	if !server.Exists("rate_limit:2fa_code:user-1") {
		t.Fatal("expected counter key rate_limit:2fa_code:user-1")
	}

	allowed, _, _, err = limiter.Allow(ctx, "2fa_code", "user-2", 5, window)
	if err != nil || !allowed {
		t.Fatalf("other identifiers must have their own counter: allowed=%v err=%v", allowed, err)
	}

	server.FastForward(window + time.Second)

	allowed, _, _, err = limiter.Allow(ctx, "2fa_code", "user-1", 5, window)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !allowed {
		t.Fatal("window rollover should reset the counter")
	}
}

func TestActionLimiter_InvalidArguments(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter := NewActionLimiter(client)

	if _, _, _, err := limiter.Allow(context.Background(), "", "id", 1, time.Minute); err == nil {
		t.Fatal("expected error for empty action")
	}
	if _, _, _, err := limiter.Allow(context.Background(), "a", "id", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
