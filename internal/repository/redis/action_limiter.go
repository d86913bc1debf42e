package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marioluccio/sobreando/internal/core/port"
)

const actionKeyPrefix = "rate_limit"

// ActionLimiter is a fixed-window counter keyed by rate_limit:{action}:{identifier}.
// The first hit in a window sets the expiry; the window closes when the key expires.
type ActionLimiter struct {
	client redis.UniversalClient
}

// NewActionLimiter wires the limiter to Redis.
func NewActionLimiter(client redis.UniversalClient) *ActionLimiter {
	return &ActionLimiter{client: client}
}

// Allow counts the call and reports whether it fits under limit.
func (l *ActionLimiter) Allow(ctx context.Context, action, identifier string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	if limit <= 0 || window <= 0 {
		return false, 0, 0, errors.New("limit and window must be positive")
	}
	if strings.TrimSpace(action) == "" || strings.TrimSpace(identifier) == "" {
		return false, 0, 0, errors.New("action and identifier are required")
	}

	key := fmt.Sprintf("%s:%s:%s", actionKeyPrefix, action, identifier)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis incr action counter: %w", err)
	}

	retryAfter, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis pttl action counter: %w", err)
	}
	// A counter without expiry would never roll over.
	if count == 1 || retryAfter < 0 {
		if err := l.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("redis expire action counter: %w", err)
		}
		retryAfter = window
	}

	if int(count) > limit {
		return false, 0, retryAfter, nil
	}
	return true, limit - int(count), 0, nil
}

var _ port.ActionLimiter = (*ActionLimiter)(nil)
