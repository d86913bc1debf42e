package port

import (
	"context"
	"time"
)

// SlidingWindowResult is the outcome of recording one attempt against a sliding window.
type SlidingWindowResult struct {
	Allowed bool
	// Count is the number of admitted attempts in the window, this one included when allowed.
	Count     int
	Oldest    time.Time
	HasOldest bool
}

// RateLimitStore checks and records an attempt atomically, so concurrent
// attempts cannot all pass the same check.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (SlidingWindowResult, error)
}

// ActionLimiter caps how often an identifier may perform an action inside a fixed window.
type ActionLimiter interface {
	Allow(ctx context.Context, action, identifier string, limit int, window time.Duration) (allowed bool, remaining int, retryAfter time.Duration, err error)
}

// TokenBlacklist records refresh token identifiers that must no longer be honoured.
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
