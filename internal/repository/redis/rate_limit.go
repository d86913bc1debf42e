package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marioluccio/sobreando/internal/core/port"
)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository persists rate-limit attempts in Redis sorted sets scored by
// the attempt time in milliseconds.
type RateLimitRepository struct {
	client redis.UniversalClient
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client redis.UniversalClient, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Hit trims the window, adds the attempt and counts it in one MULTI/EXEC, so
// concurrent callers are serialised by Redis and at most limit attempts are
// admitted per window. An attempt that lands over the limit is removed again;
// when that removal fails the returned result is still the decision.
func (r *RateLimitRepository) Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.SlidingWindowResult, error) {
	if window <= 0 {
		return port.SlidingWindowResult{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.SlidingWindowResult{}, errors.New("limit must be positive")
	}

	key := r.key(identifier)
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
	threshold := "(" + strconv.FormatInt(at.Add(-window).UnixMilli(), 10)
	ttl := r.cfg.TTL
	if ttl < window {
		ttl = window
	}

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", threshold)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return port.SlidingWindowResult{}, fmt.Errorf("redis rate limit hit: %w", err)
	}

	res := port.SlidingWindowResult{Count: int(card.Val()), Allowed: card.Val() <= int64(limit)}
	if first := oldest.Val(); len(first) > 0 {
		res.Oldest = time.UnixMilli(int64(first[0].Score))
		res.HasOldest = true
	}
	if res.Allowed {
		return res, nil
	}

	// Rejected attempts do not occupy the window.
	if err := r.client.ZRem(ctx, key, member).Err(); err != nil {
		return res, fmt.Errorf("redis rate limit rollback: %w", err)
	}
	res.Count = limit
	return res, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return r.cfg.KeyPrefix + ":" + identifier
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
