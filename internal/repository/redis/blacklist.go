package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/marioluccio/sobreando/internal/core/port"
)

const defaultBlacklistPrefix = "auth:refresh_blacklist"

// TokenBlacklist stores revoked refresh token JTIs until their natural expiry.
type TokenBlacklist struct {
	client red.UniversalClient
	prefix string
}

// NewTokenBlacklist wires a Redis client into a refresh token blacklist.
func NewTokenBlacklist(client red.UniversalClient, keyPrefix string) *TokenBlacklist {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultBlacklistPrefix
	}
	return &TokenBlacklist{client: client, prefix: prefix}
}

// Revoke blacklists the JTI for ttl. Tokens that already expired need no entry.
func (b *TokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	key := b.key(jti)
	if key == "" {
		return errors.New("jti must not be empty")
	}
	if ttl <= 0 {
		return nil
	}

	if err := b.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklisted jti: %w", err)
	}
	return nil
}

// IsRevoked reports whether the JTI was blacklisted.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	key := b.key(jti)
	if key == "" {
		return false, errors.New("jti must not be empty")
	}

	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis check blacklisted jti: %w", err)
	}
	return n > 0, nil
}

func (b *TokenBlacklist) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return b.prefix + ":" + trimmed
}

var _ port.TokenBlacklist = (*TokenBlacklist)(nil)
