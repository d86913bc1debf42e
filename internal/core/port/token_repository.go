package port

import (
	"context"
	"time"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// VerificationTokenRepository persists one-time verification codes.
type VerificationTokenRepository interface {
	Create(ctx context.Context, token domain.VerificationToken) error
	DeleteUnused(ctx context.Context, userID string, purpose domain.TokenPurpose) (int64, error)
	FindActive(ctx context.Context, userID, codeHash string, purpose domain.TokenPurpose) (*domain.VerificationToken, error)
	IncrementAttempts(ctx context.Context, userID string, purpose domain.TokenPurpose) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
	LatestCreatedAt(ctx context.Context, userID string, purpose domain.TokenPurpose) (time.Time, bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
