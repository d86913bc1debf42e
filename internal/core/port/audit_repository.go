package port

import (
	"context"
	"time"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// LoginAttemptRepository appends and reads the login audit trail.
type LoginAttemptRepository interface {
	Create(ctx context.Context, attempt domain.LoginAttempt) error
	CountByEmail(ctx context.Context, email string) (int, error)
	CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error)
	ListRecentByEmail(ctx context.Context, email string, limit int) ([]domain.LoginAttempt, error)
}

// SessionRepository persists device sessions bound to refresh tokens.
type SessionRepository interface {
	Create(ctx context.Context, session domain.UserSession) error
	GetByKey(ctx context.Context, sessionKey string) (*domain.UserSession, error)
	Touch(ctx context.Context, sessionKey string, at time.Time) error
	Deactivate(ctx context.Context, sessionKey string) error
	DeactivateAllForUser(ctx context.Context, userID string) (int64, error)
}
