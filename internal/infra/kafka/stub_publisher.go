package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/logger"
)

// StubPublisher logs events instead of sending them. Selected when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) log(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now()
	}
	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.log(EventUserRegistered, event.UserID, event.RegisteredAt,
		zap.String("username", event.Username),
		zap.String("email", logger.MaskEmail(event.Email)),
	)
	return nil
}

func (p *StubPublisher) PublishEmailVerified(_ context.Context, event domain.EmailVerifiedEvent) error {
	p.log(EventEmailVerified, event.UserID, event.VerifiedAt)
	return nil
}

func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.log(EventPasswordChanged, event.UserID, event.ChangedAt, zap.String("changed_by", event.ChangedBy))
	return nil
}

func (p *StubPublisher) PublishTwoFactorChanged(_ context.Context, event domain.TwoFactorChangedEvent) error {
	p.log(EventTwoFactorChanged, event.UserID, event.ChangedAt, zap.Bool("enabled", event.Enabled))
	return nil
}

func (p *StubPublisher) PublishAccountDeleted(_ context.Context, event domain.AccountDeletedEvent) error {
	p.log(EventAccountDeleted, event.UserID, event.DeletedAt, zap.Int("sessions_revoked", event.SessionsRevoked))
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
