package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
	"github.com/marioluccio/sobreando/internal/infra/logger"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/repository"
)

const (
	defaultCodeLength = 6
	defaultCodeTTL    = 24 * time.Hour
)

var mailSubjects = map[domain.TokenPurpose]string{
	domain.PurposeEmailVerification: "Verificação de Email - Sombreando",
	domain.PurposePasswordReset:     "Reset de Senha - Sombreando",
	domain.PurposeLogin2FA:          "Código de Verificação - Sombreando",
	domain.PurposeAccountChange:     "Verificação de Mudança de Conta - Sombreando",
}

const mailBodyTemplate = `Olá %s,

Seu código de verificação é: %s

Este código expira em %s.

Se você não solicitou este código, ignore este email.

Atenciosamente,
Equipe Sombreando
`

// Metrics receives counters from the account flows. *telemetry.Metrics satisfies it.
type Metrics interface {
	LoginAttempt(outcome string)
	CodeIssued(purpose string)
	MailSent(ok bool)
	Throttled(scope string)
	Registered()
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string) {}
func (nopMetrics) CodeIssued(string)   {}
func (nopMetrics) MailSent(bool)       {}
func (nopMetrics) Throttled(string)    {}
func (nopMetrics) Registered()         {}

// IssuedCode describes a code that was just stored and mailed.
type IssuedCode struct {
	Purpose   domain.TokenPurpose
	ExpiresAt time.Time
	Delivered bool
}

// VerificationService issues and consumes emailed one-time codes.
type VerificationService struct {
	tokens     port.VerificationTokenRepository
	mailer     port.Mailer
	logger     *zap.Logger
	metrics    Metrics
	now        func() time.Time
	codeLength int
	ttl        time.Duration
}

// NewVerificationService constructs a verification service.
func NewVerificationService(tokens port.VerificationTokenRepository, mailer port.Mailer, cfg config.VerificationSettings, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	codeLength := cfg.CodeLength
	if codeLength <= 0 {
		codeLength = defaultCodeLength
	}
	ttl := cfg.CodeTTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &VerificationService{
		tokens:     tokens,
		mailer:     mailer,
		logger:     logger,
		metrics:    nopMetrics{},
		now:        time.Now,
		codeLength: codeLength,
		ttl:        ttl,
	}
}

// WithNow overrides the clock.
func (s *VerificationService) WithNow(now func() time.Time) *VerificationService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithMetrics attaches a metrics sink.
func (s *VerificationService) WithMetrics(m Metrics) *VerificationService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Issue replaces any unused code for (user, purpose) with a fresh one and emails it.
// A delivery failure is logged and reported through Delivered, never returned.
func (s *VerificationService) Issue(ctx context.Context, user domain.User, purpose domain.TokenPurpose) (IssuedCode, error) {
	if !purpose.Valid() {
		return IssuedCode{}, fmt.Errorf("unknown token purpose %q", purpose)
	}

	if _, err := s.tokens.DeleteUnused(ctx, user.ID, purpose); err != nil {
		return IssuedCode{}, fmt.Errorf("purge unused tokens: %w", err)
	}

	code, err := security.GenerateNumericCode(s.codeLength)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("generate code: %w", err)
	}

	now := s.now().UTC()
	token := domain.VerificationToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CodeHash:  security.HashToken(code),
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return IssuedCode{}, fmt.Errorf("store verification token: %w", err)
	}
	s.metrics.CodeIssued(string(purpose))

	issued := IssuedCode{Purpose: purpose, ExpiresAt: token.ExpiresAt}
	msg := port.MailMessage{
		To:      user.Email,
		Subject: mailSubjects[purpose],
		Body:    s.renderBody(user, code),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("verification email not delivered",
			zap.Error(err),
			zap.String("purpose", string(purpose)),
			zap.String("email", logger.MaskEmail(user.Email)),
		)
		s.metrics.MailSent(false)
		return issued, nil
	}
	s.metrics.MailSent(true)
	issued.Delivered = true
	return issued, nil
}

// Consume redeems a code. A miss counts against the active code for (user, purpose).
func (s *VerificationService) Consume(ctx context.Context, userID, code string, purpose domain.TokenPurpose) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidOrExpiredCode
	}

	token, err := s.tokens.FindActive(ctx, userID, security.HashToken(code), purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if incErr := s.tokens.IncrementAttempts(ctx, userID, purpose); incErr != nil {
				s.logger.Warn("failed to record code attempt", zap.Error(incErr), zap.String("user_id", userID))
			}
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("lookup verification token: %w", err)
	}

	now := s.now().UTC()
	if !token.IsValid(now) {
		return ErrInvalidOrExpiredCode
	}

	if err := s.tokens.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("mark token used: %w", err)
	}
	return nil
}

// LastIssuedAt reports when the most recent code for (user, purpose) was created.
func (s *VerificationService) LastIssuedAt(ctx context.Context, userID string, purpose domain.TokenPurpose) (time.Time, bool, error) {
	at, ok, err := s.tokens.LatestCreatedAt(ctx, userID, purpose)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lookup latest token: %w", err)
	}
	return at, ok, nil
}

// CleanupExpired deletes every token past its expiry and returns how many went.
func (s *VerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	if removed > 0 {
		s.logger.Info("expired verification tokens removed", zap.Int64("count", removed))
	}
	return removed, nil
}

func (s *VerificationService) renderBody(user domain.User, code string) string {
	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	return fmt.Sprintf(mailBodyTemplate, name, code, humanizeTTL(s.ttl))
}

func humanizeTTL(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d horas", h)
		}
		return "1 hora"
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutos", int(d/time.Minute))
	}
	return d.String()
}
