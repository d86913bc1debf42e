package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/logger"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/repository"
)

// LoginOutcome tags how a login call ended when it did not fail.
type LoginOutcome string

const (
	LoginAuthenticated     LoginOutcome = "authenticated"
	LoginTwoFactorRequired LoginOutcome = "two_factor_required"
)

// Login outcome labels used for metrics and the audit trail.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeTwoFactor   = "two_factor_required"
	outcomeUnverified  = "unverified"
	outcomeDisabled    = "disabled"
	reasonTwoFactorReq = "two factor code required"
	reasonValidation   = "validation failed"
	reasonInternal     = "internal error"
)

// Column widths of auth.login_attempts.
const (
	attemptEmailMax  = 254
	attemptIPMax     = 45
	attemptReasonMax = 100
)

// loginFailureReasons are recorded verbatim; anything else is an internal error.
var loginFailureReasons = []error{
	ErrInvalidCredentials,
	ErrEmailNotVerified,
	ErrAccountDisabled,
	ErrInvalidOrExpiredCode,
}

// unknownUserPassword is hashed once and verified against when the email has no account.
const unknownUserPassword = "sombreando:no-such-account"

// LoginInput carries the credentials and request metadata of a login call.
type LoginInput struct {
	Email     string
	Password  string
	Code      string
	IP        string
	UserAgent string
	Country   string
	City      string
}

// TwoFactorChallenge is returned when a login code was emailed instead of tokens.
type TwoFactorChallenge struct {
	ExpiresAt time.Time
	Delivered bool
}

// LoginResult is either an authenticated session or a pending 2FA challenge.
type LoginResult struct {
	Outcome   LoginOutcome
	User      domain.User
	Tokens    security.TokenPair
	Challenge *TwoFactorChallenge
}

// RefreshResult is a freshly minted access token.
type RefreshResult struct {
	Access    string
	ExpiresAt time.Time
}

// AuthService coordinates authentication flows.
type AuthService struct {
	users        port.UserRepository
	attempts     port.LoginAttemptRepository
	sessions     port.SessionRepository
	verification *VerificationService
	hasher       *security.PasswordHasher
	tokens       *security.JWTManager
	blacklist    port.TokenBlacklist
	logger       *zap.Logger
	metrics      Metrics
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users port.UserRepository,
	attempts port.LoginAttemptRepository,
	sessions port.SessionRepository,
	verification *VerificationService,
	hasher *security.PasswordHasher,
	tokens *security.JWTManager,
	blacklist port.TokenBlacklist,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:        users,
		attempts:     attempts,
		sessions:     sessions,
		verification: verification,
		hasher:       hasher,
		tokens:       tokens,
		blacklist:    blacklist,
		logger:       logger,
		metrics:      nopMetrics{},
		now:          time.Now,
	}
}

func (s *AuthService) WithNow(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *AuthService) WithMetrics(m Metrics) *AuthService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Login checks credentials, verification and activity in that order, runs the
// emailed 2FA challenge when enabled, and mints a token pair on success. Every
// call leaves a LoginAttempt row behind.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.Email = normalizeEmail(in.Email)

	result, err := s.login(ctx, in)

	attempt := domain.LoginAttempt{
		ID:        uuid.NewString(),
		Email:     clampRunes(in.Email, attemptEmailMax),
		IPAddress: clampRunes(in.IP, attemptIPMax),
		UserAgent: in.UserAgent,
		Success:   err == nil && result.Outcome == LoginAuthenticated,
		Timestamp: s.now().UTC(),
		Country:   in.Country,
		City:      in.City,
	}
	switch {
	case err != nil:
		attempt.FailureReason = loginFailureReason(err)
	case result.Outcome == LoginTwoFactorRequired:
		attempt.FailureReason = reasonTwoFactorReq
	}
	if recErr := s.attempts.Create(ctx, attempt); recErr != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(recErr), zap.String("email", logger.MaskEmail(in.Email)))
	}

	s.metrics.LoginAttempt(loginOutcomeLabel(result, err))
	return result, err
}

// verifyDummyPassword spends the same Argon2 work as a real check so an unknown
// email answers as slowly as a wrong password.
func (s *AuthService) verifyDummyPassword(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(unknownUserPassword)
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(password, s.dummyHash)
}

func loginFailureReason(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return reasonValidation
	}
	for _, known := range loginFailureReasons {
		if errors.Is(err, known) {
			return clampRunes(known.Error(), attemptReasonMax)
		}
	}
	return reasonInternal
}

func clampRunes(v string, limit int) string {
	if utf8.RuneCountInString(v) <= limit {
		return v
	}
	return string([]rune(v)[:limit])
}

func (s *AuthService) login(ctx context.Context, in LoginInput) (LoginResult, error) {
	verr := NewValidationError()
	requireField(verr, "email", in.Email)
	requireField(verr, "password", in.Password)
	if err := verr.OrNil(); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.verifyDummyPassword(in.Password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		if errors.Is(err, security.ErrInvalidHashFormat) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.IsVerified {
		return LoginResult{}, ErrEmailNotVerified
	}
	if !user.IsActive {
		return LoginResult{}, ErrAccountDisabled
	}

	if user.Is2FAEnabled {
		code := strings.TrimSpace(in.Code)
		if code == "" {
			issued, err := s.verification.Issue(ctx, *user, domain.PurposeLogin2FA)
			if err != nil {
				return LoginResult{}, fmt.Errorf("issue login code: %w", err)
			}
			return LoginResult{
				Outcome:   LoginTwoFactorRequired,
				User:      user.Sanitized(),
				Challenge: &TwoFactorChallenge{ExpiresAt: issued.ExpiresAt, Delivered: issued.Delivered},
			}, nil
		}
		if err := s.verification.Consume(ctx, user.ID, code, domain.PurposeLogin2FA); err != nil {
			return LoginResult{}, err
		}
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, in.IP, now); err != nil {
		return LoginResult{}, fmt.Errorf("update last login: %w", err)
	}
	user.LastLogin = &now
	if in.IP != "" {
		ip := in.IP
		user.LastLoginIP = &ip
	}

	session := domain.UserSession{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		SessionKey:   pair.RefreshJTI,
		IPAddress:    in.IP,
		UserAgent:    in.UserAgent,
		DeviceInfo:   domain.ParseDeviceInfo(in.UserAgent),
		IsActive:     true,
		CreatedAt:    now,
		LastActivity: now,
		Country:      in.Country,
		City:         in.City,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("ip", logger.MaskIP(in.IP)),
	)

	return LoginResult{Outcome: LoginAuthenticated, User: user.Sanitized(), Tokens: pair}, nil
}

// Refresh mints a new access token from a refresh token whose session is still open.
func (s *AuthService) Refresh(ctx context.Context, raw string) (RefreshResult, error) {
	claims, err := s.parse(raw, security.TokenTypeRefresh)
	if err != nil {
		return RefreshResult{}, err
	}

	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return RefreshResult{}, ErrInvalidToken
	}

	now := s.now().UTC()
	session, err := s.sessions.GetByKey(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrSessionInactive
		}
		return RefreshResult{}, fmt.Errorf("lookup session: %w", err)
	}
	if !session.IsActive || session.IsExpired(now) {
		return RefreshResult{}, ErrSessionInactive
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, ErrInvalidToken
		}
		return RefreshResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return RefreshResult{}, ErrAccountDisabled
	}

	if err := s.sessions.Touch(ctx, claims.ID, now); err != nil {
		s.logger.Warn("failed to touch session", zap.Error(err), zap.String("user_id", user.ID))
	}

	access, expiresAt, err := s.tokens.IssueAccess(user.ID, claims.ID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
	}
	return RefreshResult{Access: access, ExpiresAt: expiresAt}, nil
}

// Logout blacklists the caller's refresh token for the rest of its lifetime and
// closes its session. An empty token is a no-op.
func (s *AuthService) Logout(ctx context.Context, userID, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	claims, err := s.parse(raw, security.TokenTypeRefresh)
	if err != nil {
		return err
	}
	if claims.UserID != userID {
		return ErrInvalidToken
	}

	ttl := time.Duration(0)
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.now())
	}
	if err := s.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("blacklist refresh token: %w", err)
	}

	if err := s.sessions.Deactivate(ctx, claims.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deactivate session: %w", err)
	}

	s.logger.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// ParseAccessToken validates an access token and rejects it once its session was logged out.
func (s *AuthService) ParseAccessToken(ctx context.Context, raw string) (*security.TokenClaims, error) {
	claims, err := s.parse(raw, security.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != "" {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("check blacklist: %w", err)
		}
		if revoked {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

func (s *AuthService) parse(raw, tokenType string) (*security.TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims, err := s.tokens.ParseToken(raw, tokenType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func loginOutcomeLabel(result LoginResult, err error) string {
	switch {
	case err == nil && result.Outcome == LoginTwoFactorRequired:
		return outcomeTwoFactor
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrEmailNotVerified):
		return outcomeUnverified
	case errors.Is(err, ErrAccountDisabled):
		return outcomeDisabled
	}
	return outcomeFailure
}
