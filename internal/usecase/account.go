package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/logger"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/repository"
)

const (
	securityLogLimit       = 50
	defaultMaxAvatarBytes  = 5 << 20
	defaultResendCooldown  = 5 * time.Minute
	defaultActionLimit     = 5
	defaultActionWindow    = time.Hour
	defaultDeletedDomain   = "sombreando.com"
	actionAccountChange    = "account_change"
	actionPasswordReset    = "password_reset"
	scopeEmailResend       = "email_resend"
	msgWrongPassword       = "Current password is incorrect."
	msgSamePassword        = "New password must differ from the current one."
	msgTooLong             = "Ensure this field has at most %d characters."
	msgInvalidURL          = "Enter a valid URL."
	msgInvalidLanguage     = "Unsupported language."
	msgInvalidTimezone     = "Unknown timezone."
	msgInvalidVisibility   = "Invalid choice."
	msgBirthDateFuture     = "Birth date cannot be in the future."
	msgBlank               = "This field may not be blank."
	passwordChangedByUser  = "user"
	passwordChangedByReset = "password_reset"
	avatarSniffLength      = 512
	avatarKeyPrefix        = "avatars"
	avatarKeyBytes         = 12
	deletedAccountPrefix   = "deleted_"
)

var avatarExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// AccountSettings carries the tunables of the account flows.
type AccountSettings struct {
	DeletedEmailDomain string
	ResendCooldown     time.Duration
	MaxAvatarBytes     int64
	ActionLimit        int
	ActionWindow       time.Duration
}

func (c AccountSettings) withDefaults() AccountSettings {
	if c.DeletedEmailDomain == "" {
		c.DeletedEmailDomain = defaultDeletedDomain
	}
	if c.ResendCooldown <= 0 {
		c.ResendCooldown = defaultResendCooldown
	}
	if c.MaxAvatarBytes <= 0 {
		c.MaxAvatarBytes = defaultMaxAvatarBytes
	}
	if c.ActionLimit <= 0 {
		c.ActionLimit = defaultActionLimit
	}
	if c.ActionWindow <= 0 {
		c.ActionWindow = defaultActionWindow
	}
	return c
}

// ProfileView is the owner's view of an account.
type ProfileView struct {
	User    domain.User
	Profile *domain.UserProfile
}

// ProfilePatch carries the writable account fields. Nil fields are left unchanged.
type ProfilePatch struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	CompanyName *string
	Profile     port.ProfileUpdate
}

// AvatarUpload is a single uploaded image.
type AvatarUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ChangePasswordInput is the authenticated password change form.
type ChangePasswordInput struct {
	OldPassword        string
	NewPassword        string
	NewPasswordConfirm string
}

// ResetPasswordInput completes a password reset with the emailed code.
type ResetPasswordInput struct {
	Email              string
	Code               string
	NewPassword        string
	NewPasswordConfirm string
}

// ToggleOutcome tags how a 2FA toggle call ended.
type ToggleOutcome string

const (
	ToggleApplied              ToggleOutcome = "applied"
	ToggleVerificationRequired ToggleOutcome = "verification_required"
)

// ToggleResult reports the 2FA state after a toggle call.
type ToggleResult struct {
	Outcome   ToggleOutcome
	Enabled   bool
	ExpiresAt time.Time
	Delivered bool
}

// AccountService implements the self-service account operations.
type AccountService struct {
	users        port.UserRepository
	profiles     port.ProfileRepository
	tx           port.Transactor
	attempts     port.LoginAttemptRepository
	sessions     port.SessionRepository
	verification *VerificationService
	hasher       *security.PasswordHasher
	policy       *security.PasswordPolicy
	avatars      port.AvatarStorage
	limiter      port.ActionLimiter
	events       port.EventPublisher
	cfg          AccountSettings
	logger       *zap.Logger
	metrics      Metrics
	now          func() time.Time
}

// NewAccountService constructs an AccountService.
func NewAccountService(
	users port.UserRepository,
	profiles port.ProfileRepository,
	tx port.Transactor,
	attempts port.LoginAttemptRepository,
	sessions port.SessionRepository,
	verification *VerificationService,
	hasher *security.PasswordHasher,
	policy *security.PasswordPolicy,
	avatars port.AvatarStorage,
	limiter port.ActionLimiter,
	events port.EventPublisher,
	cfg AccountSettings,
	logger *zap.Logger,
) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = security.NewPasswordPolicy(security.DefaultMinPasswordLength, security.DefaultMinZxcvbnScore)
	}
	return &AccountService{
		users:        users,
		profiles:     profiles,
		tx:           tx,
		attempts:     attempts,
		sessions:     sessions,
		verification: verification,
		hasher:       hasher,
		policy:       policy,
		avatars:      avatars,
		limiter:      limiter,
		events:       events,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		metrics:      nopMetrics{},
		now:          time.Now,
	}
}

func (s *AccountService) WithNow(now func() time.Time) *AccountService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *AccountService) WithMetrics(m Metrics) *AccountService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Profile returns the account and its profile preferences.
func (s *AccountService) Profile(ctx context.Context, userID string) (ProfileView, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	view := ProfileView{User: user.Sanitized()}

	profile, err := s.profiles.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		view.Profile = profile
	case !errors.Is(err, repository.ErrNotFound):
		return ProfileView{}, fmt.Errorf("lookup profile: %w", err)
	}
	return view, nil
}

// UpdateProfile applies a partial update. Email, username and verification state are read-only.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (ProfileView, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return ProfileView{}, err
	}

	patch = trimPatch(patch)
	if err := s.validatePatch(patch).OrNil(); err != nil {
		return ProfileView{}, err
	}

	now := s.now().UTC()
	userUpdate := port.UserUpdate{
		FirstName:   patch.FirstName,
		LastName:    patch.LastName,
		Phone:       patch.Phone,
		CompanyName: patch.CompanyName,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, users port.UserRepository, profiles port.ProfileRepository) error {
		if userUpdate != (port.UserUpdate{}) {
			if err := users.Update(ctx, userID, userUpdate, now); err != nil {
				return fmt.Errorf("update user: %w", err)
			}
		}
		if patch.Profile == (port.ProfileUpdate{}) {
			return nil
		}
		if _, err := profiles.GetByUserID(ctx, userID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("lookup profile: %w", err)
			}
			if err := profiles.Create(ctx, domain.NewDefaultProfile(userID, now)); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
		}
		if err := profiles.Update(ctx, userID, patch.Profile, now); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return ProfileView{}, err
	}
	if patch.Phone != nil {
		s.logger.Info("contact phone changed", zap.String("user_id", userID), zap.String("phone", logger.MaskPhone(*patch.Phone)))
	}

	return s.Profile(ctx, userID)
}

func (s *AccountService) validatePatch(patch ProfilePatch) *ValidationError {
	verr := NewValidationError()
	checkName := func(field string, v *string) {
		if v == nil {
			return
		}
		switch {
		case *v == "":
			verr.Add(field, msgBlank)
		case len([]rune(*v)) > maxNameLength:
			verr.Add(field, fmt.Sprintf(msgTooLong, maxNameLength))
		}
	}
	checkName("first_name", patch.FirstName)
	checkName("last_name", patch.LastName)

	if patch.Phone != nil && len(*patch.Phone) > 20 {
		verr.Add("phone", fmt.Sprintf(msgTooLong, 20))
	}
	if patch.CompanyName != nil && len([]rune(*patch.CompanyName)) > 200 {
		verr.Add("company_name", fmt.Sprintf(msgTooLong, 200))
	}

	p := patch.Profile
	if p.Bio != nil && len([]rune(*p.Bio)) > domain.MaxBioLength {
		verr.Add("bio", fmt.Sprintf(msgTooLong, domain.MaxBioLength))
	}
	if p.Location != nil && len([]rune(*p.Location)) > domain.MaxLocationLength {
		verr.Add("location", fmt.Sprintf(msgTooLong, domain.MaxLocationLength))
	}
	if p.Website != nil && *p.Website != "" && !validWebsite(*p.Website) {
		verr.Add("website", msgInvalidURL)
	}
	if p.Language != nil && !domain.IsSupportedLanguage(*p.Language) {
		verr.Add("language", msgInvalidLanguage)
	}
	if p.Timezone != nil {
		if _, err := time.LoadLocation(*p.Timezone); err != nil || *p.Timezone == "" {
			verr.Add("timezone", msgInvalidTimezone)
		}
	}
	if p.Visibility != nil && !p.Visibility.Valid() {
		verr.Add("profile_visibility", msgInvalidVisibility)
	}
	if p.BirthDate != nil && p.BirthDate.After(s.now()) {
		verr.Add("birth_date", msgBirthDateFuture)
	}
	return verr
}

// UploadAvatar stores a JPEG, PNG or GIF of at most MaxAvatarBytes and points the
// account at its URL. The declared content type must agree with the sniffed one.
func (s *AccountService) UploadAvatar(ctx context.Context, userID string, upload AvatarUpload) (domain.User, error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return domain.User{}, err
	}
	if upload.Size > s.cfg.MaxAvatarBytes {
		return domain.User{}, ErrAvatarTooLarge
	}

	declared := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	ext, ok := avatarExtensions[declared]
	if !ok || upload.Body == nil {
		return domain.User{}, ErrInvalidAvatar
	}

	head := make([]byte, avatarSniffLength)
	n, err := io.ReadFull(upload.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return domain.User{}, fmt.Errorf("read avatar: %w", err)
	}
	head = head[:n]
	if http.DetectContentType(head) != declared {
		return domain.User{}, ErrInvalidAvatar
	}

	// Guard against a body longer than the declared size.
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), upload.Body), s.cfg.MaxAvatarBytes+1)
	suffix, err := security.GenerateSecureToken(avatarKeyBytes)
	if err != nil {
		return domain.User{}, fmt.Errorf("avatar key: %w", err)
	}
	key := fmt.Sprintf("%s/%s/%s%s", avatarKeyPrefix, userID, suffix, ext)

	publicURL, err := s.avatars.Save(ctx, key, declared, body, upload.Size)
	if err != nil {
		return domain.User{}, fmt.Errorf("store avatar: %w", err)
	}
	if err := s.users.UpdateAvatar(ctx, userID, publicURL, s.now().UTC()); err != nil {
		return domain.User{}, fmt.Errorf("update avatar: %w", err)
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return user.Sanitized(), nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	verr := NewValidationError()
	requireField(verr, "old_password", in.OldPassword)
	requireField(verr, "new_password", in.NewPassword)
	requireField(verr, "new_password_confirm", in.NewPasswordConfirm)
	if err := verr.OrNil(); err != nil {
		return err
	}

	ok, err := s.hasher.Verify(in.OldPassword, user.PasswordHash)
	if err != nil && !errors.Is(err, security.ErrInvalidHashFormat) {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		verr.Add("old_password", msgWrongPassword)
		return verr
	}

	s.checkNewPassword(verr, user, in.NewPassword, in.NewPasswordConfirm)
	if in.NewPassword == in.OldPassword {
		verr.Add("new_password", msgSamePassword)
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if err := s.setPassword(ctx, user, in.NewPassword, passwordChangedByUser); err != nil {
		return err
	}
	return nil
}

// RequestPasswordReset emails a reset code. Unknown or inactive emails succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		verr := NewValidationError()
		verr.Add("email", msgRequired)
		return verr
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	if err := s.allowAction(ctx, actionPasswordReset, user.ID); err != nil {
		return err
	}
	if _, err := s.verification.Issue(ctx, *user, domain.PurposePasswordReset); err != nil {
		return fmt.Errorf("issue reset code: %w", err)
	}
	return nil
}

// ResetPassword sets a new password with an emailed reset code and closes every session.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Email = normalizeEmail(in.Email)

	verr := NewValidationError()
	requireField(verr, "email", in.Email)
	requireField(verr, "code", strings.TrimSpace(in.Code))
	requireField(verr, "new_password", in.NewPassword)
	requireField(verr, "new_password_confirm", in.NewPasswordConfirm)
	if err := verr.OrNil(); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return ErrAccountDisabled
	}

	s.checkNewPassword(verr, user, in.NewPassword, in.NewPasswordConfirm)
	if err := verr.OrNil(); err != nil {
		return err
	}

	if err := s.verification.Consume(ctx, user.ID, in.Code, domain.PurposePasswordReset); err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, in.NewPassword, passwordChangedByReset); err != nil {
		return err
	}
	if _, err := s.sessions.DeactivateAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to close sessions after reset", zap.Error(err), zap.String("user_id", user.ID))
	}
	return nil
}

func (s *AccountService) checkNewPassword(verr *ValidationError, user *domain.User, password, confirm string) {
	if password != confirm {
		verr.Add("new_password_confirm", msgPasswordMismatch)
	}
	for _, msg := range s.policy.ValidateAll(password, user.Email, user.Username, user.FirstName, user.LastName) {
		verr.Add("new_password", msg)
	}
}

func (s *AccountService) setPassword(ctx context.Context, user *domain.User, password, changedBy string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	event := domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    user.ID,
		ChangedAt: now,
		ChangedBy: changedBy,
	}
	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish password changed event", zap.Error(err), zap.String("user_id", user.ID))
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID), zap.String("changed_by", changedBy))
	return nil
}

// VerifyEmail redeems an email_verification code and marks the account verified.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (domain.User, error) {
	email = normalizeEmail(email)
	verr := NewValidationError()
	requireField(verr, "email", email)
	requireField(verr, "token", strings.TrimSpace(code))
	if err := verr.OrNil(); err != nil {
		return domain.User{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrInvalidOrExpiredCode
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsVerified {
		return domain.User{}, ErrAlreadyVerified
	}

	if err := s.verification.Consume(ctx, user.ID, code, domain.PurposeEmailVerification); err != nil {
		return domain.User{}, err
	}

	now := s.now().UTC()
	if err := s.users.SetVerified(ctx, user.ID, true, now); err != nil {
		return domain.User{}, fmt.Errorf("mark verified: %w", err)
	}
	user.IsVerified = true
	user.UpdatedAt = now

	event := domain.EmailVerifiedEvent{
		EventID:    uuid.NewString(),
		UserID:     user.ID,
		Email:      user.Email,
		VerifiedAt: now,
	}
	if err := s.events.PublishEmailVerified(ctx, event); err != nil {
		s.logger.Warn("failed to publish email verified event", zap.Error(err), zap.String("user_id", user.ID))
	}
	return user.Sanitized(), nil
}

// ResendVerification emails a new verification code unless one went out within the cooldown.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (IssuedCode, error) {
	email = normalizeEmail(email)
	if email == "" {
		verr := NewValidationError()
		verr.Add("email", msgRequired)
		return IssuedCode{}, verr
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return IssuedCode{}, ErrUserNotFound
		}
		return IssuedCode{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.IsVerified {
		return IssuedCode{}, ErrAlreadyVerified
	}

	last, ok, err := s.verification.LastIssuedAt(ctx, user.ID, domain.PurposeEmailVerification)
	if err != nil {
		return IssuedCode{}, err
	}
	if ok {
		if elapsed := s.now().Sub(last); elapsed < s.cfg.ResendCooldown {
			s.metrics.Throttled(scopeEmailResend)
			return IssuedCode{}, &RateLimitExceededError{Scope: scopeEmailResend, RetryAfter: s.cfg.ResendCooldown - elapsed}
		}
	}

	return s.verification.Issue(ctx, *user, domain.PurposeEmailVerification)
}

// ToggleTwoFactor enables or disables emailed 2FA. Enabling it requires a fresh
// account_change code: the first call mails one and reports VerificationRequired,
// the second call redeems it.
func (s *AccountService) ToggleTwoFactor(ctx context.Context, userID string, enable bool, code string) (ToggleResult, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return ToggleResult{}, err
	}

	if enable && !user.Is2FAEnabled {
		if strings.TrimSpace(code) == "" {
			if err := s.allowAction(ctx, actionAccountChange, user.ID); err != nil {
				return ToggleResult{}, err
			}
			issued, err := s.verification.Issue(ctx, *user, domain.PurposeAccountChange)
			if err != nil {
				return ToggleResult{}, fmt.Errorf("issue account change code: %w", err)
			}
			s.logger.Info("two factor activation code sent", zap.String("user_id", user.ID))
			return ToggleResult{
				Outcome:   ToggleVerificationRequired,
				Enabled:   false,
				ExpiresAt: issued.ExpiresAt,
				Delivered: issued.Delivered,
			}, nil
		}
		if err := s.verification.Consume(ctx, user.ID, code, domain.PurposeAccountChange); err != nil {
			return ToggleResult{}, err
		}
	}

	if enable != user.Is2FAEnabled {
		now := s.now().UTC()
		if err := s.users.SetTwoFactor(ctx, user.ID, enable, now); err != nil {
			return ToggleResult{}, fmt.Errorf("update two factor: %w", err)
		}
		event := domain.TwoFactorChangedEvent{
			EventID:   uuid.NewString(),
			UserID:    user.ID,
			Enabled:   enable,
			ChangedAt: now,
		}
		if err := s.events.PublishTwoFactorChanged(ctx, event); err != nil {
			s.logger.Warn("failed to publish two factor event", zap.Error(err), zap.String("user_id", user.ID))
		}
	}

	return ToggleResult{Outcome: ToggleApplied, Enabled: enable}, nil
}

// Stats summarises login activity and account state.
func (s *AccountService) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}

	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := s.attempts.CountByEmailSince(ctx, user.Email, startOfDay)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("count today's attempts: %w", err)
	}
	total, err := s.attempts.CountByEmail(ctx, user.Email)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("count attempts: %w", err)
	}

	return domain.UserStats{
		LoginAttemptsToday:   today,
		TotalLoginAttempts:   total,
		AccountAgeDays:       user.AccountAgeDays(now),
		IsVerified:           user.IsVerified,
		Is2FAEnabled:         user.Is2FAEnabled,
		SubscriptionPlan:     user.SubscriptionPlan,
		IsSubscriptionActive: user.IsSubscriptionActive(now),
	}, nil
}

// SecurityLog returns the most recent login attempts against the account's email.
func (s *AccountService) SecurityLog(ctx context.Context, userID string) ([]domain.LoginAttempt, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListRecentByEmail(ctx, user.Email, securityLogLimit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// DeleteAccount soft deletes the account: it is deactivated, its email and
// username are replaced with placeholders and every session is closed.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	email := deletedAccountPrefix + user.ID + "@" + s.cfg.DeletedEmailDomain
	username := deletedAccountPrefix + user.ID
	if err := s.users.SoftDelete(ctx, user.ID, email, username, now); err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}

	closed, err := s.sessions.DeactivateAllForUser(ctx, user.ID)
	if err != nil {
		s.logger.Warn("failed to close sessions of deleted account", zap.Error(err), zap.String("user_id", user.ID))
	}

	event := domain.AccountDeletedEvent{
		EventID:         uuid.NewString(),
		UserID:          user.ID,
		DeletedAt:       now,
		SessionsRevoked: int(closed),
	}
	if err := s.events.PublishAccountDeleted(ctx, event); err != nil {
		s.logger.Warn("failed to publish account deleted event", zap.Error(err), zap.String("user_id", user.ID))
	}

	s.logger.Info("account deleted",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
		zap.String("username", logger.MaskString(user.Username)),
		zap.Int64("sessions_closed", closed),
	)
	return nil
}

// EmailAvailable reports whether no account uses the email, ignoring case.
func (s *AccountService) EmailAvailable(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		verr := NewValidationError()
		verr.Add("email", msgInvalidEmail)
		return false, verr
	}
	taken, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return !taken, nil
}

// UsernameAvailable reports whether no account uses the username, ignoring case.
func (s *AccountService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = normalizeUsername(username)
	verr := NewValidationError()
	if username == "" {
		verr.Add("username", msgRequired)
	} else if msg := checkUsername(username); msg != "" {
		verr.Add("username", msg)
	}
	if err := verr.OrNil(); err != nil {
		return false, err
	}
	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return !taken, nil
}

func (s *AccountService) activeUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func (s *AccountService) allowAction(ctx context.Context, action, userID string) error {
	allowed, _, retryAfter, err := s.limiter.Allow(ctx, action, userID, s.cfg.ActionLimit, s.cfg.ActionWindow)
	if err != nil {
		return fmt.Errorf("check action limit: %w", err)
	}
	if !allowed {
		s.metrics.Throttled(action)
		return &RateLimitExceededError{Scope: action, RetryAfter: retryAfter}
	}
	return nil
}

func trimPatch(p ProfilePatch) ProfilePatch {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	p.FirstName = trim(p.FirstName)
	p.LastName = trim(p.LastName)
	p.Phone = trim(p.Phone)
	p.CompanyName = trim(p.CompanyName)
	p.Profile.Bio = trim(p.Profile.Bio)
	p.Profile.Location = trim(p.Profile.Location)
	p.Profile.Website = trim(p.Profile.Website)
	p.Profile.Timezone = trim(p.Profile.Timezone)
	if p.Profile.Language != nil {
		lang := strings.ToLower(strings.TrimSpace(*p.Profile.Language))
		p.Profile.Language = &lang
	}
	return p
}

func validWebsite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
