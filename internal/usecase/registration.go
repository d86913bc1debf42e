package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
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
	maxUsernameLength     = 150
	maxNameLength         = 150
	defaultSuggestions    = 5
	msgRequired           = "This field is required."
	msgEmailTaken         = "This email is already in use."
	msgUsernameTaken      = "This username is already in use."
	msgPasswordMismatch   = "Passwords do not match."
	msgInvalidEmail       = "Enter a valid email address."
	msgBlockedDomain      = "This email domain is not allowed."
	msgInvalidUsername    = "Username may contain only letters, digits and @/./+/-/_ characters."
	msgUsernameTooLong    = "Username must have at most 150 characters."
	msgNameTooLong        = "Must have at most 150 characters."
	registrationEventFrom = "registration"
)

// RegisterInput captures the registration form.
type RegisterInput struct {
	Email           string
	Username        string
	FirstName       string
	LastName        string
	Phone           string
	CompanyName     string
	Password        string
	PasswordConfirm string
	IP              string
	UserAgent       string
}

// RegisterResult is the created account plus the verification code metadata.
type RegisterResult struct {
	User         domain.User
	Verification IssuedCode
}

// RegistrationService handles new account onboarding.
type RegistrationService struct {
	users          port.UserRepository
	tx             port.Transactor
	verification   *VerificationService
	hasher         *security.PasswordHasher
	policy         *security.PasswordPolicy
	events         port.EventPublisher
	blockedDomains map[string]struct{}
	logger         *zap.Logger
	metrics        Metrics
	now            func() time.Time
}

// NewRegistrationService constructs a registration service.
func NewRegistrationService(
	users port.UserRepository,
	tx port.Transactor,
	verification *VerificationService,
	hasher *security.PasswordHasher,
	policy *security.PasswordPolicy,
	events port.EventPublisher,
	blockedDomains []string,
	logger *zap.Logger,
) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = security.NewPasswordPolicy(security.DefaultMinPasswordLength, security.DefaultMinZxcvbnScore)
	}
	blocked := make(map[string]struct{}, len(blockedDomains))
	for _, d := range blockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked[d] = struct{}{}
		}
	}
	return &RegistrationService{
		users:          users,
		tx:             tx,
		verification:   verification,
		hasher:         hasher,
		policy:         policy,
		events:         events,
		blockedDomains: blocked,
		logger:         logger,
		metrics:        nopMetrics{},
		now:            time.Now,
	}
}

func (s *RegistrationService) WithNow(now func() time.Time) *RegistrationService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RegistrationService) WithMetrics(m Metrics) *RegistrationService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Register validates the form, creates the user and profile in one transaction,
// emails a verification code and announces the new account.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in = normalizeRegisterInput(in)

	verr := NewValidationError()
	requireField(verr, "email", in.Email)
	requireField(verr, "username", in.Username)
	requireField(verr, "first_name", in.FirstName)
	requireField(verr, "last_name", in.LastName)
	requireField(verr, "password", in.Password)
	requireField(verr, "password_confirm", in.PasswordConfirm)

	if in.Email != "" {
		if msg := s.checkEmail(in.Email); msg != "" {
			verr.Add("email", msg)
		}
	}
	if in.Username != "" {
		if msg := checkUsername(in.Username); msg != "" {
			verr.Add("username", msg)
		}
	}
	if len([]rune(in.FirstName)) > maxNameLength {
		verr.Add("first_name", msgNameTooLong)
	}
	if len([]rune(in.LastName)) > maxNameLength {
		verr.Add("last_name", msgNameTooLong)
	}

	if in.Password != "" && in.PasswordConfirm != "" && in.Password != in.PasswordConfirm {
		verr.Add("password_confirm", msgPasswordMismatch)
	}
	if in.Password != "" {
		for _, msg := range s.policy.ValidateAll(in.Password, in.Email, in.Username, in.FirstName, in.LastName) {
			verr.Add("password", msg)
		}
	}

	if _, failed := verr.Fields["email"]; !failed && in.Email != "" {
		taken, err := s.users.ExistsByEmail(ctx, in.Email)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("check email: %w", err)
		}
		if taken {
			verr.Add("email", msgEmailTaken)
		}
	}
	if _, failed := verr.Fields["username"]; !failed && in.Username != "" {
		taken, err := s.users.ExistsByUsername(ctx, in.Username)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("check username: %w", err)
		}
		if taken {
			verr.Add("username", msgUsernameTaken)
		}
	}

	if err := verr.OrNil(); err != nil {
		return RegisterResult{}, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:               uuid.NewString(),
		Email:            in.Email,
		Username:         in.Username,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Phone:            optionalString(in.Phone),
		CompanyName:      optionalString(in.CompanyName),
		PasswordHash:     passwordHash,
		IsActive:         true,
		SubscriptionPlan: domain.PlanFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, users port.UserRepository, profiles port.ProfileRepository) error {
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		return profiles.Create(ctx, domain.NewDefaultProfile(user.ID, now))
	})
	if err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) {
			return RegisterResult{}, conflictToValidation(conflict)
		}
		return RegisterResult{}, fmt.Errorf("create account: %w", err)
	}
	s.metrics.Registered()

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
	)

	result := RegisterResult{User: user.Sanitized()}
	issued, err := s.verification.Issue(ctx, user, domain.PurposeEmailVerification)
	if err != nil {
		s.logger.Warn("verification code not issued after registration", zap.Error(err), zap.String("user_id", user.ID))
	} else {
		result.Verification = issued
	}

	event := domain.UserRegisteredEvent{
		EventID:      uuid.NewString(),
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Plan:         user.SubscriptionPlan,
		RegisteredAt: now,
		Metadata: map[string]any{
			"source":     registrationEventFrom,
			"ip_address": in.IP,
			"user_agent": in.UserAgent,
		},
	}
	if err := s.events.PublishUserRegistered(ctx, event); err != nil {
		s.logger.Warn("failed to publish user registered event", zap.Error(err), zap.String("user_id", user.ID))
	}

	return result, nil
}

// SuggestUsernames proposes free usernames derived from base: base1..baseN first,
// then base_NNN with random digits.
func (s *RegistrationService) SuggestUsernames(ctx context.Context, base string, count int) ([]string, error) {
	if count <= 0 {
		count = defaultSuggestions
	}
	base = sanitizeUsernameBase(base)
	if base == "" {
		verr := NewValidationError()
		verr.Add("username", msgRequired)
		return nil, verr
	}

	suggestions := make([]string, 0, count)
	seen := map[string]struct{}{}
	try := func(candidate string) error {
		if _, dup := seen[candidate]; dup || len(candidate) > maxUsernameLength {
			return nil
		}
		seen[candidate] = struct{}{}
		taken, err := s.users.ExistsByUsername(ctx, candidate)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if !taken {
			suggestions = append(suggestions, candidate)
		}
		return nil
	}

	for i := 1; i <= count; i++ {
		if err := try(base + strconv.Itoa(i)); err != nil {
			return nil, err
		}
	}

	for attempts := 0; len(suggestions) < count && attempts < count*20; attempts++ {
		suffix, err := security.GenerateNumericCode(3)
		if err != nil {
			return nil, fmt.Errorf("generate suffix: %w", err)
		}
		if err := try(base + "_" + suffix); err != nil {
			return nil, err
		}
	}

	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}
	return suggestions, nil
}

func (s *RegistrationService) checkEmail(email string) string {
	if !validEmail(email) {
		return msgInvalidEmail
	}
	_, domainPart, _ := strings.Cut(email, "@")
	if _, blocked := s.blockedDomains[domainPart]; blocked {
		return msgBlockedDomain
	}
	return ""
}

func normalizeRegisterInput(in RegisterInput) RegisterInput {
	in.Email = normalizeEmail(in.Email)
	in.Username = normalizeUsername(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	return in
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func requireField(verr *ValidationError, field, value string) {
	if value == "" {
		verr.Add(field, msgRequired)
	}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domainPart, ok := strings.Cut(email, "@")
	return ok && strings.Contains(domainPart, ".")
}

func checkUsername(username string) string {
	if len([]rune(username)) > maxUsernameLength {
		return msgUsernameTooLong
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return msgInvalidUsername
		}
	}
	return ""
}

func isUsernameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("@.+-_", r):
		return true
	}
	return false
}

func sanitizeUsernameBase(base string) string {
	base = normalizeUsername(base)
	var b strings.Builder
	for _, r := range base {
		if isUsernameRune(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxUsernameLength-4 {
		out = out[:maxUsernameLength-4]
	}
	return out
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func conflictToValidation(conflict *repository.ConflictError) error {
	verr := NewValidationError()
	switch {
	case strings.Contains(conflict.Constraint, "username"):
		verr.Add("username", msgUsernameTaken)
	default:
		verr.Add("email", msgEmailTaken)
	}
	return verr
}
