package usecase

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/repository"
)

const strongPassword = "Str0ng!Pass123"

var (
	sharedKeys     *security.EphemeralKeyProvider
	sharedKeysOnce sync.Once
)

func testKeys(t *testing.T) *security.EphemeralKeyProvider {
	t.Helper()
	sharedKeysOnce.Do(func() {
		keys, err := security.NewEphemeralKeyProvider(2048)
		if err != nil {
			t.Fatalf("NewEphemeralKeyProvider: %v", err)
		}
		sharedKeys = keys
	})
	return sharedKeys
}

// memDB backs every fake repository so flows can be followed end to end.
type memDB struct {
	users    map[string]*domain.User
	profiles map[string]*domain.UserProfile
	tokens   []*domain.VerificationToken
	attempts []domain.LoginAttempt
	sessions map[string]*domain.UserSession
}

func newMemDB() *memDB {
	return &memDB{
		users:    map[string]*domain.User{},
		profiles: map[string]*domain.UserProfile{},
		sessions: map[string]*domain.UserSession{},
	}
}

type fakeUsers struct{ db *memDB }

func (f fakeUsers) Create(_ context.Context, user domain.User) error {
	for _, u := range f.db.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &repository.ConflictError{Constraint: "users_email_ci_key"}
		}
		if strings.EqualFold(u.Username, user.Username) {
			return &repository.ConflictError{Constraint: "users_username_ci_key"}
		}
	}
	u := user
	f.db.users[user.ID] = &u
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range f.db.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakeUsers) ExistsByEmail(_ context.Context, email string) (bool, error) {
	for _, u := range f.db.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	for _, u := range f.db.users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeUsers) mutate(id string, at time.Time, fn func(u *domain.User)) error {
	u, ok := f.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = at
	return nil
}

func (f fakeUsers) Update(_ context.Context, id string, update port.UserUpdate, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) {
		if update.FirstName != nil {
			u.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			u.LastName = *update.LastName
		}
		if update.Phone != nil {
			u.Phone = update.Phone
		}
		if update.CompanyName != nil {
			u.CompanyName = update.CompanyName
		}
	})
}

func (f fakeUsers) SetVerified(_ context.Context, id string, verified bool, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) { u.IsVerified = verified })
}

func (f fakeUsers) SetTwoFactor(_ context.Context, id string, enabled bool, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) { u.Is2FAEnabled = enabled })
}

func (f fakeUsers) UpdatePassword(_ context.Context, id string, hash string, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) { u.PasswordHash = hash })
}

func (f fakeUsers) UpdateLastLogin(_ context.Context, id string, ip string, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) {
		u.LastLogin = &at
		u.LastLoginIP = &ip
	})
}

func (f fakeUsers) UpdateAvatar(_ context.Context, id string, avatar string, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) { u.Avatar = &avatar })
}

func (f fakeUsers) SoftDelete(_ context.Context, id string, email string, username string, at time.Time) error {
	return f.mutate(id, at, func(u *domain.User) {
		u.Email = email
		u.Username = username
		u.IsActive = false
	})
}

type fakeProfiles struct{ db *memDB }

func (f fakeProfiles) Create(_ context.Context, profile domain.UserProfile) error {
	if _, ok := f.db.users[profile.UserID]; !ok {
		return errors.New("profile without user")
	}
	p := profile
	f.db.profiles[profile.UserID] = &p
	return nil
}

func (f fakeProfiles) GetByUserID(_ context.Context, userID string) (*domain.UserProfile, error) {
	p, ok := f.db.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f fakeProfiles) Update(_ context.Context, userID string, update port.ProfileUpdate, at time.Time) error {
	p, ok := f.db.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Bio != nil {
		p.Bio = *update.Bio
	}
	if update.Location != nil {
		p.Location = *update.Location
	}
	if update.Website != nil {
		p.Website = *update.Website
	}
	if update.BirthDate != nil {
		p.BirthDate = update.BirthDate
	}
	if update.Language != nil {
		p.Language = *update.Language
	}
	if update.Timezone != nil {
		p.Timezone = *update.Timezone
	}
	if update.EmailNotifications != nil {
		p.EmailNotifications = *update.EmailNotifications
	}
	if update.PushNotifications != nil {
		p.PushNotifications = *update.PushNotifications
	}
	if update.MarketingEmails != nil {
		p.MarketingEmails = *update.MarketingEmails
	}
	if update.Visibility != nil {
		p.Visibility = *update.Visibility
	}
	p.UpdatedAt = at
	return nil
}

type fakeTx struct {
	db  *memDB
	err error
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context, users port.UserRepository, profiles port.ProfileRepository) error) error {
	if f.err != nil {
		return f.err
	}
	users := make(map[string]*domain.User, len(f.db.users))
	for k, v := range f.db.users {
		c := *v
		users[k] = &c
	}
	profiles := make(map[string]*domain.UserProfile, len(f.db.profiles))
	for k, v := range f.db.profiles {
		c := *v
		profiles[k] = &c
	}

	if err := fn(ctx, fakeUsers{db: f.db}, fakeProfiles{db: f.db}); err != nil {
		f.db.users = users
		f.db.profiles = profiles
		return err
	}
	return nil
}

type fakeTokens struct{ db *memDB }

func (f fakeTokens) Create(_ context.Context, token domain.VerificationToken) error {
	t := token
	f.db.tokens = append(f.db.tokens, &t)
	return nil
}

func (f fakeTokens) DeleteUnused(_ context.Context, userID string, purpose domain.TokenPurpose) (int64, error) {
	var kept []*domain.VerificationToken
	var removed int64
	for _, t := range f.db.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.IsUsed {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	f.db.tokens = kept
	return removed, nil
}

func (f fakeTokens) FindActive(_ context.Context, userID, codeHash string, purpose domain.TokenPurpose) (*domain.VerificationToken, error) {
	var found *domain.VerificationToken
	for _, t := range f.db.tokens {
		if t.UserID == userID && t.CodeHash == codeHash && t.Purpose == purpose && !t.IsUsed {
			if found == nil || t.CreatedAt.After(found.CreatedAt) {
				found = t
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	c := *found
	return &c, nil
}

func (f fakeTokens) IncrementAttempts(_ context.Context, userID string, purpose domain.TokenPurpose) error {
	for _, t := range f.db.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.IsUsed {
			t.Attempts++
		}
	}
	return nil
}

func (f fakeTokens) MarkUsed(_ context.Context, id string, at time.Time) error {
	for _, t := range f.db.tokens {
		if t.ID == id {
			if !t.IsValid(at) || !t.MarkUsed(at) {
				return repository.ErrNotFound
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f fakeTokens) LatestCreatedAt(_ context.Context, userID string, purpose domain.TokenPurpose) (time.Time, bool, error) {
	var latest time.Time
	found := false
	for _, t := range f.db.tokens {
		if t.UserID == userID && t.Purpose == purpose && (!found || t.CreatedAt.After(latest)) {
			latest = t.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}

func (f fakeTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var kept []*domain.VerificationToken
	var removed int64
	for _, t := range f.db.tokens {
		if t.ExpiresAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	f.db.tokens = kept
	return removed, nil
}

func (f fakeTokens) unused(userID string, purpose domain.TokenPurpose) []domain.VerificationToken {
	var out []domain.VerificationToken
	for _, t := range f.db.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.IsUsed {
			out = append(out, *t)
		}
	}
	return out
}

type fakeAttempts struct {
	db  *memDB
	err error
}

func (f *fakeAttempts) Create(_ context.Context, attempt domain.LoginAttempt) error {
	if f.err != nil {
		return f.err
	}
	f.db.attempts = append(f.db.attempts, attempt)
	return nil
}

func (f *fakeAttempts) CountByEmail(_ context.Context, email string) (int, error) {
	n := 0
	for _, a := range f.db.attempts {
		if a.Email == email {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) CountByEmailSince(_ context.Context, email string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.db.attempts {
		if a.Email == email && !a.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) ListRecentByEmail(_ context.Context, email string, limit int) ([]domain.LoginAttempt, error) {
	var out []domain.LoginAttempt
	for _, a := range f.db.attempts {
		if a.Email == email {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSessions struct{ db *memDB }

func (f fakeSessions) Create(_ context.Context, session domain.UserSession) error {
	s := session
	f.db.sessions[session.SessionKey] = &s
	return nil
}

func (f fakeSessions) GetByKey(_ context.Context, key string) (*domain.UserSession, error) {
	s, ok := f.db.sessions[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f fakeSessions) Touch(_ context.Context, key string, at time.Time) error {
	s, ok := f.db.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	s.LastActivity = at
	return nil
}

func (f fakeSessions) Deactivate(_ context.Context, key string) error {
	s, ok := f.db.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (f fakeSessions) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, s := range f.db.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

var codePattern = regexp.MustCompile(`verificação é: (\d+)`)

type fakeMailer struct {
	sent []port.MailMessage
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg port.MailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("no mail was sent")
	}
	m := codePattern.FindStringSubmatch(f.sent[len(f.sent)-1].Body)
	if m == nil {
		t.Fatalf("no code in mail body %q", f.sent[len(f.sent)-1].Body)
	}
	return m[1]
}

type fakeEvents struct {
	registered []domain.UserRegisteredEvent
	verified   []domain.EmailVerifiedEvent
	passwords  []domain.PasswordChangedEvent
	twoFactor  []domain.TwoFactorChangedEvent
	deleted    []domain.AccountDeletedEvent
	err        error
}

func (f *fakeEvents) PublishUserRegistered(_ context.Context, e domain.UserRegisteredEvent) error {
	f.registered = append(f.registered, e)
	return f.err
}

func (f *fakeEvents) PublishEmailVerified(_ context.Context, e domain.EmailVerifiedEvent) error {
	f.verified = append(f.verified, e)
	return f.err
}

func (f *fakeEvents) PublishPasswordChanged(_ context.Context, e domain.PasswordChangedEvent) error {
	f.passwords = append(f.passwords, e)
	return f.err
}

func (f *fakeEvents) PublishTwoFactorChanged(_ context.Context, e domain.TwoFactorChangedEvent) error {
	f.twoFactor = append(f.twoFactor, e)
	return f.err
}

func (f *fakeEvents) PublishAccountDeleted(_ context.Context, e domain.AccountDeletedEvent) error {
	f.deleted = append(f.deleted, e)
	return f.err
}

type fakeLimiter struct {
	counts map[string]int
}

func (f *fakeLimiter) Allow(_ context.Context, action, identifier string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	key := action + ":" + identifier
	f.counts[key]++
	if f.counts[key] > limit {
		return false, 0, window, nil
	}
	return true, limit - f.counts[key], 0, nil
}

type fakeBlacklist struct {
	revoked map[string]time.Duration
}

func (f *fakeBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if f.revoked == nil {
		f.revoked = map[string]time.Duration{}
	}
	if ttl > 0 {
		f.revoked[jti] = ttl
	}
	return nil
}

func (f *fakeBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

type fakeAvatars struct {
	key         string
	contentType string
	body        []byte
}

func (f *fakeAvatars) Save(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.key, f.contentType, f.body = key, contentType, data
	return "https://cdn.test/" + key, nil
}

type fakeMetrics struct {
	logins    map[string]int
	codes     map[string]int
	throttled map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{logins: map[string]int{}, codes: map[string]int{}, throttled: map[string]int{}}
}

func (m *fakeMetrics) LoginAttempt(outcome string) { m.logins[outcome]++ }
func (m *fakeMetrics) CodeIssued(purpose string)   { m.codes[purpose]++ }
func (m *fakeMetrics) MailSent(bool)               {}
func (m *fakeMetrics) Throttled(scope string)      { m.throttled[scope]++ }
func (m *fakeMetrics) Registered()                 {}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	db           *memDB
	clock        *testClock
	users        fakeUsers
	tokens       fakeTokens
	attempts     *fakeAttempts
	sessions     fakeSessions
	tx           *fakeTx
	mailer       *fakeMailer
	events       *fakeEvents
	limiter      *fakeLimiter
	blacklist    *fakeBlacklist
	avatars      *fakeAvatars
	metrics      *fakeMetrics
	logs         *observer.ObservedLogs
	jwt          *security.JWTManager
	verification *VerificationService
	registration *RegistrationService
	auth         *AuthService
	account      *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newMemDB()
	clock := &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	policy := security.NewPasswordPolicy(12, 0)
	jwtManager := security.NewJWTManager(testKeys(t), "sombreando", 5*time.Minute, 24*time.Hour, security.WithJWTClock(clock.Now))

	env := &testEnv{
		db:        db,
		clock:     clock,
		users:     fakeUsers{db: db},
		tokens:    fakeTokens{db: db},
		attempts:  &fakeAttempts{db: db},
		sessions:  fakeSessions{db: db},
		tx:        &fakeTx{db: db},
		mailer:    &fakeMailer{},
		events:    &fakeEvents{},
		limiter:   &fakeLimiter{},
		blacklist: &fakeBlacklist{},
		avatars:   &fakeAvatars{},
		metrics:   newFakeMetrics(),
		logs:      logs,
		jwt:       jwtManager,
	}

	env.verification = NewVerificationService(env.tokens, env.mailer, config.VerificationSettings{CodeLength: 6, CodeTTL: 24 * time.Hour}, log).
		WithNow(clock.Now).
		WithMetrics(env.metrics)
	env.registration = NewRegistrationService(env.users, env.tx, env.verification, hasher, policy, env.events, []string{"mailinator.com"}, log).
		WithNow(clock.Now)
	env.auth = NewAuthService(env.users, env.attempts, env.sessions, env.verification, hasher, jwtManager, env.blacklist, log).
		WithNow(clock.Now).
		WithMetrics(env.metrics)
	env.account = NewAccountService(
		env.users, fakeProfiles{db: db}, env.tx, env.attempts, env.sessions, env.verification,
		hasher, policy, env.avatars, env.limiter, env.events,
		AccountSettings{DeletedEmailDomain: "sombreando.com", ResendCooldown: 5 * time.Minute, MaxAvatarBytes: 5 << 20, ActionLimit: 5, ActionWindow: time.Hour},
		log,
	).WithNow(clock.Now).WithMetrics(env.metrics)
	return env
}

// register creates an account through the registration flow.
func (e *testEnv) register(t *testing.T, email, username string) domain.User {
	t.Helper()
	res, err := e.registration.Register(context.Background(), RegisterInput{
		Email:           email,
		Username:        username,
		FirstName:       "Ana",
		LastName:        "Souza",
		Password:        strongPassword,
		PasswordConfirm: strongPassword,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return res.User
}

// registerVerified creates an account and redeems its verification code.
func (e *testEnv) registerVerified(t *testing.T, email, username string) domain.User {
	t.Helper()
	user := e.register(t, email, username)
	if _, err := e.account.VerifyEmail(context.Background(), email, e.mailer.lastCode(t)); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	return user
}
