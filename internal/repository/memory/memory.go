// Package memory is a test double for the repository ports. It follows the
// Postgres repositories' semantics (case-insensitive uniqueness, ErrNotFound,
// ConflictError) and backs the handler and route tests; no binary wires it.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/repository"
)

// Store holds every table. The repositories returned by its accessors share it.
type Store struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	profiles map[string]*domain.UserProfile
	tokens   []*domain.VerificationToken
	attempts []domain.LoginAttempt
	sessions map[string]*domain.UserSession
}

func NewStore() *Store {
	return &Store{
		users:    map[string]*domain.User{},
		profiles: map[string]*domain.UserProfile{},
		sessions: map[string]*domain.UserSession{},
	}
}

func (s *Store) Users() port.UserRepository                 { return users{s} }
func (s *Store) Profiles() port.ProfileRepository           { return profiles{s} }
func (s *Store) Tokens() port.VerificationTokenRepository   { return tokens{s} }
func (s *Store) LoginAttempts() port.LoginAttemptRepository { return attempts{s} }
func (s *Store) Sessions() port.SessionRepository           { return sessions{s} }
func (s *Store) Transactor() port.Transactor                { return transactor{s} }

type users struct{ s *Store }

func (r users) Create(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.createUser(user)
}

func (s *Store) createUser(user domain.User) error {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &repository.ConflictError{Constraint: "users_email_ci_key"}
		}
		if strings.EqualFold(u.Username, user.Username) {
			return &repository.ConflictError{Constraint: "users_username_ci_key"}
		}
	}
	u := user
	s.users[user.ID] = &u
	return nil
}

func (r users) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r users) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r users) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (r users) mutate(id string, at time.Time, fn func(u *domain.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = at
	return nil
}

func (r users) Update(_ context.Context, id string, update port.UserUpdate, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) {
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

func (r users) SetVerified(_ context.Context, id string, verified bool, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) { u.IsVerified = verified })
}

func (r users) SetTwoFactor(_ context.Context, id string, enabled bool, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) { u.Is2FAEnabled = enabled })
}

func (r users) UpdatePassword(_ context.Context, id string, hash string, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) { u.PasswordHash = hash })
}

func (r users) UpdateLastLogin(_ context.Context, id string, ip string, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) {
		u.LastLogin = &at
		u.LastLoginIP = &ip
	})
}

func (r users) UpdateAvatar(_ context.Context, id string, avatar string, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) { u.Avatar = &avatar })
}

func (r users) SoftDelete(_ context.Context, id string, email string, username string, at time.Time) error {
	return r.mutate(id, at, func(u *domain.User) {
		u.Email = email
		u.Username = username
		u.IsActive = false
	})
}

type profiles struct{ s *Store }

func (r profiles) Create(_ context.Context, profile domain.UserProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.createProfile(profile)
}

func (s *Store) createProfile(profile domain.UserProfile) error {
	if _, ok := s.users[profile.UserID]; !ok {
		return &repository.ConflictError{Constraint: "user_profiles_user_id_fkey"}
	}
	if _, ok := s.profiles[profile.UserID]; ok {
		return &repository.ConflictError{Constraint: "user_profiles_user_id_key"}
	}
	p := profile
	s.profiles[profile.UserID] = &p
	return nil
}

func (r profiles) GetByUserID(_ context.Context, userID string) (*domain.UserProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r profiles) Update(_ context.Context, userID string, update port.ProfileUpdate, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
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
		d := *update.BirthDate
		p.BirthDate = &d
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

// transactor snapshots users and profiles and restores them when fn fails.
type transactor struct{ s *Store }

func (t transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, users port.UserRepository, profiles port.ProfileRepository) error) error {
	t.s.mu.Lock()
	usersSnap := make(map[string]*domain.User, len(t.s.users))
	for k, v := range t.s.users {
		c := *v
		usersSnap[k] = &c
	}
	profilesSnap := make(map[string]*domain.UserProfile, len(t.s.profiles))
	for k, v := range t.s.profiles {
		c := *v
		profilesSnap[k] = &c
	}
	t.s.mu.Unlock()

	if err := fn(ctx, t.s.Users(), t.s.Profiles()); err != nil {
		t.s.mu.Lock()
		t.s.users = usersSnap
		t.s.profiles = profilesSnap
		t.s.mu.Unlock()
		return err
	}
	return nil
}

type tokens struct{ s *Store }

func (r tokens) Create(_ context.Context, token domain.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := token
	r.s.tokens = append(r.s.tokens, &t)
	return nil
}

func (r tokens) DeleteUnused(_ context.Context, userID string, purpose domain.TokenPurpose) (int64, error) {
	return r.deleteWhere(func(t *domain.VerificationToken) bool {
		return t.UserID == userID && t.Purpose == purpose && !t.IsUsed
	}), nil
}

func (r tokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(func(t *domain.VerificationToken) bool {
		return t.ExpiresAt.Before(before)
	}), nil
}

func (r tokens) deleteWhere(match func(t *domain.VerificationToken) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.tokens[:0]
	var removed int64
	for _, t := range r.s.tokens {
		if match(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	r.s.tokens = kept
	return removed
}

func (r tokens) FindActive(_ context.Context, userID, codeHash string, purpose domain.TokenPurpose) (*domain.VerificationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *domain.VerificationToken
	for _, t := range r.s.tokens {
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

func (r tokens) IncrementAttempts(_ context.Context, userID string, purpose domain.TokenPurpose) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.IsUsed {
			t.Attempts++
		}
	}
	return nil
}

func (r tokens) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.ID == id {
			if !t.IsValid(at) || !t.MarkUsed(at) {
				return repository.ErrNotFound
			}
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r tokens) LatestCreatedAt(_ context.Context, userID string, purpose domain.TokenPurpose) (time.Time, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest time.Time
	found := false
	for _, t := range r.s.tokens {
		if t.UserID == userID && t.Purpose == purpose && (!found || t.CreatedAt.After(latest)) {
			latest = t.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}

type attempts struct{ s *Store }

func (r attempts) Create(_ context.Context, attempt domain.LoginAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.attempts = append(r.s.attempts, attempt)
	return nil
}

func (r attempts) CountByEmail(ctx context.Context, email string) (int, error) {
	return r.CountByEmailSince(ctx, email, time.Time{})
}

func (r attempts) CountByEmailSince(_ context.Context, email string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.attempts {
		if strings.EqualFold(a.Email, email) && !a.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r attempts) ListRecentByEmail(_ context.Context, email string, limit int) ([]domain.LoginAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LoginAttempt
	for _, a := range r.s.attempts {
		if strings.EqualFold(a.Email, email) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type sessions struct{ s *Store }

func (r sessions) Create(_ context.Context, session domain.UserSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.SessionKey]; ok {
		return &repository.ConflictError{Constraint: "user_sessions_session_key_key"}
	}
	c := session
	r.s.sessions[session.SessionKey] = &c
	return nil
}

func (r sessions) GetByKey(_ context.Context, key string) (*domain.UserSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (r sessions) Touch(_ context.Context, key string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	sess.LastActivity = at
	return nil
}

func (r sessions) Deactivate(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	sess.IsActive = false
	return nil
}

func (r sessions) DeactivateAllForUser(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			n++
		}
	}
	return n, nil
}
