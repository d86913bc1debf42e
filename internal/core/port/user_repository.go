package port

import (
	"context"
	"time"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

// UserUpdate carries the mutable profile columns of a user. Nil fields are left unchanged.
type UserUpdate struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	CompanyName *string
}

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, id string, update UserUpdate, at time.Time) error
	SetVerified(ctx context.Context, id string, verified bool, at time.Time) error
	SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error
	UpdateLastLogin(ctx context.Context, id string, ip string, at time.Time) error
	UpdateAvatar(ctx context.Context, id string, avatar string, at time.Time) error
	SoftDelete(ctx context.Context, id string, email string, username string, at time.Time) error
}

// ProfileUpdate carries the mutable profile preferences. Nil fields are left unchanged.
type ProfileUpdate struct {
	Bio                *string
	Location           *string
	Website            *string
	BirthDate          *time.Time
	Language           *string
	Timezone           *string
	EmailNotifications *bool
	PushNotifications  *bool
	MarketingEmails    *bool
	Visibility         *domain.ProfileVisibility
}

// ProfileRepository persists the 1:1 user profile.
type ProfileRepository interface {
	Create(ctx context.Context, profile domain.UserProfile) error
	GetByUserID(ctx context.Context, userID string) (*domain.UserProfile, error)
	Update(ctx context.Context, userID string, update ProfileUpdate, at time.Time) error
}
