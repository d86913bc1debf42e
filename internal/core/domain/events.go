package domain

import "time"

// UserRegisteredEvent represents the payload for user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Username     string
	Email        string
	Plan         SubscriptionPlan
	RegisteredAt time.Time
	Metadata     map[string]any
}

// EmailVerifiedEvent represents the payload for user.email.verified messages.
type EmailVerifiedEvent struct {
	EventID    string
	UserID     string
	Email      string
	VerifiedAt time.Time
}

// PasswordChangedEvent represents the payload for user.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	UserID    string
	ChangedAt time.Time
	ChangedBy string
	Metadata  map[string]any
}

// TwoFactorChangedEvent represents the payload for user.2fa.changed messages.
type TwoFactorChangedEvent struct {
	EventID   string
	UserID    string
	Enabled   bool
	ChangedAt time.Time
}

// AccountDeletedEvent represents the payload for user.deleted messages.
type AccountDeletedEvent struct {
	EventID         string
	UserID          string
	DeletedAt       time.Time
	SessionsRevoked int
}
