package domain

import (
	"strings"
	"time"
)

// SubscriptionPlan enumerates the commercial plans an account can hold.
type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanBasic      SubscriptionPlan = "basic"
	PlanPremium    SubscriptionPlan = "premium"
	PlanEnterprise SubscriptionPlan = "enterprise"
)

// Valid reports whether the plan is one of the known values.
func (p SubscriptionPlan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID                    string
	Email                 string
	Username              string
	FirstName             string
	LastName              string
	Phone                 *string
	Avatar                *string
	PasswordHash          string
	IsVerified            bool
	Is2FAEnabled          bool
	IsActive              bool
	CompanyName           *string
	SubscriptionPlan      SubscriptionPlan
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastLogin             *time.Time
	LastLoginIP           *string
}

// FullName joins first and last name, trimming the gap when either is empty.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsSubscriptionActive reports whether the plan is usable at the given instant.
// Free plans never expire; paid plans require an expiry in the future.
func (u User) IsSubscriptionActive(at time.Time) bool {
	if u.SubscriptionPlan == PlanFree || u.SubscriptionPlan == "" {
		return true
	}
	if u.SubscriptionExpiresAt == nil {
		return false
	}
	return u.SubscriptionExpiresAt.After(at)
}

// Sanitized returns a copy without credential material.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// AccountAgeDays returns the number of whole calendar days since the account was created.
func (u User) AccountAgeDays(at time.Time) int {
	created := u.CreatedAt.UTC()
	now := at.UTC()
	start := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
