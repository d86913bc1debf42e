package domain

import "time"

// LoginAttempt is an append-only audit row written for every login request.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Timestamp     time.Time
	Country       string
	City          string
}

// UserStats summarises account activity for the owner.
type UserStats struct {
	LoginAttemptsToday   int
	TotalLoginAttempts   int
	AccountAgeDays       int
	IsVerified           bool
	Is2FAEnabled         bool
	SubscriptionPlan     SubscriptionPlan
	IsSubscriptionActive bool
}
