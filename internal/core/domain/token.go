package domain

import "time"

// TokenPurpose tags why a one-time code was issued. Codes never cross purposes.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeLogin2FA          TokenPurpose = "login_2fa"
	PurposeAccountChange     TokenPurpose = "account_change"
)

// Valid reports whether the purpose is one of the known tags.
func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposePasswordReset, PurposeLogin2FA, PurposeAccountChange:
		return true
	}
	return false
}

// MaxTokenAttempts is the number of failed guesses after which a code is exhausted.
const MaxTokenAttempts = 3

// VerificationToken is a time-boxed numeric code tied to a user and a purpose.
// Only the hash of the code is persisted.
type VerificationToken struct {
	ID        string
	UserID    string
	CodeHash  string
	Purpose   TokenPurpose
	ExpiresAt time.Time
	IsUsed    bool
	Attempts  int
	CreatedAt time.Time
	UsedAt    *time.Time
}

// IsExpired reports whether the expiry instant has passed.
func (t VerificationToken) IsExpired(at time.Time) bool {
	return at.After(t.ExpiresAt)
}

// IsValid holds iff the token is unused, unexpired and below the attempt cap.
func (t VerificationToken) IsValid(at time.Time) bool {
	return !t.IsUsed && !t.IsExpired(at) && t.Attempts < MaxTokenAttempts
}

// MarkUsed consumes the token. Consumption is one-way: it returns false when the
// token was already used and leaves UsedAt untouched.
func (t *VerificationToken) MarkUsed(at time.Time) bool {
	if t.IsUsed {
		return false
	}
	used := at
	t.IsUsed = true
	t.UsedAt = &used
	return true
}
