package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials indicates the email or password did not match an account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified indicates the credentials are correct but the email was never confirmed.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountDisabled indicates the account has been deactivated.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrInvalidOrExpiredCode indicates a verification code is unknown, used, expired or exhausted.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired verification code")
	// ErrAlreadyVerified indicates a resend was requested for a verified email.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrUserNotFound indicates the referenced account does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidToken indicates a JWT is malformed, expired, revoked or of the wrong type.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrSessionInactive indicates the session behind a token was closed.
	ErrSessionInactive = errors.New("session inactive")
	// ErrInvalidAvatar indicates an avatar upload with a disallowed content type.
	ErrInvalidAvatar = errors.New("avatar must be a JPEG, PNG or GIF image")
	// ErrAvatarTooLarge indicates an avatar upload above the size limit.
	ErrAvatarTooLarge = errors.New("avatar exceeds maximum size")
)

// ValidationError carries field-level messages for a rejected request.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty error ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns the error only when at least one field failed.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if !e.HasErrors() {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// RateLimitExceededError reports a throttled action and when it may be retried.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}
