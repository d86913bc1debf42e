package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
)

const birthDateLayout = "2006-01-02"

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string              `json:"error"`
	TraceID string              `json:"trace_id,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// ProfileDetail is the preferences block nested in UserResponse.
type ProfileDetail struct {
	Bio                string                   `json:"bio"`
	Location           string                   `json:"location"`
	Website            string                   `json:"website"`
	BirthDate          *string                  `json:"birth_date"`
	Language           string                   `json:"language"`
	Timezone           string                   `json:"timezone"`
	EmailNotifications bool                     `json:"email_notifications"`
	PushNotifications  bool                     `json:"push_notifications"`
	MarketingEmails    bool                     `json:"marketing_emails"`
	Visibility         domain.ProfileVisibility `json:"profile_visibility"`
}

// UserResponse is the owner's view of an account.
type UserResponse struct {
	ID                   string                  `json:"id"`
	Email                string                  `json:"email"`
	Username             string                  `json:"username"`
	FirstName            string                  `json:"first_name"`
	LastName             string                  `json:"last_name"`
	FullName             string                  `json:"full_name"`
	Phone                *string                 `json:"phone"`
	Avatar               *string                 `json:"avatar"`
	CompanyName          *string                 `json:"company_name"`
	IsVerified           bool                    `json:"is_verified"`
	Is2FAEnabled         bool                    `json:"is_2fa_enabled"`
	SubscriptionPlan     domain.SubscriptionPlan `json:"subscription_plan"`
	IsSubscriptionActive bool                    `json:"is_subscription_active"`
	CreatedAt            time.Time               `json:"created_at"`
	Profile              *ProfileDetail          `json:"profile"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	CompanyName     string `json:"company_name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// RegistrationResponse contains registration results and next steps.
type RegistrationResponse struct {
	Message              string       `json:"message"`
	User                 UserResponse `json:"user"`
	RequiresVerification bool         `json:"requires_verification"`
	VerificationSent     bool         `json:"verification_sent"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	VerificationCode string `json:"verification_code"`
}

// LoginResponse describes the response returned for a successful login.
type LoginResponse struct {
	Access    string       `json:"access"`
	Refresh   string       `json:"refresh"`
	ExpiresIn int          `json:"expires_in"`
	User      UserResponse `json:"user"`
}

// TwoFactorRequiredResponse is returned with 202 when a login code was emailed.
type TwoFactorRequiredResponse struct {
	Status      string    `json:"status"`
	Requires2FA bool      `json:"requires_2fa"`
	Message     string    `json:"message"`
	ExpiresAt   time.Time `json:"expires_at"`
	CodeSent    bool      `json:"code_sent"`
}

// LogoutRequest optionally names the refresh token to revoke.
type LogoutRequest struct {
	Refresh string `json:"refresh"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	Refresh string `json:"refresh"`
}

// TokenRefreshResponse contains the access token issued by the refresh endpoint.
type TokenRefreshResponse struct {
	Access    string `json:"access"`
	ExpiresIn int    `json:"expires_in"`
}

// ProfileUpdateRequest is a partial update; absent fields are left unchanged.
type ProfileUpdateRequest struct {
	FirstName   *string              `json:"first_name"`
	LastName    *string              `json:"last_name"`
	Phone       *string              `json:"phone"`
	CompanyName *string              `json:"company_name"`
	Profile     *ProfileUpdateFields `json:"profile"`
}

// ProfileUpdateFields are the writable preferences.
type ProfileUpdateFields struct {
	Bio                *string `json:"bio"`
	Location           *string `json:"location"`
	Website            *string `json:"website"`
	BirthDate          *string `json:"birth_date"`
	Language           *string `json:"language"`
	Timezone           *string `json:"timezone"`
	EmailNotifications *bool   `json:"email_notifications"`
	PushNotifications  *bool   `json:"push_notifications"`
	MarketingEmails    *bool   `json:"marketing_emails"`
	Visibility         *string `json:"profile_visibility"`
}

// PasswordChangeRequest holds the authenticated password change form.
type PasswordChangeRequest struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// PasswordResetRequest starts a password reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest completes a password reset.
type PasswordResetConfirmRequest struct {
	Email              string `json:"email"`
	Code               string `json:"code"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// EmailVerifyRequest redeems an email verification code.
type EmailVerifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `json:"email" form:"email"`
}

// UsernameRequest carries a single username.
type UsernameRequest struct {
	Username string `json:"username" form:"username"`
}

// ResendResponse reports a freshly issued verification code.
type ResendResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	Sent      bool      `json:"sent"`
}

// ToggleTwoFactorRequest enables or disables 2FA.
type ToggleTwoFactorRequest struct {
	Enable           *bool  `json:"enable"`
	VerificationCode string `json:"verification_code"`
}

// ToggleTwoFactorResponse reports the 2FA state after a toggle.
type ToggleTwoFactorResponse struct {
	Message              string     `json:"message"`
	Is2FAEnabled         bool       `json:"is_2fa_enabled"`
	RequiresVerification bool       `json:"requires_verification,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
}

// StatsResponse summarises account activity.
type StatsResponse struct {
	LoginAttemptsToday   int                     `json:"login_attempts_today"`
	TotalLoginAttempts   int                     `json:"total_login_attempts"`
	AccountAgeDays       int                     `json:"account_age_days"`
	IsVerified           bool                    `json:"is_verified"`
	Is2FAEnabled         bool                    `json:"is_2fa_enabled"`
	SubscriptionPlan     domain.SubscriptionPlan `json:"subscription_plan"`
	IsSubscriptionActive bool                    `json:"is_subscription_active"`
}

// SecurityLogEntry is one login attempt in the security log.
type SecurityLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	IPAddress     string    `json:"ip_address"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason"`
	Country       string    `json:"country"`
	City          string    `json:"city"`
}

// AvailabilityResponse answers email and username checks.
type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// SuggestionsResponse lists free usernames.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newUserResponse(user domain.User, profile *domain.UserProfile, now time.Time) UserResponse {
	resp := UserResponse{
		ID:                   user.ID,
		Email:                user.Email,
		Username:             user.Username,
		FirstName:            user.FirstName,
		LastName:             user.LastName,
		FullName:             user.FullName(),
		Phone:                user.Phone,
		Avatar:               user.Avatar,
		CompanyName:          user.CompanyName,
		IsVerified:           user.IsVerified,
		Is2FAEnabled:         user.Is2FAEnabled,
		SubscriptionPlan:     user.SubscriptionPlan,
		IsSubscriptionActive: user.IsSubscriptionActive(now),
		CreatedAt:            user.CreatedAt,
	}
	if profile != nil {
		detail := ProfileDetail{
			Bio:                profile.Bio,
			Location:           profile.Location,
			Website:            profile.Website,
			Language:           profile.Language,
			Timezone:           profile.Timezone,
			EmailNotifications: profile.EmailNotifications,
			PushNotifications:  profile.PushNotifications,
			MarketingEmails:    profile.MarketingEmails,
			Visibility:         profile.Visibility,
		}
		if profile.BirthDate != nil {
			d := profile.BirthDate.Format(birthDateLayout)
			detail.BirthDate = &d
		}
		resp.Profile = &detail
	}
	return resp
}

func newStatsResponse(stats domain.UserStats) StatsResponse {
	return StatsResponse{
		LoginAttemptsToday:   stats.LoginAttemptsToday,
		TotalLoginAttempts:   stats.TotalLoginAttempts,
		AccountAgeDays:       stats.AccountAgeDays,
		IsVerified:           stats.IsVerified,
		Is2FAEnabled:         stats.Is2FAEnabled,
		SubscriptionPlan:     stats.SubscriptionPlan,
		IsSubscriptionActive: stats.IsSubscriptionActive,
	}
}

func newSecurityLog(attempts []domain.LoginAttempt) []SecurityLogEntry {
	entries := make([]SecurityLogEntry, 0, len(attempts))
	for _, a := range attempts {
		entries = append(entries, SecurityLogEntry{
			Timestamp:     a.Timestamp,
			IPAddress:     a.IPAddress,
			Success:       a.Success,
			FailureReason: a.FailureReason,
			Country:       a.Country,
			City:          a.City,
		})
	}
	return entries
}

func expiresIn(at, now time.Time) int {
	seconds := int(at.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}
