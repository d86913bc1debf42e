package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	avatarFormField      = "avatar"
	avatarFormOverhead   = 1 << 20
	msgTwoFactorEnabled  = "Two-factor authentication enabled."
	msgTwoFactorDisabled = "Two-factor authentication disabled."
	msgTwoFactorCodeSent = "Verification code sent. Confirm it to enable two-factor authentication."
	msgAccountDeleted    = "Account deleted."
)

// AccountHandler serves the authenticated self-service endpoints.
type AccountHandler struct {
	accounts       *usecase.AccountService
	maxAvatarBytes int64
}

// NewAccountHandler constructs AccountHandler. maxAvatarBytes bounds the
// multipart body read for avatar uploads.
func NewAccountHandler(accounts *usecase.AccountService, maxAvatarBytes int64) *AccountHandler {
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = 5 << 20
	}
	return &AccountHandler{accounts: accounts, maxAvatarBytes: maxAvatarBytes}
}

// RegisterRoutes binds account endpoints; every route requires authentication.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	authed := r.Group("", requireAuth)
	authed.GET("/profile", h.getProfile)
	authed.PATCH("/profile", h.updateProfile)
	authed.PATCH("/avatar/upload", h.uploadAvatar)
	authed.POST("/2fa/toggle", h.toggleTwoFactor)
	authed.GET("/stats", h.stats)
	authed.GET("/security/log", h.securityLog)
	authed.DELETE("/delete", h.deleteAccount)
}

// GetProfile godoc
// @Summary Current user with profile
// @Tags Account
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/profile [get]
// @Security BearerAuth
func (h *AccountHandler) getProfile(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	view, err := h.accounts.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(view.User, view.Profile, nowUTC()))
}

// UpdateProfile godoc
// @Summary Partially update the current user and profile
// @Tags Account
// @Accept json
// @Produce json
// @Param request body ProfileUpdateRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/profile [patch]
// @Security BearerAuth
func (h *AccountHandler) updateProfile(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	patch := usecase.ProfilePatch{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		CompanyName: req.CompanyName,
	}
	if req.Profile != nil {
		update, field, ok := profileUpdate(req.Profile)
		if !ok {
			fieldError(c, field, "Invalid date. Use YYYY-MM-DD.")
			return
		}
		patch.Profile = update
	}

	view, err := h.accounts.UpdateProfile(c.Request.Context(), userID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(view.User, view.Profile, nowUTC()))
}

// UploadAvatar godoc
// @Summary Upload a profile picture
// @Tags Account
// @Accept multipart/form-data
// @Produce json
// @Param avatar formData file true "JPEG, PNG or GIF up to 5MB"
// @Success 200 {object} UserResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/avatar/upload [patch]
// @Security BearerAuth
func (h *AccountHandler) uploadAvatar(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAvatarBytes+avatarFormOverhead)
	header, err := c.FormFile(avatarFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, usecase.ErrAvatarTooLarge)
			return
		}
		fieldError(c, avatarFormField, "An image file is required.")
		return
	}
	file, err := header.Open()
	if err != nil {
		_ = c.Error(err)
		fieldError(c, avatarFormField, "An image file is required.")
		return
	}
	defer file.Close()

	user, err := h.accounts.UploadAvatar(c.Request.Context(), userID, usecase.AvatarUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user, nil, nowUTC()))
}

// ToggleTwoFactor godoc
// @Summary Enable or disable emailed two-factor authentication
// @Description Enabling without a code mails one and answers 202 with requires_verification.
// @Tags Account
// @Accept json
// @Produce json
// @Param request body ToggleTwoFactorRequest true "Desired state and optional code"
// @Success 200 {object} ToggleTwoFactorResponse
// @Success 202 {object} ToggleTwoFactorResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/2fa/toggle [post]
// @Security BearerAuth
func (h *AccountHandler) toggleTwoFactor(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ToggleTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}
	if req.Enable == nil {
		fieldError(c, "enable", "This field is required.")
		return
	}

	res, err := h.accounts.ToggleTwoFactor(c.Request.Context(), userID, *req.Enable, req.VerificationCode)
	if err != nil {
		respondError(c, err)
		return
	}

	if res.Outcome == usecase.ToggleVerificationRequired {
		expiresAt := res.ExpiresAt
		c.JSON(http.StatusAccepted, ToggleTwoFactorResponse{
			Message:              msgTwoFactorCodeSent,
			Is2FAEnabled:         res.Enabled,
			RequiresVerification: true,
			ExpiresAt:            &expiresAt,
		})
		return
	}

	msg := msgTwoFactorDisabled
	if res.Enabled {
		msg = msgTwoFactorEnabled
	}
	c.JSON(http.StatusOK, ToggleTwoFactorResponse{Message: msg, Is2FAEnabled: res.Enabled})
}

func (h *AccountHandler) stats(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	stats, err := h.accounts.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(stats))
}

func (h *AccountHandler) securityLog(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	attempts, err := h.accounts.SecurityLog(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSecurityLog(attempts))
}

// DeleteAccount godoc
// @Summary Soft-delete the current account
// @Tags Account
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/delete [delete]
// @Security BearerAuth
func (h *AccountHandler) deleteAccount(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := h.accounts.DeleteAccount(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: msgAccountDeleted})
}

func requireUserID(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return "", false
	}
	return userID, true
}

// profileUpdate converts the wire form into the repository patch. It reports the
// offending field when a value cannot be parsed.
func profileUpdate(f *ProfileUpdateFields) (port.ProfileUpdate, string, bool) {
	update := port.ProfileUpdate{
		Bio:                f.Bio,
		Location:           f.Location,
		Website:            f.Website,
		Language:           f.Language,
		Timezone:           f.Timezone,
		EmailNotifications: f.EmailNotifications,
		PushNotifications:  f.PushNotifications,
		MarketingEmails:    f.MarketingEmails,
	}
	if f.BirthDate != nil && strings.TrimSpace(*f.BirthDate) != "" {
		d, err := time.Parse(birthDateLayout, strings.TrimSpace(*f.BirthDate))
		if err != nil {
			return port.ProfileUpdate{}, "birth_date", false
		}
		update.BirthDate = &d
	}
	if f.Visibility != nil {
		v := domain.ProfileVisibility(strings.ToLower(strings.TrimSpace(*f.Visibility)))
		update.Visibility = &v
	}
	return update, "", true
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
