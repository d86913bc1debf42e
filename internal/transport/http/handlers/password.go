package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	msgPasswordChanged = "Password changed."
	msgResetRequested  = "If the email is registered, a reset code has been sent."
	msgPasswordReset   = "Password reset. Sign in with the new password."
)

// PasswordHandler exposes endpoints for password management.
type PasswordHandler struct {
	accounts *usecase.AccountService
}

func NewPasswordHandler(accounts *usecase.AccountService) *PasswordHandler {
	return &PasswordHandler{accounts: accounts}
}

// RegisterRoutes binds password endpoints; change requires authentication.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	r.POST("/password/change", requireAuth, h.ChangePassword)
	r.POST("/password/reset", h.RequestReset)
	r.POST("/password/reset/confirm", h.ConfirmReset)
}

// ChangePassword godoc
// @Summary Change the password for an authenticated user
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordChangeRequest true "Password change request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/password/change [post]
// @Security BearerAuth
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	err := h.accounts.ChangePassword(c.Request.Context(), userID, usecase.ChangePasswordInput{
		OldPassword:        req.OldPassword,
		NewPassword:        req.NewPassword,
		NewPasswordConfirm: req.NewPasswordConfirm,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgPasswordChanged})
}

// RequestReset godoc
// @Summary Request a password reset code
// @Description Always answers 200 so registered emails cannot be probed.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/password/reset [post]
func (h *PasswordHandler) RequestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgResetRequested})
}

// ConfirmReset godoc
// @Summary Set a new password with a reset code
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetConfirmRequest true "Reset confirmation"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/password/reset/confirm [post]
func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	err := h.accounts.ResetPassword(c.Request.Context(), usecase.ResetPasswordInput{
		Email:              req.Email,
		Code:               req.Code,
		NewPassword:        req.NewPassword,
		NewPasswordConfirm: req.NewPasswordConfirm,
	})
	if err != nil {
		respondError(c, err,
			ErrorCase{Err: usecase.ErrUserNotFound, Status: http.StatusBadRequest, Message: "Invalid or expired verification code."},
			ErrorCase{Err: usecase.ErrAccountDisabled, Status: http.StatusBadRequest, Message: "Invalid or expired verification code."},
		)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgPasswordReset})
}
