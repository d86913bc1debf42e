package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	msgEmailVerified     = "Email verified."
	msgVerificationSent  = "Verification code sent."
	maxSuggestionsParam  = 20
	defaultSuggestionNum = 5
)

// RegistrationHandler exposes email verification and the public availability checks.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
	accounts     *usecase.AccountService
}

func NewRegistrationHandler(registration *usecase.RegistrationService, accounts *usecase.AccountService) *RegistrationHandler {
	return &RegistrationHandler{registration: registration, accounts: accounts}
}

// RegisterRoutes binds verification and availability endpoints.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup, resendMiddlewares []gin.HandlerFunc) {
	r.POST("/email/verify", h.verifyEmail)
	r.POST("/email/resend", chain(resendMiddlewares, h.resendVerification)...)
	r.GET("/email/check", h.checkEmail)
	r.POST("/email/check", h.checkEmail)
	r.GET("/username/check", h.checkUsername)
	r.POST("/username/check", h.checkUsername)
	r.GET("/username/suggestions", h.suggestUsernames)
}

// VerifyEmail godoc
// @Summary Confirm an email address
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body EmailVerifyRequest true "Email and code"
// @Success 200 {object} UserResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/email/verify [post]
func (h *RegistrationHandler) verifyEmail(c *gin.Context) {
	var req EmailVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	user, err := h.accounts.VerifyEmail(c.Request.Context(), req.Email, req.Token)
	if err != nil {
		respondError(c, err,
			ErrorCase{Err: usecase.ErrUserNotFound, Status: http.StatusBadRequest, Message: "Invalid or expired verification code."},
		)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msgEmailVerified,
		"user":    newUserResponse(user, nil, nowUTC()),
	})
}

// ResendVerification godoc
// @Summary Email a new verification code
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} ResendResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/email/resend [post]
func (h *RegistrationHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	issued, err := h.accounts.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResendResponse{
		Message:   msgVerificationSent,
		ExpiresAt: issued.ExpiresAt,
		Sent:      issued.Delivered,
	})
}

func (h *RegistrationHandler) checkEmail(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		fieldError(c, "email", "Email is required.")
		return
	}

	available, err := h.accounts.EmailAvailable(c.Request.Context(), email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, AvailabilityResponse{Available: available})
}

func (h *RegistrationHandler) checkUsername(c *gin.Context) {
	var req UsernameRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		fieldError(c, "username", "Username is required.")
		return
	}

	available, err := h.accounts.UsernameAvailable(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, AvailabilityResponse{Available: available})
}

// SuggestUsernames godoc
// @Summary Suggest free usernames
// @Tags Registration
// @Produce json
// @Param username query string true "Base username"
// @Param count query int false "Number of suggestions (default 5)"
// @Success 200 {object} SuggestionsResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/username/suggestions [get]
func (h *RegistrationHandler) suggestUsernames(c *gin.Context) {
	count := defaultSuggestionNum
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSuggestionsParam {
			fieldError(c, "count", "Count must be between 1 and 20.")
			return
		}
		count = n
	}

	suggestions, err := h.registration.SuggestUsernames(c.Request.Context(), c.Query("username"), count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuggestionsResponse{Suggestions: suggestions})
}
