package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/infra/logger"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// defaultErrorCases covers every usecase sentinel. Handlers may prepend their own cases.
var defaultErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "Invalid email or password."},
	{Err: usecase.ErrEmailNotVerified, Status: http.StatusBadRequest, Message: "Email not verified. Check your inbox."},
	{Err: usecase.ErrAccountDisabled, Status: http.StatusBadRequest, Message: "Account disabled."},
	{Err: usecase.ErrInvalidOrExpiredCode, Status: http.StatusBadRequest, Message: "Invalid or expired verification code."},
	{Err: usecase.ErrAlreadyVerified, Status: http.StatusBadRequest, Message: "Email already verified."},
	{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "User not found."},
	{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "Invalid or expired token."},
	{Err: usecase.ErrSessionInactive, Status: http.StatusUnauthorized, Message: "Session has ended."},
	{Err: usecase.ErrInvalidAvatar, Status: http.StatusBadRequest, Message: "File type not allowed. Use JPEG, PNG or GIF."},
	{Err: usecase.ErrAvatarTooLarge, Status: http.StatusBadRequest, Message: "File too large. Maximum 5MB."},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	if fallbackStatus >= http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("unhandled error",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondError writes the response for a usecase error: field errors as 400,
// throttling as 429 problem details, sentinels per the mapping table.
func respondError(c *gin.Context, err error, overrides ...ErrorCase) {
	var verr *usecase.ValidationError
	if errors.As(err, &verr) {
		resp := NewErrorResponse(c, "Validation failed.")
		resp.Fields = verr.Fields
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	var rl *usecase.RateLimitExceededError
	if errors.As(err, &rl) {
		middleware.RespondRateLimited(c, rl.RetryAfter, map[string]any{"scope": rl.Scope})
		return
	}

	cases := append(append([]ErrorCase{}, overrides...), defaultErrorCases...)
	RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "Internal server error.")
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, msg))
}

func fieldError(c *gin.Context, field, msg string) {
	resp := NewErrorResponse(c, "Validation failed.")
	resp.Fields = map[string][]string{field: {msg}}
	c.JSON(http.StatusBadRequest, resp)
}
