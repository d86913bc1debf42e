package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	msgInvalidBody       = "Invalid request body."
	msgRegistered        = "User created. Check your email to activate the account."
	msgTwoFactorRequired = "Verification code sent to your email."
	msgLoggedOut         = "Logged out."
	statusTwoFactor      = "two_factor_required"
)

// AuthHandler exposes registration, login, logout and token refresh.
type AuthHandler struct {
	auth         *usecase.AuthService
	registration *usecase.RegistrationService
	accounts     *usecase.AccountService
}

// NewAuthHandler constructs AuthHandler. accounts is used to attach the profile
// to the returned user and may be nil.
func NewAuthHandler(auth *usecase.AuthService, registration *usecase.RegistrationService, accounts *usecase.AccountService) *AuthHandler {
	return &AuthHandler{auth: auth, registration: registration, accounts: accounts}
}

// RegisterRoutes binds authentication routes, applying the per-route middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc, loginMiddlewares, registerMiddlewares []gin.HandlerFunc) {
	r.POST("/register", chain(registerMiddlewares, h.register)...)
	r.POST("/login", chain(loginMiddlewares, h.login)...)
	r.POST("/logout", requireAuth, h.logout)
	r.POST("/token/refresh", h.refresh)
}

// Register godoc
// @Summary Register a new user account
// @Description Creates an unverified account and emails a verification code.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegistrationRequest true "Registration request payload"
// @Success 201 {object} RegistrationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	res, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Email:           req.Email,
		Username:        req.Username,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		CompanyName:     req.CompanyName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		IP:              reqCtx.IP,
		UserAgent:       reqCtx.UserAgent,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{
		Message:              msgRegistered,
		User:                 h.userResponse(c, res.User),
		RequiresVerification: !res.User.IsVerified,
		VerificationSent:     res.Verification.Delivered,
	})
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Returns a token pair, or 202 with requires_2fa when an emailed code must be supplied.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Success 202 {object} TwoFactorRequiredResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidBody)
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	res, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		Code:      req.VerificationCode,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
		Country:   reqCtx.Country,
		City:      reqCtx.City,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if res.Outcome == usecase.LoginTwoFactorRequired {
		resp := TwoFactorRequiredResponse{
			Status:      statusTwoFactor,
			Requires2FA: true,
			Message:     msgTwoFactorRequired,
		}
		if res.Challenge != nil {
			resp.ExpiresAt = res.Challenge.ExpiresAt
			resp.CodeSent = res.Challenge.Delivered
		}
		c.JSON(http.StatusAccepted, resp)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Access:    res.Tokens.Access,
		Refresh:   res.Tokens.Refresh,
		ExpiresIn: expiresIn(res.Tokens.AccessExpiresAt, time.Now()),
		User:      h.userResponse(c, res.User),
	})
}

// Logout godoc
// @Summary Logout the current session
// @Description Blacklists the supplied refresh token and closes its session.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LogoutRequest false "Refresh token"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req LogoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, msgInvalidBody)
			return
		}
	}

	if err := h.auth.Logout(c.Request.Context(), userID, req.Refresh); err != nil {
		respondError(c, err, ErrorCase{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: "Invalid token."})
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msgLoggedOut})
}

// Refresh godoc
// @Summary Refresh an access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body TokenRefreshRequest true "Refresh request"
// @Success 200 {object} TokenRefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/token/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Refresh) == "" {
		badRequest(c, "Refresh token is required.")
		return
	}

	res, err := h.auth.Refresh(c.Request.Context(), strings.TrimSpace(req.Refresh))
	if err != nil {
		respondError(c, err,
			ErrorCase{Err: usecase.ErrAccountDisabled, Status: http.StatusUnauthorized, Message: "Invalid or expired token."},
			ErrorCase{Err: usecase.ErrUserNotFound, Status: http.StatusUnauthorized, Message: "Invalid or expired token."},
		)
		return
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		Access:    res.Access,
		ExpiresIn: expiresIn(res.ExpiresAt, time.Now()),
	})
}

// userResponse renders the user together with its profile when it can be loaded.
func (h *AuthHandler) userResponse(c *gin.Context, user domain.User) UserResponse {
	now := time.Now()
	if h.accounts == nil {
		return newUserResponse(user, nil, now)
	}
	view, err := h.accounts.Profile(c.Request.Context(), user.ID)
	if err != nil {
		_ = c.Error(err)
		return newUserResponse(user, nil, now)
	}
	return newUserResponse(view.User, view.Profile, now)
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	handlers = append(handlers, middlewares...)
	return append(handlers, handler)
}
