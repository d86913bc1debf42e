package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/infra/config"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/infra/telemetry"
	"github.com/marioluccio/sobreando/internal/transport/http/handlers"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	loginRuleName    = "auth_login_ip"
	registerRuleName = "auth_register_ip"
	mediaPrefix      = "/media"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Registration *usecase.RegistrationService
	Accounts     *usecase.AccountService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	Services       ServiceSet
	JWTManager     *security.JWTManager
	Metrics        *telemetry.Metrics
	TracerProvider trace.TracerProvider
	Database       DatabaseChecker
	Cache          CacheChecker
	// MediaDir is served under /media when avatars are stored on local disk.
	MediaDir string
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &config.AppConfig{}
	}
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var observer middleware.HTTPObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(deps.TracerProvider, nil))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Metrics(observer))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}
	if deps.JWTManager != nil {
		r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.JWTManager).Keys)
	}
	if deps.MediaDir != "" {
		r.Static(mediaPrefix, deps.MediaDir)
	}

	if deps.Services.Auth == nil || deps.Services.Registration == nil || deps.Services.Accounts == nil {
		deps.Logger.Warn("auth services not configured, api routes disabled")
		return r
	}

	authMiddleware := middleware.RequireAuth(deps.Services.Auth)
	authGroup := r.Group("/api/v1/auth")
	{
		handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Registration, deps.Services.Accounts).
			RegisterRoutes(authGroup, authMiddleware, buildLoginMiddlewares(deps), buildRegisterMiddlewares(deps))

		handlers.NewRegistrationHandler(deps.Services.Registration, deps.Services.Accounts).
			RegisterRoutes(authGroup, nil)

		handlers.NewPasswordHandler(deps.Services.Accounts).
			RegisterRoutes(authGroup, authMiddleware)

		handlers.NewAccountHandler(deps.Services.Accounts, deps.Config.Storage.MaxAvatarBytes).
			RegisterRoutes(authGroup, authMiddleware)
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	return ipRule(deps, loginRuleName, deps.Config.RateLimit.LoginMaxAttempts)
}

func buildRegisterMiddlewares(deps Dependencies) []gin.HandlerFunc {
	return ipRule(deps, registerRuleName, deps.Config.RateLimit.RegisterMaxAttempts)
}

func ipRule(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
