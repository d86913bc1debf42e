package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/config"
	"github.com/marioluccio/sobreando/internal/infra/database"
	kafkainfra "github.com/marioluccio/sobreando/internal/infra/kafka"
	"github.com/marioluccio/sobreando/internal/infra/logger"
	"github.com/marioluccio/sobreando/internal/infra/mail"
	redisinfra "github.com/marioluccio/sobreando/internal/infra/redis"
	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/infra/storage"
	"github.com/marioluccio/sobreando/internal/infra/telemetry"
	postgresrepo "github.com/marioluccio/sobreando/internal/repository/postgres"
	redisrepo "github.com/marioluccio/sobreando/internal/repository/redis"
	transportgrpc "github.com/marioluccio/sobreando/internal/transport/grpc"
	grpcinterceptors "github.com/marioluccio/sobreando/internal/transport/grpc/interceptors"
	"github.com/marioluccio/sobreando/internal/transport/http/middleware"
	"github.com/marioluccio/sobreando/internal/transport/http/routes"
	"github.com/marioluccio/sobreando/internal/usecase"
)

const (
	rateLimitPrefix = "sombreando:rate-limit"
	shutdownTimeout = 10 * time.Second
)

type Application struct {
	cfg          *config.AppConfig
	engine       *gin.Engine
	logger       *zap.Logger
	pool         *pgxpool.Pool
	redis        *redisinfra.Client
	tracer       *telemetry.TracerProvider
	producer     *kafkainfra.Producer
	grpcServer   *transportgrpc.Server
	grpcAddr     string
	verification *usecase.VerificationService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics := telemetry.NewMetrics()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	cleanup := func() {
		_ = redisClient.Close()
		pool.Close()
	}

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory, cfg.JWT.KeyID)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)

	hasher, err := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("configure argon2: %w", err)
	}
	passwordPolicy := security.NewPasswordPolicy(cfg.Password.MinLength, cfg.Password.MinStrength)

	repos := postgresrepo.NewRepositories(pool)

	// Initialize Kafka event publisher
	var (
		eventPublisher port.EventPublisher
		kafkaProducer  *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			kafkaProducer = producer
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	mailer, err := mail.New(cfg.Mail, log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	avatars, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("init avatar storage: %w", err)
	}
	var mediaDir string
	if local, ok := avatars.(*storage.LocalStorage); ok {
		mediaDir = local.Dir()
	}

	blacklist := redisrepo.NewTokenBlacklist(redisClient.Client(), cfg.Redis.BlacklistPrefix)
	actionLimiter := redisrepo.NewActionLimiter(redisClient.Client())

	verificationService := usecase.NewVerificationService(repos.Tokens, mailer, cfg.Verification, log).
		WithMetrics(metrics)
	registrationService := usecase.NewRegistrationService(repos.Users, repos.Tx, verificationService, hasher, passwordPolicy,
		eventPublisher, cfg.Accounts.BlockedEmailDomains, log).WithMetrics(metrics)
	authService := usecase.NewAuthService(repos.Users, repos.LoginAttempts, repos.Sessions, verificationService, hasher,
		jwtManager, blacklist, log).WithMetrics(metrics)
	accountService := usecase.NewAccountService(repos.Users, repos.Profiles, repos.Tx, repos.LoginAttempts, repos.Sessions,
		verificationService, hasher, passwordPolicy, avatars, actionLimiter, eventPublisher, usecase.AccountSettings{
			DeletedEmailDomain: cfg.Accounts.DeletedEmailDomain,
			ResendCooldown:     cfg.Verification.ResendCooldown,
			MaxAvatarBytes:     cfg.Storage.MaxAvatarBytes,
			ActionLimit:        cfg.RateLimit.ActionLimit,
			ActionWindow:       cfg.RateLimit.ActionWindow,
		}, log).WithMetrics(metrics)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: rateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log).WithObserver(metrics)

	var grpcSrv *transportgrpc.Server
	if cfg.GRPC.Enabled {
		grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: metrics.Registry()})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("init grpc metrics: %w", err)
		}
		grpcSrv = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Logger:  log,
			Metrics: grpcMetrics,
			Checks: []transportgrpc.HealthCheck{
				{Name: "database", Check: pool.Ping},
				{Name: "redis", Check: redisClient.HealthCheck},
			},
		})
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		JWTManager:  jwtManager,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
		MediaDir:    mediaDir,
		Services: routes.ServiceSet{
			Auth:         authService,
			Registration: registrationService,
			Accounts:     accountService,
		},
	})

	return &Application{
		cfg:          cfg,
		engine:       engine,
		logger:       log,
		pool:         pool,
		redis:        redisClient,
		tracer:       tracer,
		producer:     kafkaProducer,
		grpcServer:   grpcSrv,
		grpcAddr:     fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
		verification: verificationService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeResources()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go runJanitor(workerCtx, a.verification, a.cfg.Verification.CleanupInterval, a.logger)

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		go a.grpcServer.WatchHealth(workerCtx, a.cfg.GRPC.HealthInterval)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("gRPC server panicked", zap.Any("panic", r))
					grpcErrCh <- fmt.Errorf("grpc server panicked: %v", r)
				}
			}()
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC server error", zap.Error(err))
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
		defer a.grpcServer.GracefulStop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting sombreando auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}

func (a *Application) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
