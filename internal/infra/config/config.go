package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	JWT          JWTSettings          `mapstructure:"jwt"`
	GRPC         GRPCSettings         `mapstructure:"grpc"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
	Mail         MailSettings         `mapstructure:"mail"`
	Verification VerificationSettings `mapstructure:"verification"`
	Storage      StorageSettings      `mapstructure:"storage"`
	Accounts     AccountSettings      `mapstructure:"accounts"`
	Password     PasswordSettings     `mapstructure:"password"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	SiteURL        string   `mapstructure:"site_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsProduction reports whether the service runs with production settings.
func (a AppSettings) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}

type GRPCSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	BlacklistPrefix string `mapstructure:"blacklist_prefix"`
}

// KafkaSettings configures the event producer. An empty broker list selects the stub publisher.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts    int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts int           `mapstructure:"register_max_attempts"`
	ActionLimit         int           `mapstructure:"action_limit"`
	ActionWindow        time.Duration `mapstructure:"action_window"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	KeyID           string        `mapstructure:"key_id"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// MailSettings selects how verification emails leave the service.
type MailSettings struct {
	Backend  string `mapstructure:"backend"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// VerificationSettings tunes one-time code issuance.
type VerificationSettings struct {
	CodeLength      int           `mapstructure:"code_length"`
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	ResendCooldown  time.Duration `mapstructure:"resend_cooldown"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// StorageSettings selects where avatars are written.
type StorageSettings struct {
	Backend        string     `mapstructure:"backend"`
	LocalDir       string     `mapstructure:"local_dir"`
	PublicURL      string     `mapstructure:"public_url"`
	MaxAvatarBytes int64      `mapstructure:"max_avatar_bytes"`
	S3             S3Settings `mapstructure:"s3"`
}

type S3Settings struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PublicURL string `mapstructure:"public_url"`
}

type AccountSettings struct {
	BlockedEmailDomains []string `mapstructure:"blocked_email_domains"`
	DeletedEmailDomain  string   `mapstructure:"deleted_email_domain"`
}

type PasswordSettings struct {
	MinLength   int `mapstructure:"min_length"`
	MinStrength int `mapstructure:"min_strength"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SOMBREANDO")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.site_url",
		"app.allowed_origins",
		"grpc.enabled",
		"grpc.host",
		"grpc.port",
		"grpc.health_interval",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.blacklist_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.key_directory",
		"jwt.key_id",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.action_limit",
		"rate_limit.action_window",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"mail.backend",
		"mail.host",
		"mail.port",
		"mail.username",
		"mail.password",
		"mail.from",
		"verification.code_length",
		"verification.code_ttl",
		"verification.resend_cooldown",
		"verification.cleanup_interval",
		"storage.backend",
		"storage.local_dir",
		"storage.public_url",
		"storage.max_avatar_bytes",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.access_key",
		"storage.s3.secret_key",
		"storage.s3.public_url",
		"accounts.blocked_email_domains",
		"accounts.deleted_email_domain",
		"password.min_length",
		"password.min_strength",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.App.AllowedOrigins = splitList(cfg.App.AllowedOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Accounts.BlockedEmailDomains = splitList(cfg.Accounts.BlockedEmailDomains)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt.access_token_ttl must be positive"))
	}
	if c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt.refresh_token_ttl must be positive"))
	}
	if c.Verification.CodeTTL <= 0 {
		errs = append(errs, errors.New("verification.code_ttl must be positive"))
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		errs = append(errs, fmt.Errorf("verification.code_length %d out of range [4,10]", c.Verification.CodeLength))
	}
	if c.RateLimit.WindowDuration <= 0 {
		errs = append(errs, errors.New("rate_limit.window_duration must be positive"))
	}
	if c.RateLimit.ActionWindow <= 0 {
		errs = append(errs, errors.New("rate_limit.action_window must be positive"))
	}

	switch c.Mail.Backend {
	case "console", "smtp":
	default:
		errs = append(errs, fmt.Errorf("unknown mail.backend %q", c.Mail.Backend))
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sombreando-accounts")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.site_url", "http://localhost:8080")
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.health_interval", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "sombreando")
	v.SetDefault("postgres.password", "sombreando")
	v.SetDefault("postgres.database", "sombreando")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.blacklist_prefix", "auth:refresh_blacklist")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "sombreando.accounts")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.key_directory", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", "sombreando")
	v.SetDefault("jwt.access_token_ttl", "5m")
	v.SetDefault("jwt.refresh_token_ttl", "24h")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "sombreando-accounts")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 5)
	v.SetDefault("rate_limit.action_limit", 5)
	v.SetDefault("rate_limit.action_window", "1h")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("mail.backend", "console")
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "Sombreando <no-reply@sombreando.com>")

	v.SetDefault("verification.code_length", 6)
	v.SetDefault("verification.code_ttl", "24h")
	v.SetDefault("verification.resend_cooldown", "5m")
	v.SetDefault("verification.cleanup_interval", "1h")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./media")
	v.SetDefault("storage.public_url", "http://localhost:8080/media")
	v.SetDefault("storage.max_avatar_bytes", 5*1024*1024)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.public_url", "")

	v.SetDefault("accounts.blocked_email_domains", []string{"tempmail.com", "10minutemail.com", "guerrillamail.com"})
	v.SetDefault("accounts.deleted_email_domain", "sombreando.com")

	v.SetDefault("password.min_length", 12)
	v.SetDefault("password.min_strength", 2)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "SOMBREANDO_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// splitList accepts both YAML-style lists and comma separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
