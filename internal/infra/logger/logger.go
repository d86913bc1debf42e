package logger

import (
	"context"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// TraceIDKey is used to store the trace identifier echoed in error bodies.
type TraceIDKey struct{}

// New returns the process-wide zap.Logger. Production uses JSON output; every
// other environment gets the colored development encoder.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.InitialFields = map[string]any{"service": "sombreando-accounts"}

		lg, err = cfg.Build()
	})

	return lg, err
}

// WithContext returns the base logger annotated with the request and trace IDs carried by ctx.
func WithContext(ctx context.Context) *zap.Logger {
	base := lg
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(TraceIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// MaskEmail keeps the first three characters of the local part and the domain.
// Example: joao.silva@example.com -> joa***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if len(local) > 3 {
		local = local[:3]
	}
	if local == "" {
		return "***@" + domain
	}
	return local + "***@" + domain
}

// MaskPhone keeps the last four digits.
// Example: +5511987654321 -> ***4321
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		if phone == "" {
			return ""
		}
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

// MaskIP hides the host part: the last two octets for IPv4 and everything past
// the first four groups for IPv6.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	parsed := net.ParseIP(ip)
	switch {
	case parsed == nil:
		return "***"
	case parsed.To4() != nil:
		parts := strings.Split(parsed.To4().String(), ".")
		return parts[0] + "." + parts[1] + ".*.*"
	default:
		parts := strings.Split(ip, ":")
		if len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*:*:*:*"
		}
		return "***"
	}
}

// MaskString shows the first and last two characters of longer values.
func MaskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:2] + "***" + s[len(s)-2:]
}
