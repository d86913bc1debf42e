package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marioluccio/sobreando/internal/core/port"
	"github.com/marioluccio/sobreando/internal/infra/logger"
)

const (
	rateLimitProblemType  = "https://sombreando.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitStore decides and records an attempt in one atomic step.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.SlidingWindowResult, error)
}

// ThrottleObserver is told about every rejected request.
type ThrottleObserver interface {
	Throttled(scope string)
}

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

type RateLimiter struct {
	store    RateLimitStore
	observer ThrottleObserver
	logger   *zap.Logger
	now      func() time.Time
}

type ruleResult struct {
	rule       RateLimitRule
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

func (rl *RateLimiter) WithObserver(o ThrottleObserver) *RateLimiter {
	rl.observer = o
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. Store
// failures let the request through.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl == nil || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var best *ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			key := fmt.Sprintf("%s:%s", rule.Name, identifier)

			res, err := rl.evaluateRule(c.Request.Context(), rule, key, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", logger.MaskIP(identifier)),
					zap.Error(err),
				)
				continue
			}

			if best == nil || shouldReplaceHeaderResult(*best, res) {
				snapshot := res
				best = &snapshot
			}

			if !res.allowed {
				rl.logger.Info("request throttled",
					zap.String("rule", rule.Name),
					zap.String("identifier", logger.MaskIP(identifier)),
				)
				if rl.observer != nil {
					rl.observer.Throttled(rule.Name)
				}
				applyHeaders(c, res)
				RespondRateLimited(c, res.retryAfter, nil)
				return
			}
		}

		if best != nil {
			applyHeaders(c, *best)
		}

		c.Next()
	}
}

func (rl *RateLimiter) evaluateRule(ctx context.Context, rule RateLimitRule, key string, now time.Time) (ruleResult, error) {
	hit, err := rl.store.Hit(ctx, key, rule.Limit, rule.Window, now)
	if err != nil {
		if hit.Count == 0 {
			return ruleResult{}, err
		}
		// the decision was taken; only the cleanup of a rejected attempt failed
		rl.logger.Warn("rate limit cleanup failed", zap.String("rule", rule.Name), zap.Error(err))
	}

	result := ruleResult{
		rule:    rule,
		limit:   rule.Limit,
		reset:   now.Add(rule.Window),
		allowed: hit.Allowed,
	}
	if hit.HasOldest {
		result.reset = hit.Oldest.Add(rule.Window)
	}
	result.retryAfter = nonNegative(result.reset.Sub(now))

	if hit.Allowed {
		result.remaining = rule.Limit - hit.Count
		if result.remaining < 0 {
			result.remaining = 0
		}
	}

	return result, nil
}

func shouldReplaceHeaderResult(current, candidate ruleResult) bool {
	if !candidate.allowed && current.allowed {
		return true
	}

	if candidate.allowed == current.allowed {
		if candidate.remaining < current.remaining {
			return true
		}
		if candidate.remaining == current.remaining && candidate.reset.Before(current.reset) {
			return true
		}
	}

	return false
}

func applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.reset.Unix(), 10))
}

// RespondRateLimited aborts with 429, a Retry-After header and a ProblemDetails body.
func RespondRateLimited(c *gin.Context, retryAfter time.Duration, extensions map[string]any) {
	retrySeconds := int(math.Ceil(nonNegative(retryAfter).Seconds()))
	c.Header("Retry-After", strconv.Itoa(retrySeconds))

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds),
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
		Extensions: extensions,
	})
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
