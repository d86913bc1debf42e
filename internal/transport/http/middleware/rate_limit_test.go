package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/marioluccio/sobreando/internal/core/port"
	redisrepo "github.com/marioluccio/sobreando/internal/repository/redis"
)

var limiterNow = time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

// fakeRateLimitStore starts every key with existing admitted attempts.
type fakeRateLimitStore struct {
	existing  int
	oldest    time.Time
	hasOldest bool
	err       error
	// cleanupErr reports a decided rejection whose cleanup failed.
	cleanupErr error

	keys     []string
	admitted int
}

func (f *fakeRateLimitStore) Hit(_ context.Context, identifier string, limit int, _ time.Duration, at time.Time) (port.SlidingWindowResult, error) {
	f.keys = append(f.keys, identifier)
	if f.err != nil {
		return port.SlidingWindowResult{}, f.err
	}

	res := port.SlidingWindowResult{Count: f.existing + 1, Oldest: f.oldest, HasOldest: f.hasOldest}
	if !res.HasOldest {
		res.Oldest, res.HasOldest = at, true
	}
	if res.Count > limit {
		res.Count = limit
		return res, f.cleanupErr
	}
	res.Allowed = true
	f.admitted++
	return res, nil
}

type countingObserver struct{ scopes []string }

func (o *countingObserver) Throttled(scope string) { o.scopes = append(o.scopes, scope) }

func loginRule(identifier IdentifierFunc) RateLimitRule {
	return RateLimitRule{Name: "auth_login_ip", Limit: 5, Window: time.Minute, Identifier: identifier}
}

func fixedIP(ip string) IdentifierFunc {
	return func(*gin.Context) (string, bool) { return ip, ip != "" }
}

func serveLimited(t *testing.T, limiter *RateLimiter, rules ...RateLimitRule) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/login", limiter.RateLimit(rules...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "198.51.100.4:4567"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterDecisions(t *testing.T) {
	cases := []struct {
		name         string
		store        *fakeRateLimitStore
		wantStatus   int
		wantAdmitted int
		wantHeaders  map[string]string
	}{
		{
			name:         "below limit records the attempt",
			store:        &fakeRateLimitStore{existing: 2, oldest: limiterNow.Add(-30 * time.Second), hasOldest: true},
			wantStatus:   http.StatusOK,
			wantAdmitted: 1,
			wantHeaders: map[string]string{
				"X-RateLimit-Limit":     "5",
				"X-RateLimit-Remaining": "2",
				"X-RateLimit-Reset":     strconv.FormatInt(limiterNow.Add(30*time.Second).Unix(), 10),
				"Retry-After":           "",
			},
		},
		{
			name:         "first attempt resets a full window from now",
			store:        &fakeRateLimitStore{},
			wantStatus:   http.StatusOK,
			wantAdmitted: 1,
			wantHeaders: map[string]string{
				"X-RateLimit-Remaining": "4",
				"X-RateLimit-Reset":     strconv.FormatInt(limiterNow.Add(time.Minute).Unix(), 10),
			},
		},
		{
			name:         "at limit is throttled until the oldest attempt leaves the window",
			store:        &fakeRateLimitStore{existing: 5, oldest: limiterNow.Add(-30 * time.Second), hasOldest: true},
			wantStatus:   http.StatusTooManyRequests,
			wantAdmitted: 0,
			wantHeaders:  map[string]string{"Retry-After": "30", "X-RateLimit-Remaining": "0"},
		},
		{
			name:         "store failure lets the request through",
			store:        &fakeRateLimitStore{err: errors.New("redis down")},
			wantStatus:   http.StatusOK,
			wantAdmitted: 0,
			wantHeaders:  map[string]string{"X-RateLimit-Limit": ""},
		},
		{
			name:        "rejection stands when its cleanup fails",
			store:       &fakeRateLimitStore{existing: 5, oldest: limiterNow.Add(-30 * time.Second), hasOldest: true, cleanupErr: errors.New("zrem timeout")},
			wantStatus:  http.StatusTooManyRequests,
			wantHeaders: map[string]string{"Retry-After": "30"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limiter := NewRateLimiter(tc.store, zaptest.NewLogger(t)).WithClock(func() time.Time { return limiterNow })
			rr := serveLimited(t, limiter, loginRule(fixedIP("192.0.2.1")))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if tc.store.admitted != tc.wantAdmitted {
				t.Fatalf("expected %d admitted attempts, got %d", tc.wantAdmitted, tc.store.admitted)
			}
			for header, want := range tc.wantHeaders {
				if got := rr.Header().Get(header); got != want {
					t.Fatalf("header %s: expected %q, got %q", header, want, got)
				}
			}
		})
	}
}

func TestRateLimiterProblemBodyAndObserver(t *testing.T) {
	store := &fakeRateLimitStore{existing: 5, oldest: limiterNow.Add(-10 * time.Second), hasOldest: true}
	observer := &countingObserver{}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return limiterNow }).
		WithObserver(observer)

	rr := serveLimited(t, limiter, loginRule(ClientIPIdentifier()))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if len(store.keys) != 1 || store.keys[0] != "auth_login_ip:198.51.100.4" {
		t.Fatalf("unexpected storage keys %v", store.keys)
	}
	if len(observer.scopes) != 1 || observer.scopes[0] != "auth_login_ip" {
		t.Fatalf("expected throttled observation, got %v", observer.scopes)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 50 || problem.Instance != "/login" {
		t.Fatalf("unexpected problem %+v", problem)
	}
}

func TestRateLimiterSkipsUnidentifiedAndInvalidRules(t *testing.T) {
	store := &fakeRateLimitStore{existing: 100}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return limiterNow })

	rr := serveLimited(t, limiter,
		loginRule(fixedIP("")),
		RateLimitRule{Name: "zero_limit", Limit: 0, Window: time.Minute, Identifier: fixedIP("192.0.2.1")},
		RateLimitRule{Name: "no_identifier", Limit: 1, Window: time.Minute},
	)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.keys) != 0 {
		t.Fatalf("expected the store to be untouched, got %v", store.keys)
	}
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	var limiter *RateLimiter
	if rr := serveLimited(t, limiter, loginRule(fixedIP("192.0.2.1"))); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRateLimiterAdmitsLimitUnderConcurrentBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "test:rl", TTL: time.Minute})
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return limiterNow })

	router := gin.New()
	router.POST("/login", limiter.RateLimit(loginRule(ClientIPIdentifier())), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	const requests = 50
	codes := make([]int, requests)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = "198.51.100.4:4567"
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			codes[i] = rr.Code
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, throttled int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			throttled++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if ok != 5 || throttled != requests-5 {
		t.Fatalf("expected 5 admitted and %d throttled, got %d and %d", requests-5, ok, throttled)
	}
}
