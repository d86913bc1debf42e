package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/marioluccio/sobreando/internal/infra/security"
	"github.com/marioluccio/sobreando/internal/usecase"
)

type fakeParser struct {
	claims *security.TokenClaims
	err    error
	raw    string
}

func (f *fakeParser) ParseAccessToken(_ context.Context, raw string) (*security.TokenClaims, error) {
	f.raw = raw
	return f.claims, f.err
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		header string
		parser *fakeParser
		status int
	}{
		{"missing header", "", &fakeParser{}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", &fakeParser{}, http.StatusUnauthorized},
		{"empty token", "Bearer  ", &fakeParser{}, http.StatusUnauthorized},
		{"rejected token", "Bearer abc", &fakeParser{err: usecase.ErrInvalidToken}, http.StatusUnauthorized},
		{"backend failure", "Bearer abc", &fakeParser{err: errors.New("redis down")}, http.StatusInternalServerError},
		{"valid", "bearer abc", &fakeParser{claims: &security.TokenClaims{UserID: "user-1", SessionID: "sid"}}, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(EnrichContext(), RequireAuth(tc.parser))
			router.GET("/me", func(c *gin.Context) {
				id, ok := GetAuthenticatedUserID(c)
				claims, _ := GetClaims(c)
				if !ok || claims.SessionID != "sid" || GetRequestContext(c).UserID != id {
					c.Status(http.StatusTeapot)
					return
				}
				c.String(http.StatusOK, id)
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status == http.StatusOK && (rr.Body.String() != "user-1" || tc.parser.raw != "abc") {
				t.Fatalf("unexpected body %q or token %q", rr.Body.String(), tc.parser.raw)
			}
			if tc.status == http.StatusUnauthorized && !strings.Contains(rr.Body.String(), `"trace_id"`) {
				t.Fatalf("expected trace id in error body, got %s", rr.Body.String())
			}
		})
	}
}

func TestEnrichContextReadsEdgeHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var got RequestContext
	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/", func(c *gin.Context) {
		got = *GetRequestContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set(countryHeader, "BR")
	req.Header.Set(cityHeader, "Recife")
	req.Header.Set(TraceIDHeader, "trace-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got.TraceID != "trace-123" || rr.Header().Get(TraceIDHeader) != "trace-123" {
		t.Fatalf("expected propagated trace id, got %q", got.TraceID)
	}
	if got.IP != "203.0.113.9" || got.UserAgent != "curl/8.0" || got.Country != "BR" || got.City != "Recife" {
		t.Fatalf("unexpected request context %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(countryHeader, "XX")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if got.Country != "" || got.TraceID == "" {
		t.Fatalf("expected unknown country dropped and trace id generated, got %+v", got)
	}
}

func TestRequestIDReplacesInvalidValues(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, requestIDFromContext(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Body.String() != "abc-123" || rr.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("expected client id to be kept, got %q", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("a", 200))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if len(rr.Body.String()) != 36 {
		t.Fatalf("expected generated uuid, got %q", rr.Body.String())
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CORS([]string{"https://app.sombreando.com/"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.sombreando.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.sombreando.com" || rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("unexpected headers %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed, got %v", rr.Header())
	}
}

func TestTracingRecordsServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var traceID string
	router := gin.New()
	router.Use(Tracing(provider, propagation.TraceContext{}), EnrichContext())
	router.GET("/items/:id", func(c *gin.Context) {
		traceID = GetTraceID(c)
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /items/:id" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if span.SpanContext().TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" || traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected propagated trace id, got %s / %s", span.SpanContext().TraceID(), traceID)
	}
	if span.Status().Code.String() != "Error" {
		t.Fatalf("expected error status, got %v", span.Status())
	}
}
