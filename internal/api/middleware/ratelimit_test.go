package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestFindLimitLongestPrefixWins(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/conversations/abc/messages", nil)
	limit := rl.findLimit(req)
	if limit == nil {
		t.Fatal("expected a limit for message posts")
	}
	if limit.Requests != 120 {
		t.Errorf("message posts got the conversation-create budget: %d", limit.Requests)
	}

	req = httptest.NewRequest(http.MethodPost, "/conversations", nil)
	limit = rl.findLimit(req)
	if limit == nil || limit.Requests != 20 {
		t.Errorf("conversation create should use the hourly budget, got %+v", limit)
	}
}

func TestFindLimitUnmatchedRoute(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if rl.findLimit(req) != nil {
		t.Error("health checks must not be rate limited")
	}
}

func TestSessionKeyPrefersBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/users?q=al", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("Authorization", "Bearer tok-123")

	if got := sessionKey(req); got != "ratelimit:user:tok-123" {
		t.Errorf("sessionKey = %q", got)
	}

	req.Header.Del("Authorization")
	if got := sessionKey(req); got != "ratelimit:ip:10.0.0.7" {
		t.Errorf("sessionKey without token = %q", got)
	}
}

func TestClientIPHeaderFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.RemoteAddr = "192.168.1.5:40000"

	if got := clientIP(req); got != "192.168.1.5" {
		t.Errorf("clientIP from RemoteAddr = %q", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP from X-Real-IP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.2, 203.0.113.9")
	if got := clientIP(req); got != "198.51.100.2" {
		t.Errorf("clientIP from X-Forwarded-For = %q", got)
	}
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop())

	called := false
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))

	if !called {
		t.Fatal("handler not reached")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
