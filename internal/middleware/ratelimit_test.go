package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// =============================================================================
// RateLimiter Tests
// =============================================================================

// newFrozenLimiter returns a limiter whose clock only moves when the test
// moves it.
func newFrozenLimiter(t *testing.T, burst int, window time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(burst, window, discardLogger())
	t.Cleanup(rl.Stop)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow_UpToBurst(t *testing.T) {
	rl, _ := newFrozenLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("192.168.1.1") {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiter_Allow_DifferentKeys(t *testing.T) {
	rl, _ := newFrozenLimiter(t, 2, time.Minute)

	rl.Allow("a")
	rl.Allow("a")

	if rl.Allow("a") {
		t.Error("key a should be limited")
	}
	if !rl.Allow("b") {
		t.Error("key b should have its own bucket")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl, now := newFrozenLimiter(t, 6, time.Minute)

	for i := 0; i < 6; i++ {
		rl.Allow("user")
	}
	if rl.Allow("user") {
		t.Fatal("bucket should be empty")
	}

	// One token every 10s at 6 per minute.
	*now = now.Add(10 * time.Second)
	if !rl.Allow("user") {
		t.Error("a token should have refilled after 10s")
	}
	if rl.Allow("user") {
		t.Error("only one token should have refilled")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	rl, _ := newFrozenLimiter(t, 6, time.Minute)

	if d := rl.RetryAfter("user"); d != 0 {
		t.Errorf("fresh key should not wait, got %v", d)
	}

	for i := 0; i < 6; i++ {
		rl.Allow("user")
	}

	if d := rl.RetryAfter("user"); d != 10*time.Second {
		t.Errorf("expected 10s wait, got %v", d)
	}
	// Asking must not consume the token it reports on.
	if d := rl.RetryAfter("user"); d != 10*time.Second {
		t.Errorf("expected RetryAfter to be repeatable, got %v", d)
	}
}

func TestRateLimiter_SweepsIdleKeys(t *testing.T) {
	rl, now := newFrozenLimiter(t, 2, time.Minute)

	rl.Allow("old")
	*now = now.Add(50 * time.Second)
	rl.Allow("recent")

	*now = now.Add(30 * time.Second)
	if removed := rl.sweep(*now); removed != 1 {
		t.Errorf("expected 1 key removed, got %d", removed)
	}
	if rl.Len() != 1 {
		t.Errorf("expected 1 key left, got %d", rl.Len())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, discardLogger())
	rl.Stop()
	rl.Stop()
}

// =============================================================================
// Rate Limit Middleware Tests
// =============================================================================

func TestRateLimitMiddleware_Limit(t *testing.T) {
	rl, _ := newFrozenLimiter(t, 2, time.Minute)
	mw := NewRateLimitMiddleware(rl, discardLogger())

	wrapped := mw.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/quota", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := serve(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := serve()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON body, got %q", ct)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry != 30 {
		t.Errorf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
	}
}

// =============================================================================
// getClientIP Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr with port", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"x-forwarded-for first hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 70.41.3.18"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:1", map[string]string{"X-Real-IP": " 203.0.113.9 "}, "203.0.113.9"},
		{"empty x-forwarded-for entry", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " , 70.41.3.18"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
