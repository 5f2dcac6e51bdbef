package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cliniq/hms/internal/platform/auth"
)

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func serve(t *testing.T, h echo.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, h(c)
}

func TestRateLimit_WithinBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_PerUserIsolation(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	asUser := func(uid string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, uid))
	}

	if _, err := serve(t, h, asUser("alice")); err != nil {
		t.Fatalf("alice first request: %v", err)
	}
	if _, err := serve(t, h, asUser("alice")); err == nil {
		t.Fatal("alice second request: expected rate limit")
	}
	if _, err := serve(t, h, asUser("bob")); err != nil {
		t.Fatalf("bob first request: %v", err)
	}
}

func TestBucket_ZeroRate(t *testing.T) {
	now := time.Now()
	b := &bucket{tokens: 1, last: now}
	if ok, _ := b.take(now, 0, 1); !ok {
		t.Fatal("expected first token")
	}
	ok, retry := b.take(now, 0, 1)
	if ok || retry != 1 {
		t.Errorf("expected refusal with retry 1, got ok=%v retry=%d", ok, retry)
	}
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	start := time.Now()
	first := l.get("k", start)
	if l.get("k", start) != first {
		t.Fatal("expected the same bucket for the same key")
	}

	later := start.Add(2 * time.Minute)
	if l.get("k", later) == first {
		t.Error("expected idle bucket to be replaced")
	}
}
