package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

func TestRateLimiter_MaxPerWindow(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	rl := NewRateLimiter("test", 2, time.Second, clk)
	defer rl.Stop()

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	ok, retry := rl.Allow("a")
	if ok {
		t.Fatal("third request allowed")
	}
	if retry <= 0 || retry > 500*time.Millisecond {
		t.Errorf("retryAfter = %v", retry)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("keys share a bucket")
	}

	clk.Advance(500 * time.Millisecond)
	if ok, _ := rl.Allow("a"); !ok {
		t.Error("token not refilled")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter("off", 0, time.Minute, nil)
	defer rl.Stop()
	if rl.Enabled() {
		t.Fatal("limiter enabled with max 0")
	}
	for i := 0; i < 100; i++ {
		if ok, _ := rl.Allow("k"); !ok {
			t.Fatal("disabled limiter rejected")
		}
	}
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	rl := NewRateLimiter("test", 1, time.Minute, clk)
	defer rl.Stop()

	rl.Allow("old")
	clk.Advance(limiterIdleAfter + time.Second)
	rl.Allow("fresh")
	rl.cleanup()

	if _, ok := rl.limiters.Load("old"); ok {
		t.Error("idle entry kept")
	}
	if _, ok := rl.limiters.Load("fresh"); !ok {
		t.Error("fresh entry dropped")
	}
}

func TestLimitMiddleware_KeysByIP(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	rl := NewRateLimiter("test", 1, time.Minute, clk)
	defer rl.Stop()
	h := limit(rl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)

	if first.Code != http.StatusNoContent {
		t.Errorf("first = %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") != "60" {
		t.Errorf("second = %d Retry-After %q", second.Code, second.Header().Get("Retry-After"))
	}
}
