package gateway

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	limiterIdleAfter    = 10 * time.Minute
)

// RateLimiter enforces "max requests per window" per key (app name or IP)
// using a token bucket of size max refilled at max/window. Rejections never
// queue.
type RateLimiter struct {
	name     string
	limiters sync.Map   // key → *limiterEntry
	r        rate.Limit // refill rate (requests per second)
	burst    int        // max burst size
	clock    clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
}

type limiterEntry struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window. If
// max <= 0 or window <= 0 the limiter always allows.
func NewRateLimiter(name string, max int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	rl := &RateLimiter{name: name, clock: clk, stop: make(chan struct{})}
	if max > 0 && window > 0 {
		rl.r = rate.Limit(float64(max) / window.Seconds())
		rl.burst = max
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from key may proceed. When it may not,
// retryAfter is how long until one token is available again.
func (rl *RateLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	if !rl.Enabled() {
		return true, 0
	}
	now := rl.clock.Now()
	entry := rl.getOrCreate(key, now)
	entry.touch(now)

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}

	missing := 1 - entry.limiter.TokensAt(now)
	retryAfter = time.Duration(missing / float64(rl.r) * float64(time.Second))
	slog.Warn("security.rate_limited", "limiter", rl.name, "key", key, "retry_after", retryAfter)
	return false, retryAfter
}

// Enabled reports whether the limiter ever rejects.
func (rl *RateLimiter) Enabled() bool {
	return rl.r > 0
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) getOrCreate(key string, now time.Time) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.r, rl.burst),
		lastSeen: now,
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (e *limiterEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

func (e *limiterEntry) idleSince(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen.Before(cutoff)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := rl.clock.Now().Add(-limiterIdleAfter)
	rl.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).idleSince(cutoff) {
			rl.limiters.Delete(key)
		}
		return true
	})
}
