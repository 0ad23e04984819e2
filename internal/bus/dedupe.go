package bus

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

// DedupeCache drops repeats of the same key inside a TTL window. The
// embedded player can report one playlist mutation several times (one per
// observed network response), and companions should see it once.
type DedupeCache struct {
	clock   clock.Clock
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewDedupeCache(clk clock.Clock, ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		clock:   clk,
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]time.Time, 64),
	}
}

// IsDuplicate reports whether key was seen within the TTL, recording it
// when it was not.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := d.clock.Now()
	cutoff := now.Add(-d.ttl)

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[key]; ok && !ts.Before(cutoff) {
		return true
	}
	d.cleanupLocked(cutoff)
	d.entries[key] = now
	return false
}

func (d *DedupeCache) cleanupLocked(cutoff time.Time) {
	for k, ts := range d.entries {
		if ts.Before(cutoff) {
			delete(d.entries, k)
		}
	}
	if d.maxSize <= 0 || len(d.entries) < d.maxSize {
		return
	}
	// Still full: evict the oldest until there is room for one more.
	for len(d.entries) >= d.maxSize {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, ts := range d.entries {
			if first || ts.Before(oldest) {
				oldestKey, oldest, first = k, ts, false
			}
		}
		delete(d.entries, oldestKey)
	}
}
