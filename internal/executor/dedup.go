package executor

import (
	"sync"
	"time"
)

// RecentTargets remembers liquidation targets that were recently submitted so
// the orchestrator does not fire twice at a position whose on-chain state has
// not caught up yet. It is safe for concurrent use.
type RecentTargets struct {
	seen map[string]time.Time // target key -> submitted at
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewRecentTargets creates a RecentTargets that treats a target as recent for
// ttl after it was marked. A zero ttl disables the guard.
func NewRecentTargets(ttl time.Duration) *RecentTargets {
	return &RecentTargets{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Recent reports whether key was marked within the TTL window.
func (d *RecentTargets) Recent(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[key]
	return ok && d.now().Sub(at) < d.ttl
}

// Mark records key as submitted now.
func (d *RecentTargets) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *RecentTargets) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
