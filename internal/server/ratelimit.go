package server

import (
	"sync"
	"time"
)

// pruneThreshold is the number of tracked clients after which stale entries
// are dropped on the next call.
const pruneThreshold = 1024

// RateLimiter allows one attempt per key every minInterval. A zero
// interval disables it.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSeen    map[string]time.Time
	now         func() time.Time
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		minInterval: minInterval,
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Allow records an attempt for key. When the attempt comes too soon it
// returns false and how long the caller has to wait.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r == nil || r.minInterval <= 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.lastSeen) >= pruneThreshold {
		r.prune(now)
	}
	last, ok := r.lastSeen[key]
	if !ok {
		r.lastSeen[key] = now
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed < r.minInterval {
		return false, r.minInterval - elapsed
	}
	r.lastSeen[key] = now
	return true, 0
}

func (r *RateLimiter) prune(now time.Time) {
	for key, last := range r.lastSeen {
		if now.Sub(last) >= r.minInterval {
			delete(r.lastSeen, key)
		}
	}
}
