package auth

import (
	"sync"
	"time"

	"github.com/lzcstory/lzcstory/internal/model"
)

// SessionCache keeps recently validated sessions in memory so most requests
// skip the database lookup.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[string]cachedSession
	ttl      time.Duration
	done     chan struct{}
	once     sync.Once
}

type cachedSession struct {
	session  model.AdminSession
	cachedAt time.Time
}

// NewSessionCache creates a new session cache with the specified TTL
func NewSessionCache(ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	cache := &SessionCache{
		sessions: make(map[string]cachedSession),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go cache.cleanupLoop()
	return cache
}

// Get returns the cached session unless the entry or the session itself
// has expired at now.
func (c *SessionCache) Get(token string, now time.Time) (model.AdminSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.sessions[token]
	if !exists {
		return model.AdminSession{}, false
	}
	if now.After(cached.cachedAt.Add(c.ttl)) || !now.Before(cached.session.ExpiresAt) {
		return model.AdminSession{}, false
	}
	return cached.session, true
}

// Set caches session as validated at now.
func (c *SessionCache) Set(session model.AdminSession, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[session.Token] = cachedSession{
		session:  session,
		cachedAt: now,
	}
}

func (c *SessionCache) Delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, token)
}

// Clear removes all sessions from the cache
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions = make(map[string]cachedSession)
}

func (c *SessionCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.sessions)
}

// Close stops the cleanup goroutine.
func (c *SessionCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *SessionCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.cleanup(now)
		}
	}
}

func (c *SessionCache) cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for token, cached := range c.sessions {
		if now.After(cached.cachedAt.Add(c.ttl)) || !now.Before(cached.session.ExpiresAt) {
			delete(c.sessions, token)
		}
	}
}
