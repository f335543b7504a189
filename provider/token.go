package provider

import (
	"sync"
	"time"
)

// TokenCache holds the cached bearer token behind a mutex. It is injected
// into the Client so tests can seed it and multiple orchestration calls can
// share it safely.
type TokenCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenCache returns an empty TokenCache
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// get returns the cached token if it is still valid at now, honoring the safety margin
func (c *TokenCache) get(now time.Time, margin time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !now.Before(c.expires.Add(-margin)) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) set(token string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expires = expires
}

// invalidate clears the cache only if it still holds the given token, so a
// concurrent caller that already refreshed is not clobbered
func (c *TokenCache) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expires = time.Time{}
	}
}
