package credentials

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache. The clock is injectable so tests control expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Token
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache constructs a MemoryCache; a nil clock means time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]Token),
		now:     now,
	}
}

// Get returns the cached token while it is still valid.
func (c *MemoryCache) Get(ctx context.Context, site, account string) (Token, bool) {
	c.mu.RLock()
	tok, ok := c.entries[Key(site, account)]
	c.mu.RUnlock()
	if !ok || !tok.Valid(c.now()) {
		return Token{}, false
	}
	return tok, true
}

// Put stores tok until its ExpiresAt. Last writer wins.
func (c *MemoryCache) Put(ctx context.Context, tok Token) {
	if !tok.Valid(c.now()) {
		return
	}
	c.mu.Lock()
	c.entries[Key(tok.Site, tok.Account)] = tok
	c.mu.Unlock()
}

// Invalidate drops the entry for the pair.
func (c *MemoryCache) Invalidate(ctx context.Context, site, account string) {
	c.mu.Lock()
	delete(c.entries, Key(site, account))
	c.mu.Unlock()
}

// Prune removes expired entries and returns how many were dropped.
func (c *MemoryCache) Prune(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, tok := range c.entries {
		if !tok.Valid(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
