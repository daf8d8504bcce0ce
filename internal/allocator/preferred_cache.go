package allocator

import (
	"sync"
	"time"
)

// preferredCache memoizes insurer preferred-shop sets for a short TTL so
// a burst of allocations for one insurer hits the relation store once.
type preferredCache struct {
	mu    sync.RWMutex
	store map[string]preferredEntry
	ttl   time.Duration
}

type preferredEntry struct {
	ids map[string]bool
	ts  time.Time
}

func newPreferredCache(ttl time.Duration) *preferredCache {
	return &preferredCache{store: make(map[string]preferredEntry), ttl: ttl}
}

func (c *preferredCache) Get(insurer string) (map[string]bool, bool) {
	c.mu.RLock()
	e, ok := c.store[insurer]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, insurer)
		c.mu.Unlock()
		return nil, false
	}
	return e.ids, true
}

func (c *preferredCache) Set(insurer string, ids map[string]bool) {
	c.mu.Lock()
	c.store[insurer] = preferredEntry{ids: ids, ts: time.Now()}
	c.mu.Unlock()
}
