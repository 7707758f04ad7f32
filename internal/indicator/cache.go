package indicator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type cacheEntry struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// Cache holds recently fetched indicator values keyed by
// symbol:indicator:interval. Entries past the TTL are treated as
// absent; they are never served stale.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache builds an empty cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached value and its fetch time, or ok=false when the
// key is absent or expired.
func (c *Cache) Get(key string) (decimal.Decimal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return decimal.Zero, time.Time{}, false
	}
	return e.value, e.fetchedAt, true
}

// Put stores value under key, stamped now.
func (c *Cache) Put(key string, value decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: c.now()}
}
