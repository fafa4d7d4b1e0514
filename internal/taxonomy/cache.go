package taxonomy

import (
	"fmt"
	"sync"
	"time"
)

// Loader produces a fresh crosswalk.
type Loader func() (*Crosswalk, error)

// Cache holds one loaded crosswalk for a bounded time. The owner decides when
// to Invalidate it; concurrent Gets during a reload share one load.
type Cache struct {
	mu       sync.Mutex
	load     Loader
	ttl      time.Duration
	now      func() time.Time
	value    *Crosswalk
	loadedAt time.Time
}

// NewCache builds a cache around load with the given TTL.
func NewCache(load Loader, ttl time.Duration) *Cache {
	return &Cache{
		load: load,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the cached crosswalk, reloading it when absent or expired. When a
// reload fails and a previous value exists, the stale value is served.
func (c *Cache) Get() (*Crosswalk, error) {
	if c == nil || c.load == nil {
		return nil, fmt.Errorf("taxonomy cache is not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.value != nil && (c.ttl <= 0 || now.Sub(c.loadedAt) < c.ttl) {
		return c.value, nil
	}

	fresh, err := c.load()
	if err != nil {
		if c.value != nil {
			return c.value, nil
		}
		return nil, fmt.Errorf("load crosswalk: %w", err)
	}
	c.value = fresh
	c.loadedAt = now
	return fresh, nil
}

// Invalidate drops the cached value so the next Get reloads.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.loadedAt = time.Time{}
}
