package cache

import (
	"log/slog"
	"sync"
	"time"
)

// entry is a cached item with its expiration time
type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a thread-safe cache whose entries expire after a fixed TTL.
// Used to dedupe low-stock alerts so a listing sitting below the threshold
// does not re-alert on every claim.
type TTLCache struct {
	items         map[string]entry
	mutex         sync.RWMutex
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewTTLCache creates a TTL cache and starts its background cleanup loop
func NewTTLCache(ttl, cleanupInterval time.Duration) *TTLCache {
	c := &TTLCache{
		items:       make(map[string]entry),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	c.cleanupTicker = time.NewTicker(cleanupInterval)
	go c.cleanupLoop()

	slog.Info("TTL cache initialized",
		"ttl", ttl.String(),
		"cleanup_interval", cleanupInterval.String())

	return c
}

// Set stores a value under key for the cache's TTL
func (c *TTLCache) Set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the value for key if present and not expired
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.items[key]
	if !exists || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key from the cache
func (c *TTLCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Size returns the number of entries currently held, expired included
func (c *TTLCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Stop halts the cleanup goroutine
func (c *TTLCache) Stop() {
	c.cleanupTicker.Stop()
	close(c.stopCleanup)
}

func (c *TTLCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *TTLCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("Cache cleanup completed",
			"expired_entries", removed,
			"remaining_entries", len(c.items))
	}
}
