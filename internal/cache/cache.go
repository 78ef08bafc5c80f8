// Package cache holds rendered Markdown keyed by resource path.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults applied by callers that have no configuration of their own.
const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 1000
)

// Options configures a Cache.
type Options struct {
	Enabled bool
	TTL     time.Duration // zero disables expiry
	MaxSize int
}

// Cache is a bounded LRU with per-entry TTL. A hit refreshes both the
// entry's recency and its age. Safe for concurrent use.
type Cache struct {
	enabled bool
	mu      sync.Mutex
	store   *expirable.LRU[string, string]
}

// New builds a cache. A non-positive MaxSize falls back to DefaultMaxSize.
func New(opts Options) *Cache {
	size := opts.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	return &Cache{
		enabled: opts.Enabled,
		store:   expirable.NewLRU[string, string](size, nil, opts.TTL),
	}
}

// Get returns the value stored under key. A disabled cache always misses.
func (c *Cache) Get(key string) (string, bool) {
	if !c.enabled || key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.store.Get(key)
	if !ok {
		return "", false
	}
	// Re-adding resets the expiry clock.
	c.store.Add(key, value)
	return value, true
}

// Set stores value under key. Empty keys or values are ignored.
func (c *Cache) Set(key, value string) {
	if !c.enabled || key == "" || value == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Add(key, value)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// IsEnabled reports whether lookups and stores are active.
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

// Size returns the number of entries held, including expired ones not yet reaped.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}
