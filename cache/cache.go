// Package cache is a short-lived response cache for aggregated chain reads.
// An entry is served only while younger than the freshness window; expiry is
// checked on read and the backing LRU reaps what nobody reads again.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultWindow is how long an aggregated answer stays fresh.
const DefaultWindow = 30 * time.Second

// DefaultMaxEntries bounds memory when many accounts are queried.
const DefaultMaxEntries = 4096

type entry struct {
	value      any
	capturedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	window time.Duration
	now    func() time.Time
	lru    *expirable.LRU[string, entry]
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	now        func() time.Time
	maxEntries int
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithMaxEntries caps the number of entries; the least recently used entry
// is evicted first.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// New returns a cache whose entries are valid for window. A non-positive
// window selects DefaultWindow.
func New(window time.Duration, opts ...Option) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	cfg := config{now: time.Now, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		window: window,
		now:    cfg.now,
		// The LRU runs on the wall clock; a slower injected clock only ever
		// sees entries the LRU still holds.
		lru: expirable.NewLRU[string, entry](cfg.maxEntries, nil, window),
	}
}

// Window reports the freshness window.
func (c *Cache) Window() time.Duration { return c.window }

// Get returns the value stored under key while it is fresh.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.capturedAt) >= c.window {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any previous entry.
func (c *Cache) Set(key string, value any) {
	c.lru.Add(key, entry{value: value, capturedAt: c.now()})
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.lru.Purge()
}

// InvalidatePrefix drops every entry whose key starts with prefix and
// reports how many were removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// Len counts stored entries, fresh or not yet reaped.
func (c *Cache) Len() int { return c.lru.Len() }

// GetAs is Get with a type assertion. A stored value of another type is
// reported as absent.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
