package query

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/vela"
)

// DefaultCache is the process-wide statement cache.
var DefaultCache = NewCache(0)

// Cache is a statement cache. Reads take a shared lock; concurrent misses
// of one key run a single build.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	// keys in insertion order, for eviction.
	keys  []string
	max   int
	group singleflight.Group
}

var _ vela.StatementCache = (*Cache)(nil)

// NewCache returns a cache holding at most max entries, evicting the
// oldest first. A max of zero or less means unbounded.
func NewCache(max int) *Cache {
	return &Cache{entries: make(map[string]any), max: max}
}

// Load returns the cached value for key.
func (c *Cache) Load(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	return v, ok
}

// LoadOrBuild returns the cached value for key, building and storing it on
// a miss. Build errors are not cached.
func (c *Cache) LoadOrBuild(key string, build func() (any, error)) (any, error) {
	if v, ok := c.Load(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Load(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		c.store(key, v)
		return v, nil
	})
	return v, err
}

func (c *Cache) store(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = v
	for c.max > 0 && len(c.keys) > c.max {
		delete(c.entries, c.keys[0])
		c.keys = c.keys[1:]
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.keys = nil
	c.mu.Unlock()
}
