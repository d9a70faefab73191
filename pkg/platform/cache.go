package platform

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Cache memoizes the results of identity probes. The host's OS identity does not
// change for the lifetime of a process, so entries never expire on their own;
// Clear drops them so tests can simulate a different host.
type Cache struct {
	results *xsync.Map[string, bool]
}

// NewCache returns an empty probe cache.
func NewCache() *Cache {
	return &Cache{
		results: xsync.NewMap[string, bool](),
	}
}

// Do returns the cached result for key, computing and storing it with fn on a miss.
func (c *Cache) Do(key string, fn func() bool) bool {
	if c == nil {
		return fn()
	}
	v, ok := c.results.Load(key)
	if ok {
		return v
	}
	v = fn()
	c.results.Store(key, v)
	return v
}

// Len reports the number of memoized probes.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.results.Size()
}

// Clear forgets every memoized result.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.results.Clear()
}
