package core

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a size-bounded LRU whose entries expire after ttl as measured by clock.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache[K, cacheEntry[V]]
	ttl   time.Duration
	clock Clock
}

// NewTTLCache returns a cache holding at most size entries.
func NewTTLCache[K comparable, V any](size int, ttl time.Duration, clock Clock) *TTLCache[K, V] {
	if size <= 0 {
		size = 128
	}
	if clock == nil {
		clock = time.Now
	}
	c, err := lru.New[K, cacheEntry[V]](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &TTLCache[K, V]{lru: c, ttl: ttl, clock: clock}
}

// Get returns the cached value if it is present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock().Before(e.expiresAt) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, cacheEntry[V]{value: value, expiresAt: c.clock().Add(c.ttl)})
}

func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
