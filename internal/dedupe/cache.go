package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

type slot[V any] struct {
	ts    time.Time
	value V
}

// Cache keeps a bounded set of recent results keyed by request id so that
// redelivered requests are answered without running the pipeline again.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]slot[V]
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[V]{
		items:    make(map[string]slot[V], capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the value stored under key when it is inside the ttl window.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.items[key]; ok && now.Sub(s.ts) <= c.ttl {
		return s.value, true
	}
	var zero V
	return zero, false
}

// Put records the value for key, evicting expired and overflow entries.
func (c *Cache[V]) Put(key string, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = slot[V]{ts: now, value: value}
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		// A re-put key has a newer order entry; only the latest one evicts.
		if s, ok := c.items[oldest.key]; ok && s.ts.Equal(oldest.ts) {
			delete(c.items, oldest.key)
		}
	}
}
