package rulebase

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Cache is a bounded compilation cache mapping a fingerprint-set hash to a
// previously compiled rule base. It avoids recompiling unchanged sources.
//
// Entries are immutable once inserted: a changed source set produces a new
// key, never an in-place mutation. Duplicate concurrent puts for the same
// key are tolerated with last-write-wins semantics, since compilation is a
// pure function of its inputs.
//
// Eviction is least-recently-used. Hit, miss, and eviction counts are
// tracked for observability.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	// onEvict, if set, is called outside hot paths when an entry is
	// evicted. Used to keep metrics gauges in step.
	onEvict func(key string)
}

type cacheEntry struct {
	key      string
	ruleBase *RuleBase
}

// NewCache creates a compilation cache holding at most capacity entries.
// A capacity below one is treated as one.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// SetEvictionCallback registers a callback invoked with the evicted key
// whenever an entry is dropped. Must be called before the cache is shared.
func (c *Cache) SetEvictionCallback(fn func(key string)) {
	c.onEvict = fn
}

// Get returns the cached rule base for the given fingerprint-set hash, or
// false on a miss. A hit refreshes the entry's recency.
func (c *Cache) Get(key string) (*RuleBase, bool) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(elem)
	rb := elem.Value.(*cacheEntry).ruleBase
	c.mu.Unlock()

	c.hits.Add(1)
	return rb, true
}

// Put inserts a compiled rule base under the given fingerprint-set hash,
// evicting the least-recently-used entry if the cache is full. Putting an
// existing key replaces the entry.
func (c *Cache) Put(key string, rb *RuleBase) {
	if rb == nil {
		return
	}

	var evicted string

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).ruleBase = rb
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, ruleBase: rb})
	c.entries[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, entry.key)
			evicted = entry.key
		}
	}
	c.mu.Unlock()

	if evicted != "" {
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(evicted)
		}
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Hits returns the number of cache hits since creation.
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of cache misses since creation.
func (c *Cache) Misses() uint64 { return c.misses.Load() }

// Evictions returns the number of evicted entries since creation.
func (c *Cache) Evictions() uint64 { return c.evictions.Load() }
