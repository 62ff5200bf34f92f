// Package cache provides in-memory cache implementations.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a thread-safe LRU (Least Recently Used) cache with a fixed capacity
// and an optional per-entry TTL.
//
// When the cache reaches capacity, the least recently accessed entry is evicted
// to make room for new entries. Both Get and Set operations mark an entry as
// recently used. With a TTL configured, expired entries are dropped lazily on
// Get rather than by a background sweeper.
type LRU[K comparable, V any] struct {
	capacity int
	ttl      time.Duration // zero disables expiry
	now      func() time.Time
	mu       sync.RWMutex
	items    map[K]*list.Element
	order    *list.List // Front = most recent, Back = least recent
}

// entry holds a key-value pair in the LRU cache.
type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// NewLRU creates a new LRU cache with the given capacity and no expiry.
// Capacity must be positive; if zero or negative, a capacity of 1 is used.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	return NewLRUWithTTL[K, V](capacity, 0, time.Now)
}

// NewLRUWithTTL creates an LRU cache whose entries expire ttl after being set.
// The clock is injectable so expiry can be tested without real timers.
func NewLRUWithTTL[K comparable, V any](capacity int, ttl time.Duration, now func() time.Time) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	if now == nil {
		now = time.Now
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a value by key and marks it as recently used.
// Expired entries are removed and reported as missing.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	ent := elem.Value.(*entry[K, V])
	if c.ttl > 0 && c.now().Sub(ent.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		return zero, false
	}

	c.order.MoveToFront(elem)
	return ent.value, true
}

// Set adds or updates a value in the cache.
// If the key already exists, its value and stored-at time are refreshed and
// it's marked as recently used. If the cache is at capacity, the least
// recently used entry is evicted.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		ent := elem.Value.(*entry[K, V])
		ent.value = value
		ent.storedAt = c.now()
		return
	}

	// Evict LRU entry if at capacity
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
		}
	}

	// Add new entry at front (most recent)
	elem := c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: c.now()})
	c.items[key] = elem
}

// Remove deletes a key from the cache.
// If the key doesn't exist, this is a no-op.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the number of items currently in the cache, including entries
// that have expired but not yet been dropped.
func (c *LRU[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Clear removes all items from the cache.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}
