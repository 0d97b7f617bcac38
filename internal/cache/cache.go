// Package cache provides a small LRU cache with per-entry TTLs. It backs the
// closed-session history: bounded, self-expiring, and safe for concurrent use.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired() bool {
	if e.ttl == 0 {
		return false
	}
	return time.Since(e.createdAt) > e.ttl
}

// LRUCache evicts the least recently set entry once capacity is reached, and
// lazily drops expired entries on access.
type LRUCache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	items      map[string]*list.Element
	order      *list.List // front = most recent
}

func NewLRUCache(capacity int, defaultTTL time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRUCache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Set stores value under key with the default TTL, evicting the oldest entry
// if the cache is full.
func (c *LRUCache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL. A zero TTL means
// the entry never expires (it can still be evicted).
func (c *LRUCache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = time.Now()
		e.ttl = ttl
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	c.items[key] = c.order.PushFront(&entry{
		key:       key,
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	})
}

// Get returns the value for key, or false if absent or expired.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired() {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes key if present.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Keys returns the live keys, most recently set first. Expired entries are
// dropped along the way.
func (c *LRUCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if e.expired() {
			c.order.Remove(el)
			delete(c.items, e.key)
		} else {
			keys = append(keys, e.key)
		}
		el = next
	}
	return keys
}

// Size returns the number of entries, including not-yet-collected expired ones.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
