// Package cache provides the in-memory store for analysis state.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default expiry policy for analysis entries.
const (
	DefaultSlidingTTL  = 30 * time.Minute
	DefaultAbsoluteTTL = 60 * time.Minute
	DefaultCapacity    = 1024
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Options configures a TTLCache.
type Options struct {
	Capacity    int           // maximum number of entries, each weighing one unit
	SlidingTTL  time.Duration // idle lifetime, reset on every access
	AbsoluteTTL time.Duration // hard lifetime measured from insertion
	Now         Clock
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.SlidingTTL <= 0 {
		o.SlidingTTL = DefaultSlidingTTL
	}
	if o.AbsoluteTTL <= 0 {
		o.AbsoluteTTL = DefaultAbsoluteTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type entry[V any] struct {
	key        string
	value      V
	created    time.Time
	lastAccess time.Time
}

// TTLCache is a size-bounded LRU map whose entries expire after a sliding idle
// window or an absolute lifetime, whichever comes first.
type TTLCache[V any] struct {
	mu    sync.Mutex
	opts  Options
	order *list.List // front = most recently accessed
	items map[string]*list.Element
}

// NewTTLCache creates an empty cache.
func NewTTLCache[V any](opts Options) *TTLCache[V] {
	return &TTLCache[V]{
		opts:  opts.withDefaults(),
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Set inserts or replaces key. Replacing keeps the original creation time so
// the absolute lifetime cannot be extended by rewriting an entry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		if !c.expired(e, now) {
			e.value = value
			e.lastAccess = now
			c.order.MoveToFront(el)
			return
		}
		c.removeElement(el)
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, created: now, lastAccess: now})
	c.items[key] = el

	for c.order.Len() > c.opts.Capacity {
		c.removeElement(c.order.Back())
	}
}

// Get returns the value for key and refreshes its sliding window.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	now := c.opts.Now()
	if c.expired(e, now) {
		c.removeElement(el)
		return zero, false
	}
	e.lastAccess = now
	c.order.MoveToFront(el)
	return e.value, true
}

// Update applies fn to the live value for key under the cache lock.
// It returns false when key is missing or expired.
func (c *TTLCache[V]) Update(key string, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry[V])
	now := c.opts.Now()
	if c.expired(e, now) {
		c.removeElement(el)
		return false
	}
	e.value = fn(e.value)
	e.lastAccess = now
	c.order.MoveToFront(el)
	return true
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *TTLCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V]), now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *TTLCache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.lastAccess) > c.opts.SlidingTTL || now.Sub(e.created) > c.opts.AbsoluteTTL
}

func (c *TTLCache[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
