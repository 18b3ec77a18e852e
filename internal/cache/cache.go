// Package cache provides a small size-bounded LRU cache with per-entry TTL.
//
// It backs the per-process read caches on the decision path: sticky
// decisions, the views/clicks-today counters and candidate flight lists.
// The shared Redis cache remains authoritative; entries here only shave a
// round trip and expire within seconds to minutes.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// nowFn is swapped in tests to control expiry.
var nowFn = time.Now

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is a thread-safe LRU with TTL. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List
	items   map[string]*list.Element
}

// New creates a cache bounded to maxSize entries. Adding beyond the bound
// evicts the least recently used entry.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get returns the value for key when present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	en := el.Value.(*entry)
	if nowFn().After(en.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return en.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := nowFn().Add(ttl)
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry)
		en.value = value
		en.expiresAt = expires
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: expires})
	c.items[key] = el
	if c.ll.Len() > c.maxSize {
		if back := c.ll.Back(); back != nil {
			c.removeElement(back)
		}
	}
}

// Delete removes key when present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// StartCleanup sweeps expired entries every interval until stop is closed.
// The LRU bound already caps memory; the sweep just frees expired entries
// that are never read again.
func (c *Cache) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFn()
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
		}
		el = prev
	}
}
