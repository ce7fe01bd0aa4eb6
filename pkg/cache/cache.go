// Package cache provides the short-lived memo in front of the query layer.
//
// Entries are keyed by the canonical signature of a query (kind + scope
// filter + parameters) and expire after a bounded TTL. Any write touching a
// scope invalidates every entry mentioning that scope plus every
// scope-unrestricted entry, so a cached read is stale by at most one TTL.
// The cache is a best-effort layer: a miss or eviction only costs a
// recompute, never a query error.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Key is the canonical signature of one query.
type Key struct {
	// Kind names the operation ("aggregated", "summary", "realtime").
	Kind string

	// Filter is the caller's scope filter serialization: "*" when
	// unrestricted, otherwise sorted comma-joined scope keys.
	Filter string

	// Params canonically serializes the remaining query parameters.
	Params string
}

func (k Key) String() string {
	return k.Kind + "|" + k.Filter + "|" + k.Params
}

type entry struct {
	key       Key
	value     any
	expiresAt time.Time
}

// Cache is a TTL + LRU memo, safe for concurrent use. Construct it once at
// startup and hand it to the query layer; there is no package-level
// singleton.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache bounded to maxSize entries (LRU-evicted beyond that).
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key.String()]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	ent := el.Value.(*entry)
	if time.Now().After(ent.expiresAt) {
		c.removeLocked(el)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return ent.value, true
}

// Set stores value under key for ttl. At capacity the least recently used
// entry is evicted.
func (c *Cache) Set(key Key, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.String()
	if el, ok := c.entries[ks]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToFront(el)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.removeLocked(c.lru.Back())
	}
	el := c.lru.PushFront(&entry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.entries[ks] = el
}

// InvalidateScope drops every entry whose filter mentions scope and every
// scope-unrestricted ("*") entry, which might fold the scope into a global
// total.
func (c *Cache) InvalidateScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.lru.Front(); el != nil; el = next {
		next = el.Next()
		ent := el.Value.(*entry)
		if filterMentions(ent.key.Filter, scope) {
			c.removeLocked(el)
		}
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HitRate returns hits and misses since construction.
func (c *Cache) HitRate() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	ent := el.Value.(*entry)
	delete(c.entries, ent.key.String())
	c.lru.Remove(el)
}

func filterMentions(filter, scope string) bool {
	if filter == "*" {
		return true
	}
	for _, s := range strings.Split(filter, ",") {
		if s == scope {
			return true
		}
	}
	return false
}
