package recommend

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Cache memoizes recommendation responses. Implementations must be safe for
// concurrent readers; concurrent writes to one key follow single-writer-wins
// (a losing write is discarded, the result is recomputable).
type Cache interface {
	Get(key string) (*Response, bool)
	Put(key string, resp *Response)
	Stats() CacheStats
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// CacheKey derives the stable key for a request: a hash of the normalized
// context (exercise type, sorted objectives, sorted gaps, sorted species
// filter, topN). Field order in the incoming request never changes the key.
func CacheKey(req Request) string {
	n := req.normalized()
	blob, err := json.Marshal(n)
	if err != nil {
		// Request only contains strings and ints; Marshal cannot fail.
		return fmt.Sprintf("raw:%v", n)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(blob))
}

// lruEntry is a node of the LRU list with TTL support.
type lruEntry struct {
	key       string
	resp      *Response
	prev      *lruEntry
	next      *lruEntry
	expiresAt time.Time
}

// LRUCache is a thread-safe LRU cache with TTL and lazy expiration.
// O(1) get, put, and eviction via a doubly-linked list plus hashmap.
type LRUCache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*lruEntry

	// head.next is the most recently used, tail.prev the least.
	head *lruEntry
	tail *lruEntry

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// NewLRUCache creates a cache with the given capacity and TTL.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	c := &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry, capacity),
		head:     &lruEntry{},
		tail:     &lruEntry{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// SetClock replaces the cache's clock. Test helper.
func (c *LRUCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached response for key if present and not expired.
// An entry is never returned at or past its expiry. Found entries move to
// the front of the LRU order.
func (c *LRUCache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return nil, false
	}

	c.moveToFront(entry)
	c.hits++
	return entry.resp, true
}

// Put stores resp under key, evicting the least recently used entry when at
// capacity. Putting an existing key refreshes its value and TTL.
func (c *LRUCache) Put(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		entry.resp = resp
		entry.expiresAt = c.now().Add(c.ttl)
		c.moveToFront(entry)
		return
	}

	if len(c.items) >= c.capacity {
		oldest := c.tail.prev
		if oldest != c.head {
			c.removeEntry(oldest)
			c.evictions++
		}
	}

	entry := &lruEntry{
		key:       key,
		resp:      resp,
		expiresAt: c.now().Add(c.ttl),
	}
	c.items[key] = entry
	c.pushFront(entry)
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Entries:   len(c.items),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   rate,
	}
}

func (c *LRUCache) pushFront(e *lruEntry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRUCache) moveToFront(e *lruEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}

func (c *LRUCache) removeEntry(e *lruEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}
