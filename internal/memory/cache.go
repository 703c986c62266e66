// ABOUTME: Thread-safe TTL cache of text embeddings
// ABOUTME: Repeated queries skip the embedder; oldest entries are evicted first

package memory

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores a vector, when it was computed, and its list element.
type cacheEntry struct {
	vector    []float32
	timestamp time.Time
	element   *list.Element
}

// embedCache is a TTL-based, size-limited cache keyed by model and text.
// Uses a doubly-linked list in insertion order for O(1) eviction.
type embedCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newEmbedCache creates a cache and starts its cleanup goroutine.
func newEmbedCache(ttl time.Duration, maxSize int) *embedCache {
	c := &embedCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// get returns the cached vector if present and not expired.
func (c *embedCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.vector, true
}

// put stores vector under key. If the cache is at capacity, the oldest entry
// is evicted to make room.
func (c *embedCache) put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.vector = vector
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		vector:    vector,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *embedCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// len returns the number of cached entries, expired or not.
func (c *embedCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cleanup periodically drops expired entries until close.
func (c *embedCache) cleanup() {
	interval := c.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *embedCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// close stops the cleanup goroutine. Safe to call more than once.
func (c *embedCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
