package main

import (
	"sync"
	"time"
)

// CachedResponse is a rendered collection body along with the time it was stored.
type CachedResponse struct {
	Body     string
	StoredAt time.Time

	// Generation is the value Generation returned before the body was read from the store.
	Generation uint64
}

// ResponseCache stores rendered GET bodies per resource.
type ResponseCache interface {
	// Get returns the cached body for resource, if present and fresh.
	Get(resource string) (CachedResponse, bool)

	// Set stores the body for resource, overwriting any previous entry. The body is discarded when
	// resource was invalidated after resp.Generation was taken.
	Set(resource string, resp CachedResponse)

	// Generation returns the invalidation counter of resource.
	Generation(resource string) uint64

	// Invalidate drops the entry for resource.
	Invalidate(resource string)
}

// InMemoryResponseCache is a thread-safe in-memory ResponseCache with a fixed time-to-live.
// A nil cache or a non-positive TTL turns every call into a no-op.
type InMemoryResponseCache struct {
	entries     map[string]CachedResponse
	generations map[string]uint64
	mu          sync.RWMutex
	ttl         time.Duration
}

// NewInMemoryResponseCache creates a new in-memory response cache with a specified time-to-live duration for entries.
func NewInMemoryResponseCache(ttl time.Duration) *InMemoryResponseCache {
	return &InMemoryResponseCache{
		entries:     make(map[string]CachedResponse),
		generations: make(map[string]uint64),
		ttl:         ttl,
	}
}

func (c *InMemoryResponseCache) Get(resource string) (CachedResponse, bool) {
	if c == nil || c.ttl <= 0 {
		return CachedResponse{}, false
	}

	c.mu.RLock()
	entry, ok := c.entries[resource]
	c.mu.RUnlock()

	if !ok {
		return CachedResponse{}, false
	}

	if time.Since(entry.StoredAt) > c.ttl {
		// expired; remove lazily
		c.mu.Lock()
		delete(c.entries, resource)
		c.mu.Unlock()

		return CachedResponse{}, false
	}

	return entry, true
}

func (c *InMemoryResponseCache) Set(resource string, resp CachedResponse) {
	if c == nil || c.ttl <= 0 {
		return
	}

	resp.StoredAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[resource] != resp.Generation {
		return
	}

	c.entries[resource] = resp
}

func (c *InMemoryResponseCache) Generation(resource string) uint64 {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generations[resource]
}

func (c *InMemoryResponseCache) Invalidate(resource string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	delete(c.entries, resource)
	c.generations[resource]++
	c.mu.Unlock()
}

var _ ResponseCache = &InMemoryResponseCache{}
