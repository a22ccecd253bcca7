package composer

import (
	"sync"

	"github.com/ellachat/ella/pkg/emotion"
)

type cacheKey struct {
	userKey string
	message string
}

type cachedReply struct {
	text    string
	emotion emotion.Label
}

// ResponseCache remembers final replies by exact (user key, message). It only
// grows.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cachedReply
}

// NewResponseCache creates an empty cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[cacheKey]cachedReply)}
}

func (c *ResponseCache) get(userKey, message string) (cachedReply, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[cacheKey{userKey, message}]
	return r, ok
}

// put keeps the first reply stored for a key.
func (c *ResponseCache) put(userKey, message string, r cachedReply) cachedReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{userKey, message}
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = r
	return r
}

// Len returns the number of cached replies.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CostMeter accumulates generation cost. The total never decreases.
type CostMeter struct {
	mu    sync.Mutex
	total float64
}

// Add records delta, ignoring negative values, and returns the new total.
func (m *CostMeter) Add(delta float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delta > 0 {
		m.total += delta
	}
	return m.total
}

// Total returns the accumulated cost.
func (m *CostMeter) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
