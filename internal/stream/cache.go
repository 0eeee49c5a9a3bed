package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// Cache sizing. Entries expire after resultTTL; when the cache is
// full, the oldest-inserted entry is evicted even if it was hit
// recently — insertion order, not LRU. Changing this silently would
// alter hit patterns under sustained load, so it stays documented
// behavior.
const (
	resultTTL       = 300 * time.Second
	maxCacheEntries = 1000
)

// nonCacheable lists tools whose execution has side effects; caching
// them would skip the effect on a repeat call.
var nonCacheable = map[string]struct{}{
	"send_command":     {},
	"execute_command":  {},
	"set_device_state": {},
	"toggle_device":    {},
	"delete_device":    {},
}

// Cacheable reports whether a tool's results may be cached.
func Cacheable(name string) bool {
	_, blocked := nonCacheable[name]
	return !blocked
}

type cacheEntry struct {
	result   string
	inserted time.Time
}

// ResultCache is a TTL cache of tool results shared across concurrent
// turns. Reads take the read lock; hits do not refresh entry age.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	order   []string // insertion order for eviction
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewResultCache creates a cache with production sizing.
func NewResultCache() *ResultCache {
	return &ResultCache{
		entries: make(map[string]cacheEntry),
		ttl:     resultTTL,
		max:     maxCacheEntries,
		now:     time.Now,
	}
}

// Get returns a cached result for the call, if fresh.
func (c *ResultCache) Get(name string, args map[string]any) (string, bool) {
	if !Cacheable(name) {
		return "", false
	}
	key := cacheKey(name, args)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.inserted) > c.ttl {
		return "", false
	}
	return entry.result, true
}

// Put stores a result. Side-effecting tools are silently skipped.
func (c *ResultCache) Put(name string, args map[string]any, result string) {
	if !Cacheable(name) {
		return
	}
	key := cacheKey(name, args)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.max {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: result, inserted: c.now()}
}

// Cleanup drops expired entries. Called opportunistically between
// turns; correctness does not depend on it since Get checks age.
func (c *ResultCache) Cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, key := range c.order {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.Sub(entry.inserted) > c.ttl {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// Len returns the current entry count.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

// cacheKey builds the lookup key: tool name plus the canonical JSON of
// the arguments. encoding/json marshals map keys in sorted order, so
// argument ordering in the original call does not fragment the cache.
func cacheKey(name string, args map[string]any) string {
	if len(args) == 0 {
		return name + ":{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return name + ":?"
	}
	return name + ":" + string(b)
}
