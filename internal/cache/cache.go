// Package cache implements a small in-process TTL cache with least-used eviction,
// used as a read-through layer in front of tabular lookups that are
// re-read often within a single request (session/pipeline metadata).
// Mirrors bunsui.performance.cache.MemoryCacheBackend/CacheManager.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value       any
	expiresAt   time.Time // zero means no expiry
	accessCount int
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Stats mirrors CacheManager.get_stats.
type Stats struct {
	Hits         int
	Misses       int
	Sets         int
	Deletes      int
	TotalRequests int
	HitRate      float64
}

// TTL is a mutex-guarded in-process cache bounded by MaxSize, evicting the
// entry with the lowest access count (ties broken by least recent access)
// when full. Mirrors MemoryCacheBackend._evict_least_used.
type TTL struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int

	hits, misses, sets, deletes int
}

func New(maxSize int) *TTL {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TTL{entries: map[string]*entry{}, maxSize: maxSize}
}

// Get returns the cached value for key and whether it was found and still
// live; an expired entry is evicted and reported as a miss.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	e.accessCount++
	e.lastAccess = time.Now()
	c.hits++
	return e.value, true
}

// Set stores value under key. A ttl of zero means no expiry.
func (c *TTL) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLeastUsed()
	}

	now := time.Now()
	e := &entry{value: value, lastAccess: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.entries[key] = e
	c.sets++
}

func (c *TTL) evictLeastUsed() {
	var victimKey string
	var victim *entry
	for k, e := range c.entries {
		if victim == nil ||
			e.accessCount < victim.accessCount ||
			(e.accessCount == victim.accessCount && e.lastAccess.Before(victim.lastAccess)) {
			victimKey, victim = k, e
		}
	}
	if victim != nil {
		delete(c.entries, victimKey)
	}
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deletes++
}

func (c *TTL) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*entry{}
}

func (c *TTL) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// InvalidatePattern deletes every key containing substr, mirroring
// invalidate_pattern's plain substring match.
func (c *TTL) InvalidatePattern(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
			c.deletes++
		}
	}
}

func (c *TTL) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits: c.hits, Misses: c.misses, Sets: c.sets, Deletes: c.deletes,
		TotalRequests: total, HitRate: hitRate,
	}
}
