package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/optcoord/optcoord/pkg/config"
	"github.com/optcoord/optcoord/pkg/types"
)

// IntelligentCache is a bounded, TTL-aware key/value cache with hybrid
// LFU/recency eviction: the victim is the entry with the lowest access
// count, ties broken by oldest creation time.
type IntelligentCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  config.CacheConfig
	logger  *zap.Logger

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped bool

	// evictHook, when set, observes every capacity eviction. Invoked
	// outside the lock; must not call back into the cache.
	evictHook func(key string)
}

// entry is a cache entry. createdAt drives TTL expiry and the eviction
// tie-break; accessCount drives eviction order.
type entry struct {
	value       types.Value
	createdAt   time.Time
	accessCount uint64
}

// New creates an intelligent cache and starts its background expiry sweep.
// Callers must Stop the cache to release the sweep goroutine.
func New(cfg config.CacheConfig, logger *zap.Logger) *IntelligentCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &IntelligentCache{
		entries: make(map[string]*entry),
		config:  cfg,
		logger:  logger.Named("cache"),
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Get returns the cached value for key. An entry older than the TTL is
// treated as absent and removed (lazy expiry). Hits increment the entry's
// access count.
func (c *IntelligentCache) Get(key string) (types.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if time.Since(e.createdAt) > c.config.TTL {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return nil, false
	}

	e.accessCount++
	c.hits++
	return e.value, true
}

// OnEvict registers an observer invoked for every capacity eviction.
func (c *IntelligentCache) OnEvict(fn func(key string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictHook = fn
}

// Set stores value under key. When the cache is at capacity one entry is
// evicted first, so size never exceeds MaxSize.
func (c *IntelligentCache) Set(key string, value types.Value) {
	c.mu.Lock()

	var evicted string
	var hook func(string)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxSize {
		evicted = c.evictOne()
		hook = c.evictHook
	}

	c.entries[key] = &entry{
		value:     value,
		createdAt: time.Now(),
	}
	c.mu.Unlock()

	if hook != nil && evicted != "" {
		hook(evicted)
	}
}

// evictOne removes the entry with the lowest access count, breaking ties by
// oldest creation time, and returns the victim's key. Caller must hold the
// lock.
func (c *IntelligentCache) evictOne() string {
	var victimKey string
	var victim *entry

	for key, e := range c.entries {
		if victim == nil ||
			e.accessCount < victim.accessCount ||
			(e.accessCount == victim.accessCount && e.createdAt.Before(victim.createdAt)) {
			victimKey = key
			victim = e
		}
	}

	if victim != nil {
		delete(c.entries, victimKey)
		c.evictions++
		c.logger.Debug("evicted entry",
			zap.String("key", victimKey),
			zap.Uint64("access_count", victim.accessCount))
	}
	return victimKey
}

// Len returns the current number of entries.
func (c *IntelligentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries and resets hit/miss counters.
func (c *IntelligentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
}

// GetStats returns a snapshot of cache statistics.
func (c *IntelligentCache) GetStats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := types.CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
		Capacity:    c.config.MaxSize,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Stop terminates the background expiry sweep. Idempotent.
func (c *IntelligentCache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

// sweepLoop eagerly removes expired entries so memory stays bounded even
// when expired keys are never read again.
func (c *IntelligentCache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *IntelligentCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, e := range c.entries {
		if time.Since(e.createdAt) > c.config.TTL {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		delete(c.entries, key)
		c.expirations++
	}

	if len(expired) > 0 {
		c.logger.Debug("swept expired entries", zap.Int("count", len(expired)))
	}
}
