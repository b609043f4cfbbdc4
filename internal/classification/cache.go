// Package classification computes and caches stage rankings for both race
// formats. All recomputation funnels through a per-stage single-flight
// guard; cache entries are tagged with the stage version counter that was
// current when the computation started.
package classification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/yourusername/apex-timing/internal/metrics"
	"github.com/yourusername/apex-timing/internal/models"
)

// Cache memoizes one classification per stage. It is owned by the engine
// and accessed only under the single-flight guard; there is no process-wide
// singleton.
type Cache struct {
	cache     *cache.Cache
	ttl       time.Duration
	mu        sync.RWMutex
	hitCount  uint64
	missCount uint64
}

// NewCache creates a classification cache with the given entry TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Get returns the cached classification for a stage, or nil. Version
// freshness is the caller's check: an entry may be present but stale.
func (c *Cache) Get(stageID uuid.UUID) *models.Classification {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, found := c.cache.Get(stageID.String()); found {
		if cls, ok := v.(*models.Classification); ok {
			c.hitCount++
			c.updateMetrics()
			return cls
		}
	}

	c.missCount++
	c.updateMetrics()
	return nil
}

// Put stores a computed classification for its stage.
func (c *Cache) Put(cls *models.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Set(cls.StageID.String(), cls, c.ttl)
	metrics.CachedStages.Set(float64(c.cache.ItemCount()))
}

// Drop removes a stage's entry.
func (c *Cache) Drop(stageID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Delete(stageID.String())
	metrics.CachedStages.Set(float64(c.cache.ItemCount()))
}

// Flush clears the whole cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Flush()
	c.hitCount = 0
	c.missCount = 0
	metrics.CachedStages.Set(0)
}

// DeleteExpired evicts expired entries; the scheduler calls this hourly.
func (c *Cache) DeleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.DeleteExpired()
	metrics.CachedStages.Set(float64(c.cache.ItemCount()))
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses uint64, ratio float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits = c.hitCount
	misses = c.missCount
	total := hits + misses
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}

func (c *Cache) updateMetrics() {
	total := c.hitCount + c.missCount
	if total > 0 {
		metrics.CacheHitRatio.Set(float64(c.hitCount) / float64(total))
	}
}
