// Package cache holds the per-collection query result cache. Entries expire after a
// TTL and the whole cache is dropped whenever the collection is written to.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultTTL is how long a query result stays cached.
const DefaultTTL = 60 * time.Second

// emaWeight is the smoothing factor of the hit-rate moving average.
const emaWeight = 0.1

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
	// HitRate is hits / (hits + misses), or 0 before the first lookup.
	HitRate float64
	// MovingHitRate is an exponential moving average over lookups.
	MovingHitRate float64
}

// Cache is a TTL cache of query results keyed by Key. It is safe for concurrent use.
type Cache struct {
	store  *gocache.Cache
	logger *zap.Logger

	mu     sync.Mutex
	hits   uint64
	misses uint64
	ema    float64
}

// New creates a cache whose entries live for ttl. A zero ttl selects DefaultTTL and a
// negative ttl disables expiry.
func New(ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = gocache.NoExpiration
	}
	cleanup := 2 * ttl
	if ttl == gocache.NoExpiration {
		cleanup = 0
	}
	return &Cache{
		store:  gocache.New(ttl, cleanup),
		logger: logger,
	}
}

// Get returns the cached value for key and records a hit or a miss.
func (c *Cache) Get(key string) (any, bool) {
	value, found := c.store.Get(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	sample := 0.0
	if found {
		c.hits++
		sample = 1
	} else {
		c.misses++
	}
	c.ema = c.ema*(1-emaWeight) + sample*emaWeight
	return value, found
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.store.SetDefault(key, value)
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	if n := c.store.ItemCount(); n > 0 {
		c.logger.Debug("Clearing query cache", zap.Int("entries", n))
	}
	c.store.Flush()
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Entries:       c.store.ItemCount(),
		MovingHitRate: c.ema,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
