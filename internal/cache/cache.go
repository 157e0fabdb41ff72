// Package cache provides an in-memory TTL cache for market data. Entries
// carry a class that determines their freshness window, and expired
// entries remain readable through explicit stale accessors so callers can
// degrade gracefully when every upstream source is down.
package cache

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantumtrades/marketd/internal/common"
)

// eventClasses maps semantic events to the cache classes they invalidate.
var eventClasses = map[string][]common.CacheClass{
	"quote_update":   {common.ClassStockPrices, common.ClassMarketOverview},
	"transaction":    {common.ClassStockPrices, common.ClassMarketOverview},
	"sync_complete":  {common.ClassHistoricalData},
	"listing_change": {common.ClassSearchResults},
}

type entry struct {
	value   any
	class   common.CacheClass
	updated time.Time
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	StaleHits int64   `json:"stale_hits"`
	Evictions int64   `json:"evictions"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Cache is a classed TTL cache. Construct one per application instance.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttls    map[common.CacheClass]time.Duration
	logger  *common.Logger
	now     func() time.Time
	group   singleflight.Group

	hits      int64
	misses    int64
	staleHits int64
	evictions int64

	stop chan struct{}
	once sync.Once
}

// Option configures the cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *common.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock sets the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache with the given per-class TTLs. A janitor goroutine
// sweeps long-expired entries until Close is called.
func New(ttls map[common.CacheClass]time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		ttls:    ttls,
		logger:  common.NewDefaultLogger(),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if c.ttls == nil {
		c.ttls = common.DefaultTTLs()
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.janitor()
	return c
}

// Close stops the janitor.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
}

// ttl returns the freshness window for a class.
func (c *Cache) ttl(class common.CacheClass) time.Duration {
	if d, ok := c.ttls[class]; ok {
		return d
	}
	return common.TTLStockPrices
}

// Get returns the cached value if present and still fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.updated) >= c.ttl(e.class) {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// GetStale returns the cached value regardless of freshness. Callers use
// it only after every live source has failed.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.updated) >= c.ttl(e.class) {
		c.staleHits++
	}
	return e.value, true
}

// Set stores a value under the given class.
func (c *Cache) Set(key string, class common.CacheClass, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{
		value:   value,
		class:   class,
		updated: c.now(),
	}
}

// GetOrLoad returns the fresh cached value or invokes load, coalescing
// concurrent loads of the same key into a single call.
func (c *Cache) GetOrLoad(key string, class common.CacheClass, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent loader may have filled the entry already.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, class, v)
		return v, nil
	})
	return v, err
}

// Invalidate removes every entry whose key contains the pattern and
// returns the number removed. An empty pattern clears the cache.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if pattern == "" || strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += int64(removed)
	return removed
}

// InvalidateClass removes every entry of a class.
func (c *Cache) InvalidateClass(class common.CacheClass) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.class == class {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += int64(removed)
	return removed
}

// InvalidateByEvent removes the classes mapped to a semantic event and
// returns the number of entries removed. Unknown events are a no-op.
func (c *Cache) InvalidateByEvent(event string) int {
	classes, ok := eventClasses[event]
	if !ok {
		c.logger.Debug().Str("event", event).Msg("No cache classes mapped to event")
		return 0
	}
	removed := 0
	for _, class := range classes {
		removed += c.InvalidateClass(class)
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		StaleHits: c.staleHits,
		Evictions: c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// janitor drops entries that have outlived several freshness windows.
// Stale reads only need recent leftovers, not unbounded growth.
func (c *Cache) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

const staleRetention = 4

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.updated) >= c.ttl(e.class)*staleRetention {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.evictions += int64(removed)
		c.logger.Debug().Int("removed", removed).Msg("Cache janitor sweep complete")
	}
}
