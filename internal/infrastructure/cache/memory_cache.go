package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is an LRU cache with per-item TTL, safe for concurrent use.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]*entry
	lru      *list.List
	maxItems int
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

type entry struct {
	key     string
	value   []byte
	expiry  time.Time
	element *list.Element
}

// NewMemoryCache creates an LRU cache holding at most maxItems entries.
func NewMemoryCache(maxItems int, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = 1
	}

	return &MemoryCache{
		items:    make(map[string]*entry),
		lru:      list.New(),
		maxItems: maxItems,
		now:      time.Now,
		logger:   logger,
	}
}

// Get retrieves a copy of the cached value.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	if c.expired(e) {
		c.remove(e)
		c.misses++
		return nil, false, nil
	}

	c.lru.MoveToFront(e.element)
	c.hits++

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

// Set stores value for ttl; a ttl <= 0 never expires.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.remove(existing)
	}

	for len(c.items) >= c.maxItems && c.lru.Len() > 0 {
		oldest := c.lru.Back().Value.(*entry)
		c.remove(oldest)
		c.evictions++
		c.logger.Debug("Evicted cache entry", zap.String("key", oldest.key))
	}

	e := &entry{key: key, value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiry = c.now().Add(ttl)
	}
	e.element = c.lru.PushFront(e)
	c.items[key] = e

	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
	return nil
}

// Close drops every entry.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lru.Init()
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     len(c.items),
		HitRate:   hitRate,
	}
}

// PurgeExpired drops expired entries and reports how many went.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged int
	for _, e := range c.items {
		if c.expired(e) {
			c.remove(e)
			purged++
		}
	}
	if purged > 0 {
		c.logger.Debug("Purged expired cache entries", zap.Int("count", purged))
	}
	return purged
}

// StartCleanup purges expired entries every interval until ctx is done.
func (c *MemoryCache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.PurgeExpired()
			}
		}
	}()
}

// must be called with mu held
func (c *MemoryCache) expired(e *entry) bool {
	return !e.expiry.IsZero() && c.now().After(e.expiry)
}

// must be called with mu held
func (c *MemoryCache) remove(e *entry) {
	c.lru.Remove(e.element)
	delete(c.items, e.key)
}
