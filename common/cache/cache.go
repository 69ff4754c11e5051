package cache

import (
	"context"
	"sync"
	"time"

	"github.com/x121/undotree/common/logger"
	"github.com/x121/undotree/common/metrics"
)

// Cache stores serialized undo tree records by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	// DefaultMaxEntries bounds a MemoryCache built without WithMaxEntries
	DefaultMaxEntries = 10000

	defaultSweepInterval = time.Minute
)

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithMaxEntries caps the number of live entries. Values < 1 keep the default.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithSweepInterval sets how often expired entries are dropped
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithNow overrides the clock, for tests
func WithNow(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// MemoryStats is a point-in-time view of a MemoryCache
type MemoryStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// MemoryCache keeps records in process for single-instance deployments and tests.
// When full, Set evicts the entry that expires first.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	sweepEvery time.Duration
	now        func() time.Time
	stats      MemoryStats
	closed     bool

	log  *logger.Logger
	done chan struct{}
	once sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts a cache and its background sweeper
func NewMemoryCache(log *logger.Logger, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: DefaultMaxEntries,
		sweepEvery: defaultSweepInterval,
		now:        time.Now,
		log:        log,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop()
	return c
}

// Get returns a copy of the value stored under key
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.stats.Misses++
		metrics.CacheLookups.WithLabelValues("memory", "miss").Inc()
		return nil, false, nil
	}

	c.stats.Hits++
	metrics.CacheLookups.WithLabelValues("memory", "hit").Inc()
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value. A non-positive ttl stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if ttl <= 0 {
		delete(c.entries, key)
		return nil
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete drops key; a missing key is not an error
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Close stops the sweeper and drops every entry. Safe to call twice.
func (c *MemoryCache) Close() error {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		dropped := len(c.entries)
		c.entries = make(map[string]memoryEntry)
		c.closed = true
		c.mu.Unlock()

		c.log.Info("memory cache closed", "dropped_entries", dropped)
	})
	return nil
}

// Stats reports entry count and lookup counters
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// evictLocked removes expired entries, or the soonest-expiring one if none are
func (c *MemoryCache) evictLocked() {
	now := c.now()
	if c.sweepLocked(now) > 0 {
		return
	}

	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for key, e := range c.entries {
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = key, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

func (c *MemoryCache) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			removed := c.sweepLocked(c.now())
			c.mu.Unlock()
			if removed > 0 {
				c.log.Debug("expired cache entries swept", "removed", removed)
			}
		}
	}
}
