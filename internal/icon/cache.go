package icon

import (
	"context"
	"sync"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/domain/repository"
	"github.com/startgrid/startgrid/internal/infrastructure/cache"
	"github.com/startgrid/startgrid/internal/logging"
)

const (
	// DefaultMemoryCacheSize bounds the memory tier.
	DefaultMemoryCacheSize = 100
	// DefaultMemoryCacheTTL expires memory-tier entries.
	DefaultMemoryCacheTTL = 30 * time.Minute
	// DefaultSweepInterval schedules the durable-tier expiry sweep.
	DefaultSweepInterval = 24 * time.Hour
)

// CacheOptions configures a Cache. Zero values fall back to defaults.
// A nil Repo degrades the cache to memory-tier only.
type CacheOptions struct {
	Repo          repository.IconCacheRepository
	MemorySize    int
	MemoryTTL     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache is the multi-tier icon payload cache: a bounded in-memory LRU in
// front of the durable SQLite tier. Durable-tier failures never propagate;
// the cache silently degrades to memory-only behavior.
type Cache struct {
	mem           *cache.LRU[string, string]
	repo          repository.IconCacheRepository
	now           func() time.Time
	sweepInterval time.Duration
	stop          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// NewCache creates the cache and, when a durable tier is present, starts the
// periodic expiry sweep. ctx is used for logging and for sweep runs.
func NewCache(ctx context.Context, opts CacheOptions) *Cache {
	if opts.MemorySize <= 0 {
		opts.MemorySize = DefaultMemoryCacheSize
	}
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = DefaultMemoryCacheTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		mem:           cache.NewLRUWithTTL[string, string](opts.MemorySize, opts.MemoryTTL, opts.Now),
		repo:          opts.Repo,
		now:           opts.Now,
		sweepInterval: opts.SweepInterval,
		stop:          make(chan struct{}),
	}

	log := logging.FromContext(ctx)
	if c.repo == nil {
		log.Warn().Msg("durable icon cache unavailable, falling back to memory-only caching")
		return c
	}

	c.wg.Add(1)
	go c.sweepLoop(ctx)
	return c
}

// Get retrieves a payload by cache key: memory tier first, then the durable
// tier. A durable hit back-fills the memory tier and refreshes the entry's
// last access time. Expired durable entries are deleted and read as misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}

	if payload, ok := c.mem.Get(key); ok {
		return payload, true
	}
	if c.repo == nil {
		return "", false
	}

	log := logging.FromContext(ctx)

	ent, err := c.repo.Get(ctx, key)
	if err != nil {
		log.Debug().Err(err).Str("key", logging.TruncateURL(key, 60)).Msg("durable icon cache read failed")
		return "", false
	}
	if ent == nil {
		return "", false
	}

	if ent.Strategy.Expired(ent.Timestamp, c.now()) {
		if err := c.repo.Delete(ctx, key); err != nil {
			log.Debug().Err(err).Str("key", logging.TruncateURL(key, 60)).Msg("failed to delete expired icon cache entry")
		}
		return "", false
	}

	if err := c.repo.TouchLastAccess(ctx, key, c.now()); err != nil {
		log.Debug().Err(err).Msg("failed to touch icon cache entry")
	}

	c.mem.Set(key, ent.Payload)
	return ent.Payload, true
}

// Set writes the payload to both tiers unconditionally.
func (c *Cache) Set(ctx context.Context, key, payload string, strategy entity.CacheStrategy) {
	if key == "" || payload == "" {
		return
	}

	c.mem.Set(key, payload)

	if c.repo == nil {
		return
	}
	now := c.now()
	err := c.repo.Put(ctx, &entity.IconCacheEntry{
		Key:        key,
		Payload:    payload,
		Strategy:   strategy,
		Timestamp:  now,
		LastAccess: now,
	})
	if err != nil {
		logging.FromContext(ctx).Debug().Err(err).Str("key", logging.TruncateURL(key, 60)).Msg("durable icon cache write failed")
	}
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	if key == "" {
		return
	}
	c.mem.Remove(key)
	if c.repo == nil {
		return
	}
	if err := c.repo.Delete(ctx, key); err != nil {
		logging.FromContext(ctx).Debug().Err(err).Msg("durable icon cache delete failed")
	}
}

// ClearAll empties both tiers.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mem.Clear()
	if c.repo == nil {
		return
	}
	if err := c.repo.DeleteAll(ctx); err != nil {
		logging.FromContext(ctx).Debug().Err(err).Msg("durable icon cache clear failed")
	}
}

// Sweep removes strategy-expired entries from the durable tier.
func (c *Cache) Sweep(ctx context.Context) {
	if c.repo == nil {
		return
	}
	if _, err := c.repo.DeleteExpired(ctx, c.now()); err != nil {
		logging.FromContext(ctx).Debug().Err(err).Msg("icon cache sweep failed")
	}
}

func (c *Cache) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// MemoryLen returns the number of entries in the memory tier.
func (c *Cache) MemoryLen() int {
	return c.mem.Len()
}

// DurableAvailable reports whether the durable tier is in use.
func (c *Cache) DurableAvailable() bool {
	return c.repo != nil
}

// DurableCount returns the number of entries in the durable tier.
func (c *Cache) DurableCount(ctx context.Context) int {
	if c.repo == nil {
		return 0
	}
	count, err := c.repo.Count(ctx)
	if err != nil {
		return 0
	}
	return int(count)
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}
