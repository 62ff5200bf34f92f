package icon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/icon"
)

// memRepo is an in-memory durable tier for cache tests.
type memRepo struct {
	mu      sync.Mutex
	entries map[string]entity.IconCacheEntry
	touched map[string]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		entries: make(map[string]entity.IconCacheEntry),
		touched: make(map[string]time.Time),
	}
}

func (r *memRepo) Get(_ context.Context, key string) (*entity.IconCacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	return &ent, nil
}

func (r *memRepo) Put(_ context.Context, ent *entity.IconCacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ent.Key] = *ent
	return nil
}

func (r *memRepo) TouchLastAccess(_ context.Context, key string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[key] = at
	return nil
}

func (r *memRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *memRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for key, ent := range r.entries {
		if ent.Strategy.Expired(ent.Timestamp, now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *memRepo) DeleteAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entity.IconCacheEntry)
	return nil
}

func (r *memRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *memRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_SetGetBothTiers(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo})
	defer c.Close()

	c.Set(ctx, "url:https://example.com/favicon.ico", "data:image/png;base64,AAAA", entity.StrategyDirect)

	got, ok := c.Get(ctx, "url:https://example.com/favicon.ico")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAAA", got)
	assert.Equal(t, 1, c.MemoryLen())
	assert.Equal(t, 1, repo.len())
}

func TestCache_DurableHitBackfillsMemory(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newMemRepo()
	require.NoError(t, repo.Put(ctx, &entity.IconCacheEntry{
		Key:        "google:example.com:64",
		Payload:    "data:image/png;base64,BBBB",
		Strategy:   entity.StrategyProxyFavicon,
		Timestamp:  clock.Now(),
		LastAccess: clock.Now(),
	}))

	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo, Now: clock.Now})
	defer c.Close()

	require.Equal(t, 0, c.MemoryLen())

	got, ok := c.Get(ctx, "google:example.com:64")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,BBBB", got)
	assert.Equal(t, 1, c.MemoryLen(), "durable hit must backfill the memory tier")

	repo.mu.Lock()
	_, touched := repo.touched["google:example.com:64"]
	repo.mu.Unlock()
	assert.True(t, touched, "durable hit must refresh last access")
}

func TestCache_ExpiredDurableEntryIsPurgedOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newMemRepo()
	require.NoError(t, repo.Put(ctx, &entity.IconCacheEntry{
		Key:       "google:stale.com:64",
		Payload:   "data:image/png;base64,CCCC",
		Strategy:  entity.StrategyProxyFavicon,
		Timestamp: clock.Now(),
	}))

	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo, Now: clock.Now})
	defer c.Close()

	clock.Advance(25 * time.Hour) // past the proxy strategy's 24h TTL

	_, ok := c.Get(ctx, "google:stale.com:64")
	assert.False(t, ok)
	assert.Equal(t, 0, repo.len(), "expired entry must be deleted on read")
}

func TestCache_InlineEntriesNeverExpire(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newMemRepo()
	require.NoError(t, repo.Put(ctx, &entity.IconCacheEntry{
		Key:       "data:0a1b2c3d",
		Payload:   "data:image/png;base64,DDDD",
		Strategy:  entity.StrategyInline,
		Timestamp: clock.Now(),
	}))

	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo, Now: clock.Now})
	defer c.Close()

	clock.Advance(365 * 24 * time.Hour)

	got, ok := c.Get(ctx, "data:0a1b2c3d")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,DDDD", got)
}

func TestCache_SweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := newMemRepo()
	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo, Now: clock.Now})
	defer c.Close()

	c.Set(ctx, "google:old.com:64", "data:image/png;base64,AAAA", entity.StrategyProxyFavicon)
	clock.Advance(25 * time.Hour)
	c.Set(ctx, "google:new.com:64", "data:image/png;base64,BBBB", entity.StrategyProxyFavicon)

	c.Sweep(ctx)

	assert.Equal(t, 1, repo.len())
	repo.mu.Lock()
	_, oldKept := repo.entries["google:old.com:64"]
	_, newKept := repo.entries["google:new.com:64"]
	repo.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, newKept)
}

func TestCache_NilRepoDegradesToMemoryOnly(t *testing.T) {
	ctx := context.Background()
	c := icon.NewCache(ctx, icon.CacheOptions{})
	defer c.Close()

	assert.False(t, c.DurableAvailable())
	assert.Equal(t, 0, c.DurableCount(ctx))

	c.Set(ctx, "url:https://example.com/", "data:image/png;base64,AAAA", entity.StrategyDirect)
	got, ok := c.Get(ctx, "url:https://example.com/")
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAAA", got)

	// All durable-tier operations are silent no-ops.
	c.Sweep(ctx)
	c.Delete(ctx, "url:https://example.com/")
	c.ClearAll(ctx)
	assert.Equal(t, 0, c.MemoryLen())
}

func TestCache_ClearAllEmptiesBothTiers(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	c := icon.NewCache(ctx, icon.CacheOptions{Repo: repo})
	defer c.Close()

	c.Set(ctx, "a", "data:image/png;base64,AAAA", entity.StrategyDirect)
	c.Set(ctx, "b", "data:image/png;base64,BBBB", entity.StrategyDirect)

	c.ClearAll(ctx)

	assert.Equal(t, 0, c.MemoryLen())
	assert.Equal(t, 0, repo.len())
}
