package repository

import (
	"context"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
)

// IconCacheRepository defines operations for the durable icon cache tier.
type IconCacheRepository interface {
	// Get retrieves a cache entry by its derived key.
	// Returns nil (no error) when the key is absent.
	Get(ctx context.Context, key string) (*entity.IconCacheEntry, error)

	// Put creates or overwrites a cache entry (upsert).
	Put(ctx context.Context, entry *entity.IconCacheEntry) error

	// TouchLastAccess refreshes the last_access timestamp of an entry.
	TouchLastAccess(ctx context.Context, key string, at time.Time) error

	// Delete removes a single entry by key.
	Delete(ctx context.Context, key string) error

	// DeleteExpired removes every entry whose strategy TTL has elapsed at the
	// given instant and returns the number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteAll removes all entries.
	DeleteAll(ctx context.Context) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)
}
