package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/domain/repository"
	"github.com/startgrid/startgrid/internal/logging"
)

const logKeyMaxLen = 60

type iconCacheRepo struct {
	db *sql.DB
}

// NewIconCacheRepository creates a new SQLite-backed icon cache repository.
func NewIconCacheRepository(db *sql.DB) repository.IconCacheRepository {
	return &iconCacheRepo{db: db}
}

func (r *iconCacheRepo) Get(ctx context.Context, key string) (*entity.IconCacheEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT key, payload, strategy, timestamp, last_access FROM icon_cache WHERE key = ?`, key)

	var (
		ent        entity.IconCacheEntry
		strategy   string
		timestamp  int64
		lastAccess int64
	)
	if err := row.Scan(&ent.Key, &ent.Payload, &strategy, &timestamp, &lastAccess); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	ent.Strategy = entity.ParseCacheStrategy(strategy)
	ent.Timestamp = time.Unix(timestamp, 0)
	ent.LastAccess = time.Unix(lastAccess, 0)
	return &ent, nil
}

func (r *iconCacheRepo) Put(ctx context.Context, ent *entity.IconCacheEntry) error {
	log := logging.FromContext(ctx)
	log.Debug().
		Str("key", logging.TruncateURL(ent.Key, logKeyMaxLen)).
		Str("strategy", ent.Strategy.String()).
		Msg("storing icon cache entry")

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO icon_cache (key, payload, strategy, timestamp, last_access)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     payload = excluded.payload,
		     strategy = excluded.strategy,
		     timestamp = excluded.timestamp,
		     last_access = excluded.last_access`,
		ent.Key, ent.Payload, ent.Strategy.String(), ent.Timestamp.Unix(), ent.LastAccess.Unix())
	return err
}

func (r *iconCacheRepo) TouchLastAccess(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE icon_cache SET last_access = ? WHERE key = ?`, at.Unix(), key)
	return err
}

func (r *iconCacheRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM icon_cache WHERE key = ?`, key)
	return err
}

// DeleteExpired removes entries whose strategy TTL has elapsed. Inline entries
// carry their own content and never expire, so only the finite-TTL strategies
// appear in the predicate.
func (r *iconCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	log := logging.FromContext(ctx)

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM icon_cache
		 WHERE (strategy = ? AND ? - timestamp > ?)
		    OR (strategy = ? AND ? - timestamp > ?)`,
		entity.StrategyProxyFavicon.String(), now.Unix(), int64(entity.StrategyProxyFavicon.TTL().Seconds()),
		entity.StrategyDirect.String(), now.Unix(), int64(entity.StrategyDirect.TTL().Seconds()))
	if err != nil {
		return 0, err
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("swept expired icon cache entries")
	}
	return removed, nil
}

func (r *iconCacheRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM icon_cache`)
	return err
}

func (r *iconCacheRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM icon_cache`).Scan(&count)
	return count, err
}
