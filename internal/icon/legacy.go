package icon

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/logging"
)

// LegacyCacheFilename is the single-tier cache file written by earlier
// releases: a JSON object mapping domain to {dataUrl, ts}.
const LegacyCacheFilename = "favicon_cache_v1.json"

type legacyCacheEntry struct {
	DataURL string `json:"dataUrl"`
	TS      int64  `json:"ts"` // unix milliseconds
}

// ImportLegacyCache performs the one-time migration of the legacy cache file
// into the durable tier, then removes the file. A missing file is a no-op.
// Without a durable tier the file is left alone so a later run with a working
// database can still pick it up.
func (c *Cache) ImportLegacyCache(ctx context.Context, path string) error {
	if c.repo == nil || path == "" {
		return nil
	}

	log := logging.FromContext(ctx)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	var legacy map[string]legacyCacheEntry
	if err := json.Unmarshal(raw, &legacy); err != nil {
		// A corrupt legacy file is not worth keeping around.
		log.Warn().Err(err).Str("path", path).Msg("legacy icon cache unreadable, removing")
		return os.Remove(path)
	}

	imported := 0
	for domain, ent := range legacy {
		if domain == "" || !strings.HasPrefix(ent.DataURL, "data:image/") {
			continue
		}
		storedAt := c.now()
		if ent.TS > 0 {
			storedAt = time.UnixMilli(ent.TS)
		}
		err := c.repo.Put(ctx, &entity.IconCacheEntry{
			Key:        CacheKey(ent.DataURL, entity.StrategyInline),
			Payload:    ent.DataURL,
			Strategy:   entity.StrategyInline,
			Timestamp:  storedAt,
			LastAccess: c.now(),
		})
		if err != nil {
			return err
		}
		imported++
	}

	if imported > 0 {
		log.Info().Int("entries", imported).Msg("imported legacy icon cache")
	}
	return os.Remove(path)
}
