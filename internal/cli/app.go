// Package cli wires the startgrid subsystems together for command-line use.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/startgrid/startgrid/internal/config"
	"github.com/startgrid/startgrid/internal/domain/repository"
	"github.com/startgrid/startgrid/internal/icon"
	"github.com/startgrid/startgrid/internal/infrastructure/persistence/sqlite"
	"github.com/startgrid/startgrid/internal/logging"
	"github.com/startgrid/startgrid/internal/store"
)

// App holds the initialized subsystems shared by all CLI commands.
type App struct {
	Config   *config.Config
	Ctx      context.Context
	DB       *sql.DB
	Cache    *icon.Cache
	Resolver *icon.Resolver
	Store    *store.BookmarkStore
}

// NewApp loads configuration and constructs the icon subsystem. A durable
// cache that fails to open degrades the cache to memory-only rather than
// failing startup.
func NewApp() (*App, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()

	logger := logging.NewFromConfigValues(cfg.Logging.Level, cfg.Logging.Format)
	ctx := logging.WithContext(context.Background(), logger)

	var (
		db   *sql.DB
		repo repository.IconCacheRepository
	)
	db, err = sqlite.NewConnection(ctx, cfg.Database.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open icon cache database")
	} else {
		repo = sqlite.NewIconCacheRepository(db)
	}

	cache := icon.NewCache(ctx, icon.CacheOptions{
		Repo:          repo,
		MemorySize:    cfg.Icons.MemoryCacheSize,
		MemoryTTL:     cfg.Icons.MemoryCacheTTL,
		SweepInterval: cfg.Icons.SweepInterval,
	})

	legacyPath := filepath.Join(filepath.Dir(cfg.Database.Path), icon.LegacyCacheFilename)
	if err := cache.ImportLegacyCache(ctx, legacyPath); err != nil {
		logger.Warn().Err(err).Msg("legacy icon cache import failed")
	}

	resolver := icon.NewResolver(icon.ResolverOptions{
		Builder: icon.NewCandidateBuilder(cfg.Icons.NativeFaviconTemplate),
		Prober:  icon.NewHTTPProbe(cfg.Icons.ProbeTimeout),
		Fetcher: icon.NewFetcher(icon.FetcherOptions{
			Client:      &http.Client{},
			Timeout:     cfg.Icons.FetchTimeout,
			Attempts:    cfg.Icons.FetchAttempts,
			Concurrency: int64(cfg.Icons.FetchConcurrency),
		}),
		Cache:            cache,
		NegativeSiteTTL:  cfg.Icons.NegativeSiteTTL,
		NegativeFetchTTL: cfg.Icons.NegativeFetchTTL,
	})

	bookmarks, err := store.NewBookmarkStore(ctx, cfg.Bookmarks.Path)
	if err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	if err := bookmarks.Watch(ctx); err != nil {
		logger.Debug().Err(err).Str("path", cfg.Bookmarks.Path).Msg("bookmark watching unavailable")
	}

	return &App{
		Config:   cfg,
		Ctx:      ctx,
		DB:       db,
		Cache:    cache,
		Resolver: resolver,
		Store:    bookmarks,
	}, nil
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	return sqlite.Close(a.DB)
}
