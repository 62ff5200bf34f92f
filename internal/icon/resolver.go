package icon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/logging"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultNegativeSiteTTL is how long a bookmark whose candidates all
	// failed is skipped before probing again.
	DefaultNegativeSiteTTL = 10 * time.Minute
	// DefaultNegativeFetchTTL is how long a permanently failed fetch URL is
	// skipped when no more specific window applies.
	DefaultNegativeFetchTTL = 6 * time.Hour
	// DefaultPreloadCount bounds how many bookmarks a preload sweep touches.
	DefaultPreloadCount = 24
	// DefaultPreloadBatchSize bounds preload parallelism.
	DefaultPreloadBatchSize = 6
)

// ResolveOptions tunes a single resolution request.
type ResolveOptions struct {
	// IgnoreNegativeCache skips the negative-cache consultation and, on
	// failure, skips populating it. Used by background preloading so one
	// network blip never suppresses future visible-render attempts.
	IgnoreNegativeCache bool
}

// ResolverOptions configures a Resolver. Zero/nil values fall back to
// defaults.
type ResolverOptions struct {
	Builder          *CandidateBuilder
	Prober           Prober
	Fetcher          *Fetcher
	Cache            *Cache
	NegativeSiteTTL  time.Duration
	NegativeFetchTTL time.Duration
	Now              func() time.Time
}

// Resolver decides which icon a bookmark displays. Per request key it moves
// through unresolved -> pending -> resolved or negatively-cached; concurrent
// callers for the same key share one in-flight resolution.
type Resolver struct {
	builder     *CandidateBuilder
	prober      Prober
	fetcher     *Fetcher
	cache       *Cache
	negSiteTTL  time.Duration
	negFetchTTL time.Duration
	now         func() time.Time

	group     singleflight.Group // site-level resolution, by request key
	dataGroup singleflight.Group // payload fetches, by cache key
	pending   atomic.Int64

	mu            sync.Mutex
	resolved      map[string]string    // request key -> resolved candidate URL
	negative      map[string]time.Time // request key -> expiry
	fetchNegative map[string]time.Time // cache key -> expiry
}

// NewResolver creates a resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Builder == nil {
		opts.Builder = NewCandidateBuilder("")
	}
	if opts.Prober == nil {
		opts.Prober = NewHTTPProbe(DefaultProbeTimeout)
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(FetcherOptions{})
	}
	if opts.NegativeSiteTTL <= 0 {
		opts.NegativeSiteTTL = DefaultNegativeSiteTTL
	}
	if opts.NegativeFetchTTL <= 0 {
		opts.NegativeFetchTTL = DefaultNegativeFetchTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		builder:       opts.Builder,
		prober:        opts.Prober,
		fetcher:       opts.Fetcher,
		cache:         opts.Cache,
		negSiteTTL:    opts.NegativeSiteTTL,
		negFetchTTL:   opts.NegativeFetchTTL,
		now:           opts.Now,
		resolved:      make(map[string]string),
		negative:      make(map[string]time.Time),
		fetchNegative: make(map[string]time.Time),
	}
}

// Candidates returns the ordered candidate URLs for a bookmark without
// performing any I/O.
func (r *Resolver) Candidates(bm entity.Bookmark) []string {
	return r.builder.Candidates(bm)
}

// Resolve returns the first candidate URL that loads as an image, or empty
// when every candidate fails. Results are cached for the session; total
// failure populates the negative cache unless the caller opted out.
// Cancellation aborts without touching the negative cache and returns the
// context's error.
func (r *Resolver) Resolve(ctx context.Context, bm entity.Bookmark, opts ResolveOptions) (string, error) {
	key := bm.RequestKey()

	r.mu.Lock()
	if resolved, ok := r.resolved[key]; ok {
		r.mu.Unlock()
		return resolved, nil
	}
	if !opts.IgnoreNegativeCache && r.negativeHitLocked(r.negative, key) {
		r.mu.Unlock()
		return "", nil
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	for {
		result, err, _ := r.group.Do(key, func() (any, error) {
			r.pending.Add(1)
			defer r.pending.Add(-1)

			resolved, err := r.resolveFirst(ctx, r.builder.Candidates(bm))
			if err != nil {
				// Interrupted, not failed: never poison the negative cache.
				return "", err
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if resolved != "" {
				r.resolved[key] = resolved
				delete(r.negative, key)
			} else if !opts.IgnoreNegativeCache {
				r.negative[key] = r.now().Add(r.negSiteTTL)
			}
			return resolved, nil
		})
		if err != nil {
			// A joined flight can die with the owner's context error while
			// this caller is still live; retry under our own context.
			if sharedCancellation(ctx, err) {
				continue
			}
			return "", err
		}
		return result.(string), nil
	}
}

// sharedCancellation reports whether err is another caller's context error
// leaking through a shared flight while ctx itself is still live.
func sharedCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// resolveFirst probes candidates strictly in priority order and stops at the
// first success. No concurrent racing: an earlier, more-trusted candidate
// succeeding must win even if a later one would resolve faster.
func (r *Resolver) resolveFirst(ctx context.Context, candidates []string) (string, error) {
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		loaded := r.prober.Probe(ctx, candidate)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if loaded {
			return candidate, nil
		}
	}
	return "", nil
}

// ResolveData returns the inline-encoded payload for an icon URL, going
// through the persistent cache and the network fetcher. Concurrent requests
// for the same cache key share one fetch. Failures read as empty results;
// only cancellation surfaces an error.
func (r *Resolver) ResolveData(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}

	strategy := StrategyFor(rawURL)
	key := CacheKey(rawURL, strategy)

	r.mu.Lock()
	if r.negativeHitLocked(r.fetchNegative, key) {
		r.mu.Unlock()
		return "", nil
	}
	r.mu.Unlock()

	for {
		result, err, _ := r.dataGroup.Do(key, func() (any, error) {
			return r.fetchData(ctx, rawURL, key, strategy)
		})
		if err != nil {
			if sharedCancellation(ctx, err) {
				continue
			}
			return "", err
		}
		return result.(string), nil
	}
}

func (r *Resolver) fetchData(ctx context.Context, rawURL, key string, strategy entity.CacheStrategy) (string, error) {
	log := logging.FromContext(ctx)

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			// Self-heal historic bad writes (e.g. a cached data:text/html).
			if strings.HasPrefix(cached, "data:") && !isDataImageURL(cached) {
				r.cache.Delete(ctx, key)
			} else {
				r.clearFetchNegative(key)
				return cached, nil
			}
		}
	}

	var payload string
	if strings.HasPrefix(rawURL, "data:") {
		payload = rawURL
	} else {
		var err error
		payload, err = r.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) && fetchErr.NoRetry {
				ttl := fetchErr.NegativeTTL
				if ttl <= 0 {
					ttl = r.negFetchTTL
				}
				r.setFetchNegative(key, ttl)
			}
			log.Debug().Err(err).Str("url", logging.TruncateURL(rawURL, 60)).Msg("icon fetch failed")
			return "", nil
		}
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, payload, strategy)
	}
	r.clearFetchNegative(key)
	return payload, nil
}

// Preload proactively resolves icons for the first bookmarks of a category so
// later visible rendering hits the resolved cache. It bypasses the negative
// cache and swallows per-item failures.
func (r *Resolver) Preload(ctx context.Context, bookmarks []entity.Bookmark) {
	if len(bookmarks) > DefaultPreloadCount {
		bookmarks = bookmarks[:DefaultPreloadCount]
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, DefaultPreloadBatchSize)
	for _, bm := range bookmarks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(bm entity.Bookmark) {
			defer wg.Done()
			defer func() { <-sem }()
			_, _ = r.Resolve(ctx, bm, ResolveOptions{IgnoreNegativeCache: true})
		}(bm)
	}
	wg.Wait()
}

// ClearAll resets every in-memory map and empties the persistent cache.
func (r *Resolver) ClearAll(ctx context.Context) {
	r.mu.Lock()
	r.resolved = make(map[string]string)
	r.negative = make(map[string]time.Time)
	r.fetchNegative = make(map[string]time.Time)
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.ClearAll(ctx)
	}
}

// Stats reports cache state for diagnostics.
func (r *Resolver) Stats(ctx context.Context) entity.CacheStats {
	r.mu.Lock()
	resolvedSize := len(r.resolved)
	negativeSize := len(r.negative) + len(r.fetchNegative)
	r.mu.Unlock()

	stats := entity.CacheStats{
		PendingCount:      int(r.pending.Load()),
		NegativeCacheSize: negativeSize,
		ResolvedCacheSize: resolvedSize,
	}
	if r.cache != nil {
		stats.MemorySize = r.cache.MemoryLen()
		stats.DurableAvailable = r.cache.DurableAvailable()
		stats.DurableSize = r.cache.DurableCount(ctx)
	}
	return stats
}

// negativeHitLocked checks one of the negative maps, dropping expired
// entries. Caller holds r.mu.
func (r *Resolver) negativeHitLocked(m map[string]time.Time, key string) bool {
	expiresAt, ok := m[key]
	if !ok {
		return false
	}
	if !r.now().Before(expiresAt) {
		delete(m, key)
		return false
	}
	return true
}

func (r *Resolver) setFetchNegative(key string, ttl time.Duration) {
	r.mu.Lock()
	r.fetchNegative[key] = r.now().Add(ttl)
	r.mu.Unlock()
}

func (r *Resolver) clearFetchNegative(key string) {
	r.mu.Lock()
	delete(r.fetchNegative, key)
	r.mu.Unlock()
}
