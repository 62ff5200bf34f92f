package icon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startgrid/startgrid/internal/domain/entity"
	"github.com/startgrid/startgrid/internal/icon"
)

// scriptedProbe answers probes from a fixed table and records every probe in
// order. An optional gate blocks each probe until released.
type scriptedProbe struct {
	mu      sync.Mutex
	ok      map[string]bool
	probed  []string
	gate    chan struct{}
	elapsed time.Duration
}

func newScriptedProbe(ok map[string]bool) *scriptedProbe {
	return &scriptedProbe{ok: ok}
}

func (p *scriptedProbe) Probe(ctx context.Context, candidateURL string) bool {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return false
		}
	}
	if p.elapsed > 0 {
		select {
		case <-time.After(p.elapsed):
		case <-ctx.Done():
			return false
		}
	}
	p.mu.Lock()
	p.probed = append(p.probed, candidateURL)
	ok := p.ok[candidateURL]
	p.mu.Unlock()
	return ok
}

func (p *scriptedProbe) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.probed)
}

func (p *scriptedProbe) probedURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}

func testBookmark() entity.Bookmark {
	return entity.Bookmark{
		ID:   "bm-1",
		Name: "Example",
		URL:  "https://example.com",
	}
}

const (
	exampleProxyURL = "https://www.google.com/s2/favicons?domain=example.com&sz=64"
	exampleDDGURL   = "https://icons.duckduckgo.com/ip3/example.com.ico"
)

func TestResolver_FirstSuccessfulCandidateWins(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{
		exampleProxyURL: true,
		exampleDDGURL:   true,
	})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, exampleProxyURL, resolved)

	// Probing stops at the first success; the fallback is never touched.
	assert.Equal(t, []string{exampleProxyURL}, probe.probedURLs())
}

func TestResolver_FallsThroughToLaterCandidates(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{
		exampleDDGURL: true,
	})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, exampleDDGURL, resolved)
	assert.Equal(t, []string{exampleProxyURL, exampleDDGURL}, probe.probedURLs())
}

func TestResolver_ResolvedResultIsMemoized(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{exampleProxyURL: true})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	first, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, probe.probeCount(), "second resolve must come from the session cache")
}

func TestResolver_ConcurrentRequestsCoalesce(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{exampleProxyURL: true})
	probe.gate = make(chan struct{})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
			require.NoError(t, err)
			results[i] = resolved
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let all callers queue on the same key
	close(probe.gate)
	wg.Wait()

	for _, resolved := range results {
		assert.Equal(t, exampleProxyURL, resolved)
	}
	assert.Equal(t, 1, probe.probeCount(), "all callers must share one probe")
}

func TestResolver_ExhaustionPopulatesNegativeCache(t *testing.T) {
	clock := newFakeClock()
	probe := newScriptedProbe(nil)
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe, Now: clock.Now})

	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Empty(t, resolved)
	probedOnce := probe.probeCount()
	assert.Greater(t, probedOnce, 0)

	// Within the negative window the bookmark is skipped without probing.
	resolved, err = r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Equal(t, probedOnce, probe.probeCount())

	// After the window expires, probing resumes.
	clock.Advance(icon.DefaultNegativeSiteTTL + time.Minute)
	_, err = r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Greater(t, probe.probeCount(), probedOnce)
}

func TestResolver_IgnoreNegativeCacheBypassesAndNeverWrites(t *testing.T) {
	probe := newScriptedProbe(nil)
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	// Populate the negative cache with a normal failed resolve.
	_, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	after := probe.probeCount()

	// Bypassing consults the network again despite the negative entry.
	_, err = r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{IgnoreNegativeCache: true})
	require.NoError(t, err)
	assert.Greater(t, probe.probeCount(), after)
}

func TestResolver_SuccessClearsNegativeEntry(t *testing.T) {
	clock := newFakeClock()
	probe := newScriptedProbe(nil)
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe, Now: clock.Now})

	_, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Stats(context.Background()).NegativeCacheSize)

	// The site comes back; a bypassing resolve succeeds and must clear the
	// negative entry.
	probe.mu.Lock()
	probe.ok = map[string]bool{exampleProxyURL: true}
	probe.mu.Unlock()

	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{IgnoreNegativeCache: true})
	require.NoError(t, err)
	assert.Equal(t, exampleProxyURL, resolved)
	assert.Equal(t, 0, r.Stats(context.Background()).NegativeCacheSize)
}

func TestResolver_CancellationNeverPoisonsNegativeCache(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{exampleProxyURL: true})
	probe.gate = make(chan struct{}) // never released

	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, testBookmark(), icon.ResolveOptions{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 0, r.Stats(context.Background()).NegativeCacheSize)

	// A fresh request afterwards resolves normally.
	close(probe.gate)
	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, exampleProxyURL, resolved)
}

func TestResolver_ResolveDataCachesPayload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	ctx := context.Background()
	cache := icon.NewCache(ctx, icon.CacheOptions{Repo: newMemRepo()})
	defer cache.Close()
	r := icon.NewResolver(icon.ResolverOptions{
		Fetcher: icon.NewFetcher(icon.FetcherOptions{Backoff: time.Millisecond}),
		Cache:   cache,
	})

	payload, err := r.ResolveData(ctx, srv.URL+"/favicon.ico")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "data:image/png;base64,"))
	require.Equal(t, int32(1), hits.Load())

	// Second request is served from the cache.
	again, err := r.ResolveData(ctx, srv.URL+"/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolver_ResolveDataInlinePassthrough(t *testing.T) {
	ctx := context.Background()
	cache := icon.NewCache(ctx, icon.CacheOptions{Repo: newMemRepo()})
	defer cache.Close()
	r := icon.NewResolver(icon.ResolverOptions{Cache: cache})

	data := "data:image/png;base64,AAAA"
	payload, err := r.ResolveData(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, data, payload)

	// The inline payload lands in the cache under its content hash.
	key := icon.CacheKey(data, entity.StrategyInline)
	cached, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, data, cached)
}

func TestResolver_ResolveDataPermanentFailureIsNegativeCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx := context.Background()
	r := icon.NewResolver(icon.ResolverOptions{
		Fetcher: icon.NewFetcher(icon.FetcherOptions{Backoff: time.Millisecond}),
	})

	payload, err := r.ResolveData(ctx, srv.URL+"/favicon.ico")
	require.NoError(t, err, "fetch failures read as empty, not as errors")
	assert.Empty(t, payload)
	require.Equal(t, int32(1), hits.Load())

	// The negative entry suppresses further network traffic for this URL.
	payload, err = r.ResolveData(ctx, srv.URL+"/favicon.ico")
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolver_ResolveDataSelfHealsBadCacheEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	ctx := context.Background()
	cache := icon.NewCache(ctx, icon.CacheOptions{Repo: newMemRepo()})
	defer cache.Close()
	r := icon.NewResolver(icon.ResolverOptions{
		Fetcher: icon.NewFetcher(icon.FetcherOptions{Backoff: time.Millisecond}),
		Cache:   cache,
	})

	// A historic bad write: an HTML error page cached as an icon payload.
	rawURL := srv.URL + "/favicon.ico"
	key := icon.CacheKey(rawURL, icon.StrategyFor(rawURL))
	cache.Set(ctx, key, "data:text/html;base64,PGh0bWw+", entity.StrategyDirect)

	payload, err := r.ResolveData(ctx, rawURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "data:image/png;base64,"), "bad entry must be replaced by a refetch")

	cached, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, payload, cached)
}

func TestResolver_SameProxyURLSharesCacheEntry(t *testing.T) {
	// Both bookmarks point at the same site, so their proxy candidates derive
	// the same cache key and share one stored payload.
	urlA := "https://www.google.com/s2/favicons?domain=openai.com&sz=64"
	urlB := "https://www.google.com/s2/favicons?domain=www.openai.com&sz=64"
	require.Equal(t,
		icon.CacheKey(urlA, icon.StrategyFor(urlA)),
		icon.CacheKey(urlB, icon.StrategyFor(urlB)))
}

func TestResolver_PreloadWarmsResolvedCache(t *testing.T) {
	probe := newScriptedProbe(map[string]bool{exampleProxyURL: true})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe})

	r.Preload(context.Background(), []entity.Bookmark{testBookmark()})

	// The later visible resolve is a pure cache hit.
	probed := probe.probeCount()
	resolved, err := r.Resolve(context.Background(), testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, exampleProxyURL, resolved)
	assert.Equal(t, probed, probe.probeCount())
}

func TestResolver_StatsAndClearAll(t *testing.T) {
	ctx := context.Background()
	cache := icon.NewCache(ctx, icon.CacheOptions{Repo: newMemRepo()})
	defer cache.Close()
	probe := newScriptedProbe(map[string]bool{exampleProxyURL: true})
	r := icon.NewResolver(icon.ResolverOptions{Prober: probe, Cache: cache})

	_, err := r.Resolve(ctx, testBookmark(), icon.ResolveOptions{})
	require.NoError(t, err)
	cache.Set(ctx, "k", "data:image/png;base64,AAAA", entity.StrategyDirect)

	stats := r.Stats(ctx)
	assert.Equal(t, 1, stats.ResolvedCacheSize)
	assert.True(t, stats.DurableAvailable)
	assert.Equal(t, 1, stats.DurableSize)
	assert.Equal(t, 1, stats.MemorySize)

	r.ClearAll(ctx)
	stats = r.Stats(ctx)
	assert.Equal(t, 0, stats.ResolvedCacheSize)
	assert.Equal(t, 0, stats.DurableSize)
	assert.Equal(t, 0, stats.MemorySize)
}
