package icon

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/startgrid/startgrid/internal/domain/entity"
)

// StrategyFor classifies a source URL into the cache strategy that governs
// how long its payload stays valid in the durable tier.
func StrategyFor(rawURL string) entity.CacheStrategy {
	if strings.HasPrefix(rawURL, "data:") {
		return entity.StrategyInline
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		if strings.Contains(parsed.Hostname(), "google.com") && strings.Contains(parsed.Path, "/s2/favicons") {
			return entity.StrategyProxyFavicon
		}
	}
	return entity.StrategyDirect
}

// CacheKey derives the durable cache key for a source URL.
//
// Inline payloads are keyed by a content hash so oversized data URLs never
// become keys themselves. Proxy favicon URLs are bucketed by the target
// hostname (www. stripped) and requested size so every caller asking for the
// same site's proxy icon shares one entry. Any other URL keys on
// origin+path+query with the fragment dropped. Unparseable input falls back
// to the raw string.
func CacheKey(rawURL string, strategy entity.CacheStrategy) string {
	if rawURL == "" {
		return ""
	}

	if strategy == entity.StrategyInline || strings.HasPrefix(rawURL, "data:") {
		return "data:" + hashString(rawURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "raw:" + rawURL
	}

	if strategy == entity.StrategyProxyFavicon ||
		(strings.Contains(parsed.Hostname(), "google.com") && strings.Contains(parsed.Path, "/s2/favicons")) {
		target := strings.ToLower(parsed.Query().Get("domain"))
		target = strings.TrimPrefix(target, "www.")
		size := parsed.Query().Get("sz")
		if size == "" {
			size = "64"
		}
		if target != "" {
			return fmt.Sprintf("google:%s:%s", target, size)
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := "url:" + parsed.Scheme + "://" + parsed.Host + path
	if parsed.RawQuery != "" {
		key += "?" + parsed.RawQuery
	}
	return key
}

// hashString produces a stable short hash (FNV-1a 32bit) of the input.
func hashString(text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%08x", h.Sum32())
}
