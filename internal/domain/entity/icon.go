package entity

import (
	"fmt"
	"time"
)

// CacheStrategy classifies how long a cached icon payload stays valid.
// The durable tier stores the strategy alongside each entry so expiry can be
// evaluated both on read and during the periodic sweep.
type CacheStrategy int

const (
	// StrategyInline marks payloads sourced from inline data URLs. They carry
	// their own content, so they never expire.
	StrategyInline CacheStrategy = iota
	// StrategyProxyFavicon marks icons fetched through the public favicon
	// proxy. The proxy re-renders icons server-side, so entries go stale fast.
	StrategyProxyFavicon
	// StrategyDirect marks icons fetched from an arbitrary direct URL.
	StrategyDirect
)

const (
	proxyFaviconTTL = 24 * time.Hour
	directIconTTL   = 7 * 24 * time.Hour
)

// TTL returns the lifetime of entries stored under this strategy.
// A zero duration means the entry never expires.
func (s CacheStrategy) TTL() time.Duration {
	switch s {
	case StrategyProxyFavicon:
		return proxyFaviconTTL
	case StrategyDirect:
		return directIconTTL
	default:
		return 0
	}
}

// Expired reports whether an entry stored at storedAt has outlived the
// strategy's TTL at the given instant.
func (s CacheStrategy) Expired(storedAt, now time.Time) bool {
	ttl := s.TTL()
	if ttl == 0 {
		return false
	}
	return now.Sub(storedAt) > ttl
}

// String returns the stable identifier persisted in the durable tier.
func (s CacheStrategy) String() string {
	switch s {
	case StrategyInline:
		return "inline"
	case StrategyProxyFavicon:
		return "proxy_favicon"
	case StrategyDirect:
		return "direct"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseCacheStrategy converts a persisted strategy identifier back to its
// enum value. Unknown identifiers fall back to StrategyDirect, the most
// conservative finite-TTL strategy.
func ParseCacheStrategy(value string) CacheStrategy {
	switch value {
	case "inline":
		return StrategyInline
	case "proxy_favicon":
		return StrategyProxyFavicon
	default:
		return StrategyDirect
	}
}

// IconCacheEntry is a durable-tier record for a resolved icon payload.
type IconCacheEntry struct {
	Key        string
	Payload    string // data URL
	Strategy   CacheStrategy
	Timestamp  time.Time // when the payload was stored
	LastAccess time.Time // refreshed on every durable-tier hit
}

// CacheStats reports the state of the icon caches for diagnostics.
type CacheStats struct {
	MemorySize        int  `json:"memory_size"`
	DurableAvailable  bool `json:"durable_available"`
	DurableSize       int  `json:"durable_size"`
	PendingCount      int  `json:"pending_count"`
	NegativeCacheSize int  `json:"negative_cache_size"`
	ResolvedCacheSize int  `json:"resolved_cache_size"`
}
