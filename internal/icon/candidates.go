// Package icon implements favicon resolution and multi-tier caching for the
// start page grid: candidate building, probing, network fetching, persistent
// caching and render scheduling.
package icon

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/startgrid/startgrid/internal/domain/entity"
)

const (
	// googleFaviconURL is the public favicon proxy, keyed by hostname.
	googleFaviconURL = "https://www.google.com/s2/favicons?domain=%s&sz=64"
	// duckduckgoFaviconURL is the DNS-based favicon fallback service.
	duckduckgoFaviconURL = "https://icons.duckduckgo.com/ip3/%s.ico"
	// maxRemoteCandidates caps the remote candidate tiers combined.
	maxRemoteCandidates = 3
)

var schemePrefixRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*://`)

// localFilePathPrefixes are custom sources that point into the start page's
// own static assets. They cannot be fetched by this subsystem and are dropped.
var localFilePathPrefixes = []string{
	"local:",
	"static/", "/static/", "./static/", "../static/",
	"icons/", "/icons/", "./icons/", "../icons/",
	"assets/", "/assets/", "./assets/", "../assets/",
}

// CandidateBuilder produces ordered, deduplicated icon URL candidates for a
// bookmark. It performs no I/O.
type CandidateBuilder struct {
	// nativeTemplate, when non-empty, is a printf template for a host-native
	// favicon endpoint (the %s receives the escaped page URL). It is only set
	// when running inside a context with that privilege; otherwise the tier
	// is skipped.
	nativeTemplate string
}

// NewCandidateBuilder creates a candidate builder. nativeTemplate may be empty.
func NewCandidateBuilder(nativeTemplate string) *CandidateBuilder {
	return &CandidateBuilder{nativeTemplate: nativeTemplate}
}

// Candidates returns the ordered candidate URLs for a bookmark, front-loaded
// by specificity and trust: custom source first, then the host-native
// endpoint, the favicon proxy and the DNS-based fallback. Remote tiers are
// capped to maxRemoteCandidates; the custom source does not count against
// the cap.
func (b *CandidateBuilder) Candidates(bm entity.Bookmark) []string {
	custom := b.customCandidates(bm)
	remote := b.remoteCandidates(bm)
	return dedupeURLs(append(custom, remote...))
}

func (b *CandidateBuilder) customCandidates(bm entity.Bookmark) []string {
	raw := strings.TrimSpace(bm.Src)
	if raw == "" {
		return nil
	}
	resolved := resolveCustomSource(raw, bm.URL)
	if resolved == "" {
		return nil
	}
	return []string{resolved}
}

func (b *CandidateBuilder) remoteCandidates(bm entity.Bookmark) []string {
	siteURL := strings.TrimSpace(bm.URL)
	candidates := make([]string, 0, maxRemoteCandidates)

	if native := b.nativeFaviconCandidate(siteURL); native != "" {
		candidates = append(candidates, native)
	}
	if proxy := ProxyFaviconURL(siteURL); proxy != "" {
		candidates = append(candidates, proxy)
	}
	if ddg := duckDuckGoFaviconCandidate(siteURL); ddg != "" {
		candidates = append(candidates, ddg)
	}

	candidates = dedupeURLs(candidates)
	if len(candidates) > maxRemoteCandidates {
		candidates = candidates[:maxRemoteCandidates]
	}
	return candidates
}

func (b *CandidateBuilder) nativeFaviconCandidate(siteURL string) string {
	if b.nativeTemplate == "" {
		return ""
	}
	parsed := parseSiteURL(siteURL)
	if parsed == nil || !isHTTPScheme(parsed.Scheme) {
		return ""
	}
	return fmt.Sprintf(b.nativeTemplate, url.QueryEscape(parsed.String()))
}

// ProxyFaviconURL returns the public favicon proxy URL for a site, or empty
// when the site URL has no usable hostname.
func ProxyFaviconURL(siteURL string) string {
	hostname := hostnameOf(siteURL)
	if hostname == "" {
		return ""
	}
	return fmt.Sprintf(googleFaviconURL, url.QueryEscape(hostname))
}

func duckDuckGoFaviconCandidate(siteURL string) string {
	hostname := hostnameOf(siteURL)
	if hostname == "" {
		return ""
	}
	return fmt.Sprintf(duckduckgoFaviconURL, url.QueryEscape(hostname))
}

// resolveCustomSource validates a user-supplied icon source and resolves it
// against the bookmark's own URL when relative. Local file paths, opaque blob
// references, extension-internal references and schemes other than http(s) or
// inline image data are rejected outright.
func resolveCustomSource(raw, siteURL string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	if isDataImageURL(value) {
		return value
	}
	lower := strings.ToLower(value)
	switch {
	case strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "blob:"),
		strings.HasPrefix(lower, "chrome-extension://"):
		return ""
	}
	for _, prefix := range localFilePathPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	return resolveAgainstSite(value, siteURL)
}

// resolveAgainstSite resolves a possibly-relative URL against the bookmark's
// site URL, returning empty when the result would not be http(s).
func resolveAgainstSite(value, siteURL string) string {
	if strings.HasPrefix(value, "//") {
		return "https:" + value
	}
	if isHTTPURL(value) {
		return value
	}

	site := parseSiteURL(siteURL)
	if site == nil || !isHTTPScheme(site.Scheme) {
		return ""
	}

	ref, err := url.Parse(value)
	if err != nil {
		return ""
	}
	resolved := site.ResolveReference(ref)
	if !isHTTPScheme(resolved.Scheme) {
		return ""
	}
	return resolved.String()
}

// parseSiteURL parses a bookmark URL leniently: scheme-less input is assumed
// to be https. Returns nil when the input cannot be parsed into a URL with a
// host.
func parseSiteURL(raw string) *url.URL {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	switch {
	case schemePrefixRe.MatchString(value):
		// already has a scheme
	case strings.HasPrefix(value, "//"):
		value = "https:" + value
	default:
		value = "https://" + value
	}

	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return nil
	}
	return parsed
}

func hostnameOf(siteURL string) string {
	parsed := parseSiteURL(siteURL)
	if parsed == nil {
		return ""
	}
	return parsed.Hostname()
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

func isHTTPURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return isHTTPScheme(parsed.Scheme) && parsed.Host != ""
}

func isDataImageURL(value string) bool {
	return strings.HasPrefix(value, "data:image/")
}

func dedupeURLs(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		value := strings.TrimSpace(candidate)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// IsAllowedIconURL reports whether an icon URL is from an allowed source:
// inline image data, or a host on (or under) the allowlist.
func IsAllowedIconURL(rawURL string, allowedHosts []string) bool {
	if rawURL == "" {
		return false
	}
	if isDataImageURL(rawURL) {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
