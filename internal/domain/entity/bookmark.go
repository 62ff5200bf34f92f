package entity

import "strings"

// Bookmark represents a single site card on the start page grid.
// The icon subsystem consumes bookmarks read-only; all mutation happens
// in the category store that owns them.
type Bookmark struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Src        string `json:"src,omitempty"`
	IconSource string `json:"iconSource,omitempty"`
	BgColor    string `json:"bgColor,omitempty"`
}

// RequestKey returns the icon resolution dedupe key for the bookmark.
// It changes whenever any icon-relevant field changes, so stale resolution
// and negative-cache entries for an edited bookmark simply stop being looked up.
func (b Bookmark) RequestKey() string {
	return strings.Join([]string{b.ID, b.URL, b.Src, b.IconSource}, "|")
}

// FallbackGlyph returns the single-character glyph shown when no icon resolves.
func (b Bookmark) FallbackGlyph() string {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return ""
	}
	return string([]rune(name)[:1])
}

// Category groups bookmarks under a named tab.
type Category struct {
	Name  string     `json:"name"`
	Items []Bookmark `json:"items"`
}
