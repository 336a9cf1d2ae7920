// Package catalog builds map catalog entries from object store listings.
//
// A saved map is stored as up to three related objects sharing a basename:
// the primary JSON document, a PNG thumbnail and an optional description
// sidecar. Two naming layouts exist:
//
//	current  <title>.json      <title>.png            <title>.meta.json
//	legacy   <title>.map.json  <title>.thumbnail.png  <title>.meta.json
//
// The key layout is externally visible and must not change.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Layout names an object key layout.
type Layout string

const (
	LayoutCurrent Layout = "current"
	LayoutLegacy  Layout = "legacy"
)

// Suffixes are the key suffixes of the objects that make up one map.
type Suffixes struct {
	Primary   string
	Thumbnail string
	Meta      string
}

// ParseLayout converts s to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case LayoutCurrent, LayoutLegacy:
		return l, nil
	default:
		return "", fmt.Errorf("unknown key layout %q (expected current or legacy)", s)
	}
}

// Suffixes returns the key suffixes for l.
func (l Layout) Suffixes() Suffixes {
	if l == LayoutLegacy {
		return Suffixes{Primary: ".map.json", Thumbnail: ".thumbnail.png", Meta: ".meta.json"}
	}
	return Suffixes{Primary: ".json", Thumbnail: ".png", Meta: ".meta.json"}
}

// Keys derives the object keys for a map titled title.
func (l Layout) Keys(title string) (primary, thumbnail, meta string) {
	s := l.Suffixes()
	return title + s.Primary, title + s.Thumbnail, title + s.Meta
}

// match reports the basename of key if it is a primary document under one of
// layouts. Sidecars never match even though they end in ".json".
func match(key string, layouts []Layout) (string, Layout, bool) {
	for _, l := range layouts {
		s := l.Suffixes()
		if strings.HasSuffix(key, s.Meta) {
			return "", "", false
		}
		if strings.HasSuffix(key, s.Primary) {
			base := strings.TrimSuffix(key, s.Primary)
			if base == "" || strings.HasSuffix(base, "/") {
				return "", "", false
			}
			return base, l, true
		}
	}
	return "", "", false
}

// orderLayouts sorts layouts so longer primary suffixes are tried first.
// Otherwise "x.map.json" would read as current-layout title "x.map".
func orderLayouts(layouts []Layout) []Layout {
	out := append([]Layout(nil), layouts...)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Suffixes().Primary) > len(out[j].Suffixes().Primary)
	})
	return out
}
