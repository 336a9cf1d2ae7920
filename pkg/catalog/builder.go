package catalog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/mapnimbus/pkg/storage"
)

// Placeholder is the description of a map without a readable description.
const Placeholder = "No description available."

// DefaultConcurrency bounds per-entry fetches during Build.
const DefaultConcurrency = 8

// DescriptionMode selects where map descriptions are stored.
type DescriptionMode string

const (
	// DescriptionSidecar stores {"description": "..."} as <title>.meta.json.
	DescriptionSidecar DescriptionMode = "sidecar"

	// DescriptionMetadata stores the description base64 encoded in the
	// thumbnail's "description" user metadata.
	DescriptionMetadata DescriptionMode = "metadata"
)

// MetadataDescriptionKey is the thumbnail metadata key holding descriptions.
const MetadataDescriptionKey = "description"

// ParseDescriptionMode converts s to a DescriptionMode.
func ParseDescriptionMode(s string) (DescriptionMode, error) {
	switch m := DescriptionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case DescriptionSidecar, DescriptionMetadata:
		return m, nil
	default:
		return "", fmt.Errorf("unknown description mode %q (expected sidecar or metadata)", s)
	}
}

// LoadParams identifies exactly one stored map document.
type LoadParams struct {
	Level      storage.Level `json:"level"`
	MapID      string        `json:"mapId"`
	IdentityID string        `json:"identityId,omitempty"`
}

// Entry is one map in a catalog listing.
//
// Thumbnail is a retrievable reference (URL) or empty when the map has no
// thumbnail. Error is set when resolving the entry's companions failed; the
// remaining fields are still populated from the listing.
type Entry struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	PrivateMap       bool       `json:"privateMap"`
	Thumbnail        string     `json:"thumbnail,omitempty"`
	LastModification time.Time  `json:"lastModification"`
	LoadParams       LoadParams `json:"loadParams"`
	Error            string     `json:"error,omitempty"`
}

// Source reads companion objects for a listing.
type Source interface {
	Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetResult, error)
	Head(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetResult, error)
}

// Options configures a Builder.
type Options struct {
	// Layouts lists the recognized key layouts. Empty means current only.
	Layouts []Layout

	// DescriptionMode defaults to DescriptionSidecar.
	DescriptionMode DescriptionMode

	// Concurrency bounds per-entry fetches. Zero uses DefaultConcurrency.
	Concurrency int

	// ThumbnailExpiry is the lifetime of thumbnail references.
	ThumbnailExpiry time.Duration

	// Filter optionally restricts listed titles.
	Filter *TitleFilter

	Logger *zap.Logger
}

// Builder turns raw listings into catalog entries.
type Builder struct {
	source  Source
	layouts []Layout
	mode    DescriptionMode
	limit   int
	expiry  time.Duration
	filter  *TitleFilter
	logger  *zap.Logger
}

// NewBuilder creates a Builder reading companions from source.
func NewBuilder(source Source, opts Options) (*Builder, error) {
	if source == nil {
		return nil, fmt.Errorf("catalog: source is required")
	}
	layouts := opts.Layouts
	if len(layouts) == 0 {
		layouts = []Layout{LayoutCurrent}
	}
	for _, l := range layouts {
		if _, err := ParseLayout(string(l)); err != nil {
			return nil, err
		}
	}
	mode := opts.DescriptionMode
	if mode == "" {
		mode = DescriptionSidecar
	}
	if _, err := ParseDescriptionMode(string(mode)); err != nil {
		return nil, err
	}

	b := &Builder{
		source:  source,
		layouts: orderLayouts(layouts),
		mode:    mode,
		limit:   opts.Concurrency,
		expiry:  opts.ThumbnailExpiry,
		filter:  opts.Filter,
		logger:  opts.Logger,
	}
	if b.limit <= 0 {
		b.limit = DefaultConcurrency
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b, nil
}

// Build produces one entry per primary document in objects, in listing order.
//
// identityID addresses the namespace objects were listed from. Companion fetch
// failures are recorded on the affected entry; Build itself only fails when
// ctx is done.
func (b *Builder) Build(ctx context.Context, objects []storage.Object, level storage.Level, identityID string) ([]Entry, error) {
	present := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		present[o.Key] = struct{}{}
	}

	type candidate struct {
		obj    storage.Object
		title  string
		layout Layout
	}
	var candidates []candidate
	for _, o := range objects {
		title, layout, ok := match(o.Key, b.layouts)
		if !ok || !b.filter.Match(title) {
			continue
		}
		candidates = append(candidates, candidate{obj: o, title: title, layout: layout})
	}

	entries := make([]Entry, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)

	for i, c := range candidates {
		entries[i] = Entry{
			ID:               c.obj.Key,
			Title:            c.title,
			Description:      Placeholder,
			PrivateMap:       level == storage.LevelPrivate,
			LastModification: c.obj.LastModified,
			LoadParams:       LoadParams{Level: level, MapID: c.obj.Key},
		}
		if level != storage.LevelPublic {
			entries[i].LoadParams.IdentityID = identityID
		}

		g.Go(func() error {
			b.resolve(gctx, &entries[i], c.title, c.layout, present, level, identityID)
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.logger.Debug("Built catalog",
		zap.String("level", level.String()),
		zap.Int("objects", len(objects)),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// resolve fills thumbnail and description for one entry.
func (b *Builder) resolve(ctx context.Context, e *Entry, title string, layout Layout, present map[string]struct{}, level storage.Level, identityID string) {
	_, thumbKey, metaKey := layout.Keys(title)
	_, hasThumb := present[thumbKey]
	_, hasMeta := present[metaKey]

	var failures []string

	if hasThumb {
		res, err := b.source.Get(ctx, thumbKey, storage.GetOptions{
			Level: level, IdentityID: identityID, Expires: b.expiry,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("getting image file %s failed: %v", thumbKey, err))
		} else {
			e.Thumbnail = res.URL
		}
	}

	switch {
	case b.mode == DescriptionSidecar && hasMeta:
		res, err := b.source.Get(ctx, metaKey, storage.GetOptions{
			Level: level, IdentityID: identityID, Download: true,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("getting meta data file %s failed: %v", metaKey, err))
		} else {
			e.Description = sidecarDescription(res.Body)
		}
	case b.mode == DescriptionMetadata && hasThumb:
		res, err := b.source.Head(ctx, thumbKey, storage.GetOptions{
			Level: level, IdentityID: identityID,
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("reading metadata of %s failed: %v", thumbKey, err))
		} else {
			e.Description = metadataDescription(res.Metadata)
		}
	}

	if len(failures) > 0 {
		e.Error = strings.Join(failures, "; ")
		b.logger.Warn("Catalog entry incomplete",
			zap.String("key", e.ID),
			zap.String("error", e.Error))
	}
}

// sidecarDescription reads the description field of a sidecar body.
func sidecarDescription(body []byte) string {
	var doc struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Placeholder
	}
	if strings.TrimSpace(doc.Description) == "" {
		return Placeholder
	}
	return doc.Description
}

// metadataDescription decodes the base64 description metadata value.
//
// EncodeDescription always writes base64, so a value is read as base64
// whenever it decodes to printable UTF-8 text. Values written raw by other
// tools are used verbatim otherwise; a raw value that happens to decode to
// printable text is indistinguishable and is read decoded.
func metadataDescription(meta map[string]string) string {
	raw := strings.TrimSpace(meta[MetadataDescriptionKey])
	if raw == "" {
		return Placeholder
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && printableText(decoded) {
		return string(decoded)
	}
	if utf8.ValidString(raw) {
		return raw
	}
	return Placeholder
}

func printableText(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t') {
			return false
		}
	}
	return true
}

// EncodeDescription encodes a description for thumbnail metadata.
func EncodeDescription(description string) string {
	return base64.StdEncoding.EncodeToString([]byte(description))
}
