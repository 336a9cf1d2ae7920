package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

const (
	contentTypeJSON = "application/json"
	contentTypePNG  = "image/png"
)

// ListMaps lists every configured level in order and concatenates the
// catalogs. Levels that need an identity are skipped while signed out. A
// failed level listing fails the whole call.
func (p *Provider) ListMaps(ctx context.Context) ([]catalog.Entry, error) {
	user := p.currentUser(ctx)

	var all []catalog.Entry
	for _, level := range p.cfg.Levels {
		identityID := ""
		if level != storage.LevelPublic {
			if user == nil {
				p.logger.Debug("Skipping level while signed out", zap.String("level", level.String()))
				continue
			}
			identityID = user.ID
		}

		objects, err := p.store.List(ctx, "", storage.ListOptions{Level: level, IdentityID: identityID})
		if err != nil {
			return nil, newError("list maps", levelTitle(level)+" maps", readKind(err), err)
		}
		entries, err := p.catalog.Build(ctx, objects, level, identityID)
		if err != nil {
			return nil, newError("list maps", levelTitle(level)+" maps", ErrStorageRead, err)
		}
		all = append(all, entries...)
	}
	return all, nil
}

// DownloadMap loads the map lp identifies.
//
// Private maps are always read from the caller's namespace. Protected maps
// are read from lp.IdentityID, defaulting to the caller.
func (p *Provider) DownloadMap(ctx context.Context, lp LoadParams) (*MapResponse, error) {
	const op = "download map"
	if err := checkLoadParams(op, lp); err != nil {
		return nil, err
	}

	user := p.currentUser(ctx)
	resolved := lp
	switch lp.Level {
	case storage.LevelPublic:
		resolved.IdentityID = ""
	case storage.LevelPrivate:
		if user == nil {
			return nil, newError(op, lp.MapID, ErrAuth, fmt.Errorf("private maps require sign-in"))
		}
		resolved.IdentityID = user.ID
	default:
		if resolved.IdentityID == "" {
			if user == nil {
				return nil, newError(op, lp.MapID, ErrAuth, fmt.Errorf("identity id is required while signed out"))
			}
			resolved.IdentityID = user.ID
		}
	}

	res, err := p.store.Get(ctx, lp.MapID, storage.GetOptions{
		Level:      resolved.Level,
		IdentityID: resolved.IdentityID,
		Download:   true,
	})
	if err != nil {
		return nil, newError(op, lp.MapID, readKind(err), err)
	}

	body := bytes.TrimSpace(res.Body)
	if !json.Valid(body) {
		return nil, newError(op, lp.MapID, ErrParse, nil)
	}

	p.logger.Debug("Downloaded map",
		zap.String("level", resolved.Level.String()),
		zap.String("map_id", lp.MapID),
		zap.Int("bytes", len(body)))
	return &MapResponse{Map: json.RawMessage(body), Format: Format, LoadParams: resolved}, nil
}

// UploadMap saves doc as the thumbnail, primary document and description
// objects of one map.
//
// Public uploads are stored at the protected level and return a share URL;
// other uploads are stored privately and return their load params. The
// objects are written concurrently and a failed write aborts the upload
// without removing objects already written.
func (p *Provider) UploadMap(ctx context.Context, doc MapDocument, opts UploadOptions) (*ShareResult, error) {
	const op = "upload map"

	payload := bytes.TrimSpace(doc.Map)
	if len(payload) == 0 {
		return nil, newError(op, doc.Title, ErrInvalidMap, fmt.Errorf("map payload is empty"))
	}
	if !json.Valid(payload) {
		return nil, newError(op, doc.Title, ErrParse, nil)
	}
	title, description := documentInfo(doc, payload)
	if title == "" {
		return nil, newError(op, "", ErrInvalidMap, fmt.Errorf("title is required"))
	}

	user := p.currentUser(ctx)
	if user == nil {
		return nil, newError(op, title, ErrAuth, fmt.Errorf("saving maps requires sign-in"))
	}

	level := storage.LevelPrivate
	if opts.IsPublic {
		level = storage.LevelProtected
	}
	primaryKey, thumbKey, metaKey := p.cfg.Layout.Keys(title)
	sidecar, err := json.Marshal(struct {
		Description string `json:"description"`
	}{description})
	if err != nil {
		return nil, newError(op, title, ErrStorageWrite, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	put := func(key string, body []byte, contentType string, metadata map[string]string) error {
		_, err := p.store.Put(gctx, key, body, storage.PutOptions{
			Level:       level,
			IdentityID:  user.ID,
			ContentType: contentType,
			Metadata:    metadata,
		})
		if err != nil {
			return fmt.Errorf("saving %s file failed: %w", key, err)
		}
		return nil
	}

	if len(doc.Thumbnail) > 0 {
		var metadata map[string]string
		if p.cfg.DescriptionMode == catalog.DescriptionMetadata {
			metadata = map[string]string{catalog.MetadataDescriptionKey: catalog.EncodeDescription(description)}
		}
		g.Go(func() error { return put(thumbKey, doc.Thumbnail, contentTypePNG, metadata) })
	}
	if p.cfg.DescriptionMode == catalog.DescriptionSidecar {
		g.Go(func() error { return put(metaKey, sidecar, contentTypeJSON, nil) })
	}
	g.Go(func() error { return put(primaryKey, payload, contentTypeJSON, nil) })

	if err := g.Wait(); err != nil {
		return nil, newError(op, title, ErrStorageWrite, err)
	}

	p.logger.Info("Saved map",
		zap.String("level", level.String()),
		zap.String("map_id", primaryKey),
		zap.Bool("public", opts.IsPublic))

	lp := LoadParams{Level: level, MapID: primaryKey, IdentityID: user.ID}
	if !opts.IsPublic {
		return &ShareResult{Level: lp.Level, MapID: lp.MapID, IdentityID: lp.IdentityID}, nil
	}

	if p.cfg.ShareMode == ShareLoadParams {
		shareURL, err := p.urls.LoadParamsShareURL(lp, true)
		if err != nil {
			return nil, err
		}
		return &ShareResult{ShareURL: shareURL}, nil
	}

	ref, err := p.store.Get(ctx, primaryKey, storage.GetOptions{
		Level:      level,
		IdentityID: user.ID,
		Expires:    p.cfg.ShareExpiry,
	})
	if err != nil {
		return nil, newError(op, primaryKey, readKind(err), err)
	}
	shareURL, err := p.urls.ShareURL(ref.URL, true)
	if err != nil {
		return nil, err
	}
	return &ShareResult{ShareURL: shareURL}, nil
}

// documentInfo returns the title and description of doc, falling back to
// the map's info section.
func documentInfo(doc MapDocument, payload []byte) (string, string) {
	title := strings.TrimSpace(doc.Title)
	description := doc.Description
	if title != "" && description != "" {
		return title, description
	}

	var parsed struct {
		Info struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"info"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil {
		if title == "" {
			title = strings.TrimSpace(parsed.Info.Title)
		}
		if description == "" {
			description = parsed.Info.Description
		}
	}
	return title, description
}

func levelTitle(l storage.Level) string {
	s := l.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
