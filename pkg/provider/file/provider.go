// Package file implements the provider interface over a local directory.
//
// It is used for local development and tests where an S3 endpoint is not
// available. Content type and user metadata are kept in JSON sidecars under a
// reserved directory that is never listed.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/mapnimbus/pkg/provider"
)

// metaDir holds per-object sidecars, relative to the base directory.
const metaDir = ".mapnimbus-meta"

// Provider implements provider.ObjectStore for local filesystem paths.
//
// Keys are treated as relative paths under BaseDir.
type Provider struct {
	baseDir string
}

// Ensure Provider implements provider capability interfaces.
var (
	_ provider.Provider    = (*Provider)(nil)
	_ provider.ObjectStore = (*Provider)(nil)
)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := filepath.Abs(filepath.Clean(cfg.BaseDir))
	if err != nil {
		return nil, err
	}
	return &Provider{baseDir: base}, nil
}

func (p *Provider) Close() error { return nil }

// sidecar is the persisted form of object metadata.
type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	_ = ctx
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys, err := p.collectKeys(strings.TrimPrefix(opts.Prefix, "/"))
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		idx := sort.SearchStrings(keys, opts.ContinuationToken)
		for idx < len(keys) && keys[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := start + maxKeys
	if end > len(keys) {
		end = len(keys)
	}

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := p.fullPath(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}
	return p.objectMeta(key, st), nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, *provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, nil, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}
	return f, p.objectMeta(key, st), nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, opts provider.PutOptions) error {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := writeAtomic(full, body); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	metaPath, err := p.sidecarPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if opts.ContentType == "" && len(opts.Metadata) == 0 {
		_ = os.Remove(metaPath)
		return nil
	}
	data, err := json.Marshal(sidecar{ContentType: opts.ContentType, Metadata: lowerKeys(opts.Metadata)})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := writeAtomic(metaPath, strings.NewReader(string(data))); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return p.wrapError("DeleteObject", key, err)
	}
	if metaPath, err := p.sidecarPath(key); err == nil {
		_ = os.Remove(metaPath)
	}
	return nil
}

// PresignGet returns a file:// URL for an existing object.
//
// Local files carry no access control, so the expiry is not encoded.
func (p *Provider) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	_ = ctx
	_ = expires
	full, err := p.fullPath(key)
	if err != nil {
		return "", p.wrapError("PresignGet", key, err)
	}
	if _, err := os.Stat(full); err != nil {
		return "", p.wrapError("PresignGet", key, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(full)}
	return u.String(), nil
}

func (p *Provider) objectMeta(key string, st os.FileInfo) *provider.ObjectMeta {
	meta := &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}
	if sc, ok := p.readSidecar(key); ok {
		meta.ContentType = sc.ContentType
		meta.Metadata = sc.Metadata
	}
	return meta
}

func (p *Provider) readSidecar(key string) (sidecar, bool) {
	var sc sidecar
	path, err := p.sidecarPath(key)
	if err != nil {
		return sc, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, false
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, false
	}
	return sc, true
}

func (p *Provider) sidecarPath(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.baseDir, metaDir, filepath.FromSlash(clean)+".json"), nil
}

func (p *Provider) fullPath(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if clean == metaDir || strings.HasPrefix(clean, metaDir+"/") {
		return "", provider.ErrInvalidKey
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// cleanKey normalizes key and rejects path traversal.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	clean := filepath.ToSlash(filepath.Clean("/" + key))
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", provider.ErrInvalidKey
	}
	return clean, nil
}

func (p *Provider) collectKeys(prefix string) ([]string, error) {
	if _, err := cleanKey(prefix); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(p.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == p.baseDir {
				return fs.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == metaDir && filepath.Dir(path) == p.baseDir {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

// writeAtomic writes body to path through a temp file and rename.
func writeAtomic(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mapnimbus-put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func lowerKeys(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
