package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/mapnimbus/pkg/provider"
)

const (
	// DefaultRefCacheSize bounds the presigned reference cache.
	DefaultRefCacheSize = 512

	// DefaultReferenceExpiry is used for non-downloading gets without Expires.
	DefaultReferenceExpiry = 15 * time.Minute
)

// Observer receives timing for every backend call.
type Observer interface {
	ObserveStoreOperation(op string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStoreOperation(string, time.Duration, error) {}

// Options configures a Store.
type Options struct {
	// RateLimit caps backend requests per second. Zero means unlimited.
	RateLimit float64

	// RefCacheSize bounds the presigned reference cache. Zero uses
	// DefaultRefCacheSize; negative disables caching.
	RefCacheSize int

	Logger   *zap.Logger
	Observer Observer
}

// Object is a listed object with its key relative to the level prefix.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListOptions selects the namespace to list.
type ListOptions struct {
	Level      Level
	IdentityID string
}

// GetOptions configures Get.
//
// With Download unset Get returns a retrievable reference (URL) valid for
// Expires instead of the object bytes.
type GetOptions struct {
	Level      Level
	IdentityID string
	Download   bool
	Expires    time.Duration
}

// GetResult is either a reference or a downloaded body.
type GetResult struct {
	Key          string
	URL          string
	Body         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// PutOptions configures Put. IdentityID names the writer's own namespace.
type PutOptions struct {
	Level       Level
	IdentityID  string
	ContentType string
	Metadata    map[string]string
}

// PutResult reports the level-relative key that was written.
type PutResult struct {
	Key string
}

type cachedRef struct {
	url      string
	storedAt time.Time
	ttl      time.Duration
}

// Store exposes level-scoped list/get/put over an object store backend.
//
// Store is safe for concurrent use.
type Store struct {
	backend  provider.ObjectStore
	limiter  *rate.Limiter
	refs     *lru.Cache[string, cachedRef]
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// New creates a Store over backend.
func New(backend provider.ObjectStore, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage: backend is required")
	}

	s := &Store{
		backend:  backend,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      time.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	size := opts.RefCacheSize
	if size == 0 {
		size = DefaultRefCacheSize
	}
	if size > 0 {
		cache, err := lru.New[string, cachedRef](size)
		if err != nil {
			return nil, fmt.Errorf("storage: reference cache: %w", err)
		}
		s.refs = cache
	}
	return s, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// List returns every object under prefix within the selected namespace.
func (s *Store) List(ctx context.Context, prefix string, opts ListOptions) ([]Object, error) {
	root, err := opts.Level.Prefix(opts.IdentityID)
	if err != nil {
		return nil, err
	}

	var objects []Object
	err = s.do(ctx, "list", func() error {
		listed, err := provider.ListAll(ctx, s.backend, root+prefix)
		if err != nil {
			return err
		}
		objects = make([]Object, 0, len(listed))
		for _, o := range listed {
			rel := strings.TrimPrefix(o.Key, root)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			objects = append(objects, Object{
				Key:          rel,
				Size:         o.Size,
				ETag:         o.ETag,
				LastModified: o.LastModified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Listed objects",
		zap.String("level", opts.Level.String()),
		zap.String("prefix", prefix),
		zap.Int("count", len(objects)))
	return objects, nil
}

// Get fetches key as a reference or, with Download set, as bytes.
func (s *Store) Get(ctx context.Context, key string, opts GetOptions) (*GetResult, error) {
	full, err := s.fullKey(key, opts.Level, opts.IdentityID)
	if err != nil {
		return nil, err
	}

	if !opts.Download {
		ref, err := s.reference(ctx, full, opts.Expires)
		if err != nil {
			return nil, err
		}
		return &GetResult{Key: key, URL: ref}, nil
	}

	result := &GetResult{Key: key}
	err = s.do(ctx, "get", func() error {
		body, meta, err := s.backend.GetObject(ctx, full)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()

		data, err := io.ReadAll(body)
		if err != nil {
			return &provider.ProviderError{Op: "GetObject", Key: full, Err: err}
		}
		result.Body = data
		if meta != nil {
			result.ContentType = meta.ContentType
			result.Metadata = meta.Metadata
			result.LastModified = meta.LastModified
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Head returns metadata for key without downloading it.
func (s *Store) Head(ctx context.Context, key string, opts GetOptions) (*GetResult, error) {
	full, err := s.fullKey(key, opts.Level, opts.IdentityID)
	if err != nil {
		return nil, err
	}

	var result *GetResult
	err = s.do(ctx, "head", func() error {
		meta, err := s.backend.Head(ctx, full)
		if err != nil {
			return err
		}
		result = &GetResult{
			Key:          key,
			ContentType:  meta.ContentType,
			Metadata:     meta.Metadata,
			LastModified: meta.LastModified,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Put writes body under key in the writer's namespace.
func (s *Store) Put(ctx context.Context, key string, body []byte, opts PutOptions) (*PutResult, error) {
	full, err := s.fullKey(key, opts.Level, opts.IdentityID)
	if err != nil {
		return nil, err
	}

	err = s.do(ctx, "put", func() error {
		return s.backend.PutObject(ctx, full, bytes.NewReader(body), provider.PutOptions{
			ContentType:   opts.ContentType,
			ContentLength: int64(len(body)),
			Metadata:      opts.Metadata,
		})
	})
	if err != nil {
		return nil, err
	}

	// A rewritten object keeps its key; cached references stay valid.
	s.logger.Debug("Stored object",
		zap.String("level", opts.Level.String()),
		zap.String("key", key),
		zap.Int("bytes", len(body)))
	return &PutResult{Key: key}, nil
}

// Remove deletes key from the writer's namespace.
func (s *Store) Remove(ctx context.Context, key string, opts PutOptions) error {
	full, err := s.fullKey(key, opts.Level, opts.IdentityID)
	if err != nil {
		return err
	}
	err = s.do(ctx, "delete", func() error {
		return s.backend.DeleteObject(ctx, full)
	})
	if err == nil && s.refs != nil {
		s.purgeRefs(full)
	}
	return err
}

func (s *Store) reference(ctx context.Context, full string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultReferenceExpiry
	}
	cacheKey := full + "|" + expires.String()
	if s.refs != nil {
		if ref, ok := s.refs.Get(cacheKey); ok && s.now().Sub(ref.storedAt) < ref.ttl/2 {
			return ref.url, nil
		}
	}

	var url string
	err := s.do(ctx, "presign", func() error {
		var err error
		url, err = s.backend.PresignGet(ctx, full, expires)
		return err
	})
	if err != nil {
		return "", err
	}
	if s.refs != nil {
		s.refs.Add(cacheKey, cachedRef{url: url, storedAt: s.now(), ttl: expires})
	}
	return url, nil
}

func (s *Store) purgeRefs(full string) {
	for _, k := range s.refs.Keys() {
		if strings.HasPrefix(k, full+"|") {
			s.refs.Remove(k)
		}
	}
}

func (s *Store) fullKey(key string, level Level, identityID string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	root, err := level.Prefix(identityID)
	if err != nil {
		return "", err
	}
	full := root + key
	if path.Clean(full) != full || !strings.HasPrefix(full, root) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, full)
	}
	return full, nil
}

// do runs fn under the rate limiter and reports it to the observer.
func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	start := s.now()
	err := fn()
	s.observer.ObserveStoreOperation(op, s.now().Sub(start), err)
	return err
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if clean := path.Clean(key); clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
