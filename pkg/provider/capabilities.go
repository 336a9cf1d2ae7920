package provider

import (
	"context"
	"io"
	"time"
)

// Optional provider capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// Provider interface remains intentionally small.

// PutOptions describes how an object is stored.
type PutOptions struct {
	// ContentType is the MIME type recorded with the object.
	ContentType string

	// ContentLength is the body size in bytes. Negative means unknown.
	ContentLength int64

	// Metadata contains user-defined metadata stored alongside the object.
	Metadata map[string]string
}

// ObjectPutter can create/overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) error
}

// ObjectDeleter can delete objects.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ObjectGetter can download objects as a stream.
//
// The caller must close the returned body.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, meta *ObjectMeta, err error)
}

// URLPresigner can mint time-limited read references for objects.
//
// The returned reference is retrievable without further credentials until it
// expires.
type URLPresigner interface {
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ObjectStore is the full capability set the map store relies on.
type ObjectStore interface {
	Provider
	ObjectGetter
	ObjectPutter
	ObjectDeleter
	URLPresigner
}
