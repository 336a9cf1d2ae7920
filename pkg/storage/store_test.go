package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/pkg/provider"
	"github.com/3leaps/mapnimbus/pkg/provider/file"
)

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingObserver) ObserveStoreOperation(op string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingObserver) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T, obs Observer) *Store {
	t.Helper()
	backend, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	s, err := New(backend, Options{Observer: obs})
	require.NoError(t, err)
	return s
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"public", LevelPublic, false},
		{" Protected ", LevelProtected, false},
		{"PRIVATE", LevelPrivate, false},
		{"", "", true},
		{"guest", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestLevel_Prefix(t *testing.T) {
	p, err := LevelPublic.Prefix("")
	require.NoError(t, err)
	assert.Equal(t, "public/", p)

	p, err = LevelPublic.Prefix("ignored")
	require.NoError(t, err)
	assert.Equal(t, "public/", p)

	p, err = LevelPrivate.Prefix("us-east-1:abc")
	require.NoError(t, err)
	assert.Equal(t, "private/us-east-1:abc/", p)

	_, err = LevelProtected.Prefix("")
	assert.ErrorIs(t, err, ErrNoIdentity)

	for _, id := range []string{"a/b", "..", ".", `a\b`, " padded", "tab\tid"} {
		_, err = LevelProtected.Prefix(id)
		assert.ErrorIs(t, err, ErrInvalidKey, "identity %q", id)
		_, err = LevelPrivate.Prefix(id)
		assert.ErrorIs(t, err, ErrInvalidKey, "identity %q", id)
	}

	_, err = Level("shared").Prefix("x")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestStore_PutListGet(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, obs)
	ctx := context.Background()

	_, err := s.Put(ctx, "roads.json", []byte(`{"a":1}`), PutOptions{
		Level: LevelPrivate, IdentityID: "u1", ContentType: "application/json",
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, "roads.png", []byte("png"), PutOptions{
		Level: LevelPrivate, IdentityID: "u1", ContentType: "image/png",
		Metadata: map[string]string{"description": "cm9hZHM="},
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, "other.json", []byte(`{}`), PutOptions{Level: LevelPrivate, IdentityID: "u2"})
	require.NoError(t, err)

	objs, err := s.List(ctx, "", ListOptions{Level: LevelPrivate, IdentityID: "u1"})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "roads.json", objs[0].Key)
	assert.Equal(t, "roads.png", objs[1].Key)

	got, err := s.Get(ctx, "roads.json", GetOptions{Level: LevelPrivate, IdentityID: "u1", Download: true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got.Body))
	assert.Equal(t, "application/json", got.ContentType)

	head, err := s.Head(ctx, "roads.png", GetOptions{Level: LevelPrivate, IdentityID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "cm9hZHM=", head.Metadata["description"])

	assert.Equal(t, 3, obs.count("put"))
	assert.Equal(t, 1, obs.count("list"))
	assert.Equal(t, 1, obs.count("get"))
	assert.Equal(t, 1, obs.count("head"))
}

func TestStore_ListPrefixIsRelative(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	for _, k := range []string{"a.json", "b.json"} {
		_, err := s.Put(ctx, k, []byte("{}"), PutOptions{Level: LevelPublic})
		require.NoError(t, err)
	}

	objs, err := s.List(ctx, "b", ListOptions{Level: LevelPublic})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "b.json", objs[0].Key)
}

func TestStore_ReferenceIsCached(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, obs)
	ctx := context.Background()

	_, err := s.Put(ctx, "m.png", []byte("x"), PutOptions{Level: LevelPublic})
	require.NoError(t, err)

	opts := GetOptions{Level: LevelPublic, Expires: time.Hour}
	first, err := s.Get(ctx, "m.png", opts)
	require.NoError(t, err)
	assert.NotEmpty(t, first.URL)
	assert.Nil(t, first.Body)

	second, err := s.Get(ctx, "m.png", opts)
	require.NoError(t, err)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, 1, obs.count("presign"))

	// Past half the lifetime the reference is re-signed.
	s.now = func() time.Time { return time.Now().Add(45 * time.Minute) }
	_, err = s.Get(ctx, "m.png", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.count("presign"))
}

func TestStore_RemovePurgesReferences(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.Put(ctx, "m.png", []byte("x"), PutOptions{Level: LevelPublic})
	require.NoError(t, err)
	_, err = s.Get(ctx, "m.png", GetOptions{Level: LevelPublic})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "m.png", PutOptions{Level: LevelPublic}))

	_, err = s.Get(ctx, "m.png", GetOptions{Level: LevelPublic})
	assert.True(t, provider.IsNotFound(err))
}

func TestStore_InvalidInputs(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		level Level
		id    string
		want  error
	}{
		{"empty key", "", LevelPublic, "", ErrInvalidKey},
		{"absolute key", "/a.json", LevelPublic, "", ErrInvalidKey},
		{"traversal", "../a.json", LevelPublic, "", ErrInvalidKey},
		{"unclean", "a/../b.json", LevelPublic, "", ErrInvalidKey},
		{"missing identity", "a.json", LevelPrivate, "", ErrNoIdentity},
		{"bad level", "a.json", Level("x"), "", ErrInvalidLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(ctx, tt.key, []byte("{}"), PutOptions{Level: tt.level, IdentityID: tt.id})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStore_MissingObject(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Get(context.Background(), "none.json", GetOptions{Level: LevelPublic, Download: true})
	assert.True(t, provider.IsNotFound(err))
}

func TestStore_RateLimitHonorsContext(t *testing.T) {
	backend, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	s, err := New(backend, Options{RateLimit: 0.001})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.List(ctx, "", ListOptions{Level: LevelPublic})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.List(ctx, "", ListOptions{Level: LevelPublic})
	assert.Error(t, err)
}
