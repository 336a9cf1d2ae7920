package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/config"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/loginflow"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/output"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	base := map[string]any{
		"storage": map[string]any{"provider": "file", "base_dir": t.TempDir()},
		"identity": map[string]any{
			"issuer":         "https://id.example.com",
			"client_id":      "mapnimbus",
			"session_secret": testSessionSecret,
			"session_file":   filepath.Join(t.TempDir(), "session"),
		},
	}
	cfg, err := config.Load(context.Background(), base, overrides)
	require.NoError(t, err)
	return cfg
}

func TestNewBackend(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		backend, err := newBackend(context.Background(), config.StorageConfig{Provider: "file", BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := newBackend(context.Background(), config.StorageConfig{Provider: "gcs"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported storage provider")
	})
}

func TestNewStack(t *testing.T) {
	ctx := context.Background()

	t.Run("identity disabled", func(t *testing.T) {
		cfg := testConfig(t, map[string]any{"identity": map[string]any{"issuer": ""}})
		st, err := newStack(ctx, cfg, stackOptions{identity: contextClient})
		require.NoError(t, err)
		defer func() { _ = st.store.Close() }()

		assert.False(t, st.provider.IsEnabled())
		assert.Nil(t, st.sessions)
	})

	t.Run("origin override", func(t *testing.T) {
		cfg := testConfig(t, nil)
		st, err := newStack(ctx, cfg, stackOptions{identity: contextClient, origin: "http://127.0.0.1:9999"})
		require.NoError(t, err)
		defer func() { _ = st.store.Close() }()

		assert.True(t, st.provider.IsEnabled())
		assert.True(t, strings.HasPrefix(st.provider.LoginURL("s1"), "http://127.0.0.1:9999/aws/aws-login?state=s1"))
	})

	t.Run("upload then list", func(t *testing.T) {
		cfg := testConfig(t, nil)
		st, err := newStack(ctx, cfg, stackOptions{identity: contextClient, logger: zap.NewNop()})
		require.NoError(t, err)
		defer func() { _ = st.store.Close() }()

		userCtx := identity.WithUser(ctx, &identity.User{ID: "u1", Username: "ann@example.com"})
		res, err := st.provider.UploadMap(userCtx, maps.MapDocument{
			Map:       json.RawMessage(`{"info":{"title":"Harbor","description":"piers"}}`),
			Thumbnail:   []byte("png"),
		}, maps.UploadOptions{})
		require.NoError(t, err)
		lp, ok := res.LoadParams()
		require.True(t, ok)
		assert.Equal(t, storage.LevelPrivate, lp.Level)

		var buf bytes.Buffer
		require.NoError(t, listMaps(userCtx, st.provider, cfg.Maps.Levels, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)

		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
		assert.Equal(t, output.TypeMap, rec.Type)
		var entry output.MapRecord
		require.NoError(t, json.Unmarshal(rec.Data, &entry))
		assert.Equal(t, "Harbor", entry.Title)
		assert.Equal(t, "piers", entry.Description)
		assert.True(t, entry.PrivateMap)

		require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
		assert.Equal(t, output.TypeSummary, rec.Type)
		var summary output.SummaryRecord
		require.NoError(t, json.Unmarshal(rec.Data, &summary))
		assert.Equal(t, int64(1), summary.Maps)
	})
}

func TestPutMap(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, nil)
	st, err := newStack(ctx, cfg, stackOptions{identity: contextClient})
	require.NoError(t, err)
	defer func() { _ = st.store.Close() }()

	t.Run("public map prints share url", func(t *testing.T) {
		userCtx := identity.WithUser(ctx, &identity.User{ID: "u1"})
		var buf bytes.Buffer
		err := putMap(userCtx, st.provider, maps.MapDocument{Map: json.RawMessage(`{"a":1}`), Title: "Shared"},
			maps.UploadOptions{IsPublic: true}, &buf)
		require.NoError(t, err)

		var rec output.Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, output.TypeShare, rec.Type)
		var share output.ShareRecord
		require.NoError(t, json.Unmarshal(rec.Data, &share))
		assert.True(t, strings.HasPrefix(share.URL, "http://localhost:8080/demo/map?mapUrl="))
		assert.Nil(t, share.LoadParams)
	})

	t.Run("signed out writes error record", func(t *testing.T) {
		var buf bytes.Buffer
		err := putMap(ctx, st.provider, maps.MapDocument{Map: json.RawMessage(`{}`), Title: "x"}, maps.UploadOptions{}, &buf)

		var ee *exitErr
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, foundry.ExitExternalServiceUnavailable, ee.code)

		var rec output.Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, output.TypeError, rec.Type)
		var e output.ErrorRecord
		require.NoError(t, json.Unmarshal(rec.Data, &e))
		assert.Equal(t, output.ErrCodeAuth, e.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{name: "auth", err: &maps.Error{Op: "login", Kind: maps.ErrAuth}, wantCode: output.ErrCodeAuth, wantExit: foundry.ExitExternalServiceUnavailable},
		{name: "not found", err: &maps.Error{Op: "download map", Key: "a.json", Kind: maps.ErrNotFound}, wantCode: output.ErrCodeNotFound, wantExit: foundry.ExitFileNotFound},
		{name: "parse", err: &maps.Error{Op: "download map", Kind: maps.ErrParse}, wantCode: output.ErrCodeParse, wantExit: foundry.ExitInvalidArgument},
		{name: "invalid load params", err: &maps.Error{Op: "map url", Kind: maps.ErrInvalidLoadParams}, wantCode: output.ErrCodeParse, wantExit: foundry.ExitInvalidArgument},
		{name: "storage read", err: &maps.Error{Op: "list maps", Kind: maps.ErrStorageRead}, wantCode: output.ErrCodeStorage, wantExit: foundry.ExitFileReadError},
		{name: "storage write", err: &maps.Error{Op: "upload map", Kind: maps.ErrStorageWrite}, wantCode: output.ErrCodeStorage, wantExit: foundry.ExitFileWriteError},
		{name: "other", err: errors.New("boom"), wantCode: output.ErrCodeInternal, wantExit: exitGeneralFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, errorRecord(tt.err, "").Code)
			assert.Equal(t, tt.wantExit, exitCodeFor(tt.err))
		})
	}

	rec := errorRecord(&maps.Error{Op: "download map", Key: "a.json", Kind: maps.ErrNotFound}, "")
	assert.Equal(t, "a.json", rec.MapID)
}

func TestSessionFilePath(t *testing.T) {
	assert.Equal(t, "/tmp/s", sessionFilePath(config.IdentityConfig{SessionFile: "/tmp/s"}))

	def := sessionFilePath(config.IdentityConfig{})
	assert.Equal(t, "session", filepath.Base(def))
	assert.Contains(t, def, "mapnimbus")
}

func TestSaveSessions(t *testing.T) {
	sessions, err := identity.NewSessions(testSessionSecret, time.Hour)
	require.NoError(t, err)
	hub := identity.NewHub()
	logins := loginflow.New()
	file := identity.SessionFile{Path: filepath.Join(t.TempDir(), "session"), Sessions: sessions, Hub: hub}

	stop := saveSessions(hub, sessions, file, logins, zap.NewNop())
	defer stop()

	attempt := logins.Begin()
	hub.Publish(identity.Event{Type: identity.EventSignIn, User: identity.User{ID: "u1", Username: "ann"}, State: attempt.State()})

	res, err := attempt.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "u1", res.UserID)

	u, err := file.CurrentUserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = os.Stat(file.Path)
	require.NoError(t, err)
}

func TestReadMapDocument(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "m.json")
	require.NoError(t, os.WriteFile(mapPath, []byte(`{"a":1}`), 0o600))

	doc, err := readMapDocument(mapPath, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(doc.Map))
	assert.Nil(t, doc.Thumbnail)

	_, err = readMapDocument(filepath.Join(dir, "missing.json"), "")
	var ee *exitErr
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, foundry.ExitFileNotFound, ee.code)
}
