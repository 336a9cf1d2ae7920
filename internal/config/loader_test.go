package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
		assert.Equal(t, 4, cfg.Workers)

		assert.Equal(t, "file", cfg.Storage.Provider)
		assert.Equal(t, 12*time.Hour, cfg.Identity.SessionTTL)
		assert.False(t, cfg.Identity.Enabled())

		assert.Equal(t, "map-url", cfg.Maps.ShareMode)
		assert.Equal(t, time.Hour, cfg.Maps.ShareExpiry)
		assert.Equal(t, []string{"public", "protected", "private"}, cfg.Maps.Levels)
		assert.Equal(t, 5*time.Minute, cfg.Maps.LoginTimeout)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("MAPNIMBUS_PORT", "3000")
		t.Setenv("MAPNIMBUS_LOG_LEVEL", "warn")
		t.Setenv("MAPNIMBUS_METRICS_ENABLED", "false")
		t.Setenv("MAPNIMBUS_LEVELS", "public, private")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, []string{"public", "private"}, cfg.Maps.Levels)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		t.Setenv("MAPNIMBUS_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapnimbus.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
storage:
  provider: s3
  bucket: kepler-maps
  region: eu-west-1
maps:
  share_mode: load-params
  layout: legacy
  description_mode: metadata
`), 0o644))
		t.Setenv("MAPNIMBUS_REGION", "us-west-2")

		cfg, err := LoadFile(ctx, path)
		require.NoError(t, err)

		assert.Equal(t, "s3", cfg.Storage.Provider)
		assert.Equal(t, "kepler-maps", cfg.Storage.S3Config().Bucket)
		assert.Equal(t, "us-west-2", cfg.Storage.Region, "env wins over file")
		assert.Equal(t, "load-params", cfg.Maps.ShareMode)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := LoadFile(ctx, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			overrides map[string]any
			wantErr   string
		}{
			{"bucket required", map[string]any{"storage": map[string]any{"provider": "s3"}}, "storage.bucket"},
			{"unknown provider", map[string]any{"storage": map[string]any{"provider": "gcs"}}, "storage.provider"},
			{"bad level", map[string]any{"maps": map[string]any{"levels": "public,shared"}}, "maps.levels"},
			{"bad share mode", map[string]any{"maps": map[string]any{"share_mode": "email"}}, "maps.share_mode"},
			{"bad port", map[string]any{"server": map[string]any{"port": 70000}}, "server.port"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Load(ctx, tt.overrides)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetConfig(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Name] = true
		assert.Contains(t, spec.Name, "MAPNIMBUS_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}

	for _, want := range []string{"MAPNIMBUS_LOG_LEVEL", "MAPNIMBUS_PORT", "MAPNIMBUS_HOST",
		"MAPNIMBUS_METRICS_PORT", "MAPNIMBUS_BUCKET", "MAPNIMBUS_SESSION_SECRET"} {
		assert.True(t, names[want], "%s must be mapped", want)
	}
}

func TestDurationParsing(t *testing.T) {
	t.Setenv("MAPNIMBUS_READ_TIMEOUT", "45s")
	t.Setenv("MAPNIMBUS_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("MAPNIMBUS_SHARE_EXPIRY", "30m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Maps.ShareExpiry)
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": cfg1.Server.Port + 1000},
	})
	require.NoError(t, err)

	assert.Equal(t, cfg1.Server.Port+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Nil(t, GetAppIdentity())
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getEnvSpecs())
}

func TestMapsProviderConfig(t *testing.T) {
	cfg, err := Load(context.Background(), map[string]any{
		"maps": map[string]any{
			"levels":       "private",
			"layout":       "legacy",
			"list_layouts": "current,legacy",
			"share_mode":   "LOAD-PARAMS",
			"account_name": "Team bucket",
		},
	})
	require.NoError(t, err)

	pc, err := cfg.Maps.ProviderConfig()
	require.NoError(t, err)
	assert.Equal(t, []storage.Level{storage.LevelPrivate}, pc.Levels)
	assert.Equal(t, catalog.LayoutLegacy, pc.Layout)
	assert.Equal(t, maps.ShareLoadParams, pc.ShareMode)
	assert.Equal(t, "Team bucket", pc.AccountName)

	layouts, err := cfg.Maps.CatalogLayouts()
	require.NoError(t, err)
	assert.Equal(t, []catalog.Layout{catalog.LayoutLegacy, catalog.LayoutCurrent}, layouts)
}
