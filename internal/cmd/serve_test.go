package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestMetricsHealthChecker(t *testing.T) {
	checker := metricsHealthChecker{}

	orig := observability.PrometheusRegistry
	defer func() { observability.PrometheusRegistry = orig }()

	t.Run("returns error when registry not initialized", func(t *testing.T) {
		observability.PrometheusRegistry = nil

		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics registry not initialized")
	})

	t.Run("healthy with registry", func(t *testing.T) {
		observability.PrometheusRegistry = prometheus.NewRegistry()
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		errContain string
	}{
		{name: "all fields valid", binaryName: "mapnimbus", envPrefix: "MAPNIMBUS", configName: "mapnimbus"},
		{name: "missing binary name", envPrefix: "MAPNIMBUS", configName: "mapnimbus", errContain: "missing binary name"},
		{name: "missing env prefix", binaryName: "mapnimbus", configName: "mapnimbus", errContain: "missing env prefix"},
		{name: "missing config name", binaryName: "mapnimbus", envPrefix: "MAPNIMBUS", errContain: "missing config name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}
			err := checker.CheckHealth(context.Background())
			if tt.errContain == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContain)
		})
	}
}

type listerFunc func(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.Object, error)

func (f listerFunc) List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.Object, error) {
	return f(ctx, prefix, opts)
}

func TestStoreHealthChecker(t *testing.T) {
	t.Run("lists the public level", func(t *testing.T) {
		var got storage.ListOptions
		checker := storeHealthChecker{store: listerFunc(func(_ context.Context, _ string, opts storage.ListOptions) ([]storage.Object, error) {
			got = opts
			return nil, nil
		})}

		require.NoError(t, checker.CheckHealth(context.Background()))
		assert.Equal(t, storage.LevelPublic, got.Level)
		assert.Empty(t, got.IdentityID)
	})

	t.Run("reports list failures", func(t *testing.T) {
		checker := storeHealthChecker{store: listerFunc(func(context.Context, string, storage.ListOptions) ([]storage.Object, error) {
			return nil, errors.New("bucket gone")
		})}

		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list public maps")
		assert.Contains(t, err.Error(), "bucket gone")
	})
}

func TestIsHTTPS(t *testing.T) {
	assert.True(t, isHTTPS("https://maps.example.com"))
	assert.False(t, isHTTPS("http://localhost:8080"))
	assert.False(t, isHTTPS(""))
}
