// Package config loads layered configuration: defaults, YAML files,
// MAPNIMBUS_* environment variables and runtime overrides, in increasing
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/provider/s3"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

// Config is the effective application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Health   HealthConfig   `mapstructure:"health" yaml:"health"`
	Debug    DebugConfig    `mapstructure:"debug" yaml:"debug"`
	Workers  int            `mapstructure:"workers" yaml:"workers"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Maps     MapsConfig     `mapstructure:"maps" yaml:"maps"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Profile    string `mapstructure:"profile" yaml:"profile"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	// Provider is "s3" or "file".
	Provider        string  `mapstructure:"provider" yaml:"provider"`
	Bucket          string  `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region          string  `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Profile         string  `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string  `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string  `mapstructure:"secret_access_key" yaml:"-"`
	ForcePathStyle  bool    `mapstructure:"force_path_style" yaml:"force_path_style"`
	BaseDir         string  `mapstructure:"base_dir" yaml:"base_dir,omitempty"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// IdentityConfig configures hosted sign-in and sessions. Sign-in is
// disabled when Issuer is empty.
type IdentityConfig struct {
	Issuer        string        `mapstructure:"issuer" yaml:"issuer,omitempty"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret  string        `mapstructure:"client_secret" yaml:"-"`
	RedirectURL   string        `mapstructure:"redirect_url" yaml:"redirect_url,omitempty"`
	SessionSecret string        `mapstructure:"session_secret" yaml:"-"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	CookieName    string        `mapstructure:"cookie_name" yaml:"cookie_name"`
	SessionFile   string        `mapstructure:"session_file" yaml:"session_file,omitempty"`
}

// Enabled reports whether sign-in is configured.
func (c IdentityConfig) Enabled() bool { return strings.TrimSpace(c.Issuer) != "" }

// MapsConfig configures the map provider.
type MapsConfig struct {
	AccountName        string        `mapstructure:"account_name" yaml:"account_name,omitempty"`
	Origin             string        `mapstructure:"origin" yaml:"origin"`
	MapURIPrefix       string        `mapstructure:"map_uri_prefix" yaml:"map_uri_prefix"`
	ShareMode          string        `mapstructure:"share_mode" yaml:"share_mode"`
	ShareExpiry        time.Duration `mapstructure:"share_expiry" yaml:"share_expiry"`
	Levels             []string      `mapstructure:"levels" yaml:"levels"`
	Layout             string        `mapstructure:"layout" yaml:"layout"`
	ListLayouts        []string      `mapstructure:"list_layouts" yaml:"list_layouts"`
	DescriptionMode    string        `mapstructure:"description_mode" yaml:"description_mode"`
	Include            []string      `mapstructure:"include" yaml:"include,omitempty"`
	Exclude            []string      `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Concurrency        int           `mapstructure:"concurrency" yaml:"concurrency"`
	ThumbnailExpiry    time.Duration `mapstructure:"thumbnail_expiry" yaml:"thumbnail_expiry"`
	ThumbnailCacheSize int           `mapstructure:"thumbnail_cache_size" yaml:"thumbnail_cache_size"`
	LoginTimeout       time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	switch c.Storage.Provider {
	case "s3":
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required for the s3 provider")
		}
	case "file":
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the file provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q (expected s3 or file)", c.Storage.Provider)
	}
	if c.Storage.RateLimit < 0 {
		return fmt.Errorf("storage.rate_limit must not be negative")
	}
	if _, err := c.Maps.ProviderConfig(); err != nil {
		return err
	}
	if _, err := c.Maps.CatalogLayouts(); err != nil {
		return err
	}
	return nil
}

// S3Config returns the S3 provider configuration.
func (c StorageConfig) S3Config() s3.Config {
	return s3.Config{
		Bucket:          c.Bucket,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		ForcePathStyle:  c.ForcePathStyle,
	}
}

// ProviderConfig returns the map provider configuration.
func (c MapsConfig) ProviderConfig() (maps.Config, error) {
	levels := make([]storage.Level, 0, len(c.Levels))
	for _, s := range c.Levels {
		l, err := storage.ParseLevel(s)
		if err != nil {
			return maps.Config{}, fmt.Errorf("maps.levels: %w", err)
		}
		levels = append(levels, l)
	}
	layout, err := catalog.ParseLayout(c.Layout)
	if err != nil {
		return maps.Config{}, fmt.Errorf("maps.layout: %w", err)
	}
	mode, err := catalog.ParseDescriptionMode(c.DescriptionMode)
	if err != nil {
		return maps.Config{}, fmt.Errorf("maps.description_mode: %w", err)
	}
	shareMode := maps.ShareMode(strings.ToLower(strings.TrimSpace(c.ShareMode)))
	switch shareMode {
	case maps.ShareMapURL, maps.ShareLoadParams:
	default:
		return maps.Config{}, fmt.Errorf("maps.share_mode: unknown share mode %q (expected map-url or load-params)", c.ShareMode)
	}
	return maps.Config{
		AccountName:     c.AccountName,
		Origin:          c.Origin,
		MapURIPrefix:    c.MapURIPrefix,
		ShareMode:       shareMode,
		ShareExpiry:     c.ShareExpiry,
		Levels:          levels,
		Layout:          layout,
		DescriptionMode: mode,
		LoginTimeout:    c.LoginTimeout,
	}, nil
}

// CatalogLayouts returns the layouts recognized while listing. The write
// layout is always included.
func (c MapsConfig) CatalogLayouts() ([]catalog.Layout, error) {
	write, err := catalog.ParseLayout(c.Layout)
	if err != nil {
		return nil, fmt.Errorf("maps.layout: %w", err)
	}
	layouts := []catalog.Layout{write}
	for _, s := range c.ListLayouts {
		l, err := catalog.ParseLayout(s)
		if err != nil {
			return nil, fmt.Errorf("maps.list_layouts: %w", err)
		}
		if l != write {
			layouts = append(layouts, l)
		}
	}
	return layouts, nil
}
