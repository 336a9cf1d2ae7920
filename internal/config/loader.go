package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the binary, its config files and its env prefix.
type AppIdentity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultAppIdentity is used by Load.
var DefaultAppIdentity = AppIdentity{
	BinaryName: "mapnimbus",
	ConfigName: "mapnimbus",
	EnvPrefix:  "MAPNIMBUS",
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// envSpec binds one environment variable to a config path.
type envSpec struct {
	Name string
	Path string
}

// envBindings maps variable suffixes to config paths.
var envBindings = []struct {
	suffix string
	path   string
}{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"LOG_FILE", "logging.file"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DEBUG", "debug.enabled"},
	{"PPROF_ENABLED", "debug.pprof_enabled"},
	{"WORKERS", "workers"},
	{"STORAGE_PROVIDER", "storage.provider"},
	{"BUCKET", "storage.bucket"},
	{"REGION", "storage.region"},
	{"ENDPOINT", "storage.endpoint"},
	{"AWS_PROFILE", "storage.profile"},
	{"ACCESS_KEY_ID", "storage.access_key_id"},
	{"SECRET_ACCESS_KEY", "storage.secret_access_key"},
	{"FORCE_PATH_STYLE", "storage.force_path_style"},
	{"BASE_DIR", "storage.base_dir"},
	{"RATE_LIMIT", "storage.rate_limit"},
	{"IDENTITY_ISSUER", "identity.issuer"},
	{"IDENTITY_CLIENT_ID", "identity.client_id"},
	{"IDENTITY_CLIENT_SECRET", "identity.client_secret"},
	{"IDENTITY_REDIRECT_URL", "identity.redirect_url"},
	{"SESSION_SECRET", "identity.session_secret"},
	{"SESSION_TTL", "identity.session_ttl"},
	{"SESSION_FILE", "identity.session_file"},
	{"ACCOUNT_NAME", "maps.account_name"},
	{"ORIGIN", "maps.origin"},
	{"SHARE_MODE", "maps.share_mode"},
	{"SHARE_EXPIRY", "maps.share_expiry"},
	{"LEVELS", "maps.levels"},
	{"LAYOUT", "maps.layout"},
	{"DESCRIPTION_MODE", "maps.description_mode"},
	{"LOGIN_TIMEOUT", "maps.login_timeout"},
}

// Load builds the configuration from defaults, config files, environment and
// overrides, and makes it available through GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file merged after the discovered
// ones. An explicit file that does not exist is an error.
func LoadFile(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultAppIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	for _, path := range getUserConfigPaths() {
		if err := mergeFile(v, path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}
	if file != "" {
		if err := mergeFile(v, file); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if value, ok := os.LookupEnv(spec.Name); ok && value != "" {
			v.Set(spec.Path, value)
		}
	}
	for _, o := range overrides {
		for path, value := range flatten("", o) {
			v.Set(path, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		commaListHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// GetAppIdentity returns the identity used by Load, or nil before Load.
func GetAppIdentity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

func mergeFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// getUserConfigPaths returns the discovered config files in merge order:
// the user config directory, then the working directory.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	name := id.ConfigName + ".yaml"
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, name))
	}
	return append(paths, name)
}

func getEnvSpecs() []envSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []envSpec{}
	}

	specs := make([]envSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, envSpec{Name: id.EnvPrefix + "_" + b.suffix, Path: b.path})
	}
	return specs
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// commaListHook splits comma separated strings into string slices.
func commaListHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return []string{}, nil
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
