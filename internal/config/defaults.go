package config

import "github.com/spf13/viper"

// setDefaults registers every default on v. Durations are strings so that
// files and environment variables use the same representation.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
	v.SetDefault("workers", 4)

	v.SetDefault("storage.provider", "file")
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.rate_limit", 0)

	v.SetDefault("identity.session_ttl", "12h")
	v.SetDefault("identity.cookie_name", "mapnimbus_session")

	v.SetDefault("maps.origin", "http://localhost:8080")
	v.SetDefault("maps.map_uri_prefix", "demo/map?mapUrl=")
	v.SetDefault("maps.share_mode", "map-url")
	v.SetDefault("maps.share_expiry", "1h")
	v.SetDefault("maps.levels", []string{"public", "protected", "private"})
	v.SetDefault("maps.layout", "current")
	v.SetDefault("maps.list_layouts", []string{})
	v.SetDefault("maps.description_mode", "sidecar")
	v.SetDefault("maps.concurrency", 8)
	v.SetDefault("maps.thumbnail_expiry", "15m")
	v.SetDefault("maps.thumbnail_cache_size", 512)
	v.SetDefault("maps.login_timeout", "5m")
}
