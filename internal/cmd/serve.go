package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/internal/server"
	"github.com/3leaps/mapnimbus/internal/server/handlers"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the map API and login view",
	Long: `Serve the HTTP API, the hosted login view and the health, version and
metrics endpoints.

Examples:
  mapnimbus serve
  mapnimbus serve --port 9000 --config ./mapnimbus.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if servePort != 0 {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
		}
		srv["port"] = servePort
		overrides["server"] = srv
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(observability.LoggerConfig{
		Service:    GetAppIdentity().BinaryName,
		Level:      cfg.Logging.Level,
		Profile:    cfg.Logging.Profile,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	var observer storage.Observer
	if cfg.Metrics.Enabled {
		metrics, err := observability.NewStoreMetrics(observability.InitMetrics())
		if err != nil {
			return exitError(exitGeneralFailure, "Failed to register metrics", err)
		}
		observer = metrics
	}

	st, err := newStack(ctx, cfg, stackOptions{
		identity: contextClient,
		observer: observer,
		logger:   logger,
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	defer func() { _ = st.store.Close() }()
	defer maps.CompleteLogins(st.hub, st.logins)()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithMaps(handlers.NewMapsAPI(st.provider, logger.Named("api"))),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics())
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithPprof())
	}
	if cfg.Identity.Enabled() {
		signIn, err := newSignIn(ctx, cfg.Identity, st.hub, logger.Named("identity"))
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to reach identity issuer", err)
		}
		view, err := handlers.NewLoginView(handlers.LoginOptions{
			SignIn:        signIn,
			Sessions:      st.sessions,
			CookieName:    cfg.Identity.CookieName,
			SecureCookies: isHTTPS(cfg.Maps.Origin),
			Provider:      st.provider,
			Logger:        logger.Named("login"),
		})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid identity configuration", err)
		}
		opts = append(opts,
			server.WithSessions(st.sessions, cfg.Identity.CookieName),
			server.WithLogin(view, "/"+maps.DefaultLoginPath))
	} else {
		logger.Warn("Identity issuer not configured; only public maps are available")
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signal", signalHealthChecker{})
	health.RegisterChecker("store", storeHealthChecker{store: st.store})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("metrics", metricsHealthChecker{})
	}
	if id := GetAppIdentity(); id != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(exitGeneralFailure, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "Graceful shutdown failed", err)
	}
	return <-errCh
}

func isHTTPS(origin string) bool {
	return strings.HasPrefix(origin, "https://")
}

// signalHealthChecker reports healthy while the process handles signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error { return nil }

// metricsHealthChecker requires the metrics registry.
type metricsHealthChecker struct{}

func (metricsHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.PrometheusRegistry == nil {
		return errors.New("metrics registry not initialized")
	}
	return nil
}

// identityHealthChecker requires a complete app identity.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity: missing env prefix")
	case c.configName == "":
		return errors.New("app identity: missing config name")
	}
	return nil
}

// storeHealthChecker lists the public level.
type storeHealthChecker struct {
	store interface {
		List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.Object, error)
	}
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if _, err := c.store.List(ctx, "", storage.ListOptions{Level: storage.LevelPublic}); err != nil {
		return fmt.Errorf("list public maps: %w", err)
	}
	return nil
}
