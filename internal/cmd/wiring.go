package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/config"
	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/loginflow"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/provider"
	"github.com/3leaps/mapnimbus/pkg/provider/file"
	"github.com/3leaps/mapnimbus/pkg/provider/s3"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

// newBackend creates the configured object store.
func newBackend(ctx context.Context, cfg config.StorageConfig) (provider.ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		return s3.New(ctx, cfg.S3Config())
	case "file":
		return file.New(file.Config{BaseDir: cfg.BaseDir})
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// stack is the assembled map provider and its collaborators.
type stack struct {
	store    *storage.Store
	provider *maps.Provider
	hub      *identity.Hub
	logins   *loginflow.Registry
	sessions *identity.Sessions
}

type stackOptions struct {
	// identity resolves the current user; nil disables sign-in.
	identity func(sessions *identity.Sessions, hub *identity.Hub) identity.Client
	opener   maps.Opener
	observer storage.Observer
	logger   *zap.Logger

	// origin overrides maps.origin.
	origin string
}

// newStack assembles the map provider from cfg.
func newStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}

	backend, err := newBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	st, err := storage.New(backend, storage.Options{
		RateLimit:    cfg.Storage.RateLimit,
		RefCacheSize: cfg.Maps.ThumbnailCacheSize,
		Logger:       opts.logger.Named("storage"),
		Observer:     opts.observer,
	})
	if err != nil {
		return nil, err
	}

	layouts, err := cfg.Maps.CatalogLayouts()
	if err != nil {
		return nil, err
	}
	pc, err := cfg.Maps.ProviderConfig()
	if err != nil {
		return nil, err
	}
	filter, err := catalog.NewTitleFilter(cfg.Maps.Include, cfg.Maps.Exclude)
	if err != nil {
		return nil, err
	}
	builder, err := catalog.NewBuilder(st, catalog.Options{
		Layouts:         layouts,
		DescriptionMode: pc.DescriptionMode,
		Concurrency:     cfg.Maps.Concurrency,
		ThumbnailExpiry: cfg.Maps.ThumbnailExpiry,
		Filter:          filter,
		Logger:          opts.logger.Named("catalog"),
	})
	if err != nil {
		return nil, err
	}

	s := &stack{store: st, hub: identity.NewHub(), logins: loginflow.New()}
	deps := maps.Deps{
		Store:   st,
		Catalog: builder,
		Logins:  s.logins,
		Opener:  opts.opener,
		Logger:  opts.logger.Named("maps"),
	}
	if cfg.Identity.Enabled() && opts.identity != nil {
		s.sessions, err = identity.NewSessions(cfg.Identity.SessionSecret, cfg.Identity.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("identity sessions: %w", err)
		}
		deps.Identity = opts.identity(s.sessions, s.hub)
	}
	if opts.origin != "" {
		pc.Origin = opts.origin
	}

	s.provider, err = maps.New(pc, deps)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newSignIn discovers the identity issuer.
func newSignIn(ctx context.Context, cfg config.IdentityConfig, hub *identity.Hub, logger *zap.Logger) (*identity.OIDC, error) {
	return identity.NewOIDC(ctx, identity.OIDCConfig{
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
	}, hub, logger)
}

// sessionFilePath returns where the CLI keeps its session token.
func sessionFilePath(cfg config.IdentityConfig) string {
	if cfg.SessionFile != "" {
		return cfg.SessionFile
	}
	name := config.DefaultAppIdentity.ConfigName
	if id := GetAppIdentity(); id != nil {
		name = id.ConfigName
	}
	return filepath.Join(gfconfig.GetAppDataDir(name), "session")
}

// sessionFileClient resolves the CLI user from the saved session.
func sessionFileClient(cfg config.IdentityConfig) func(*identity.Sessions, *identity.Hub) identity.Client {
	return func(sessions *identity.Sessions, hub *identity.Hub) identity.Client {
		return identity.SessionFile{Path: sessionFilePath(cfg), Sessions: sessions, Hub: hub}
	}
}

// contextClient resolves the HTTP caller from the request context.
func contextClient(_ *identity.Sessions, hub *identity.Hub) identity.Client {
	return identity.ContextClient{Hub: hub}
}
