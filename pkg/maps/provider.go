// Package maps implements the cloud map provider: sign-in, listing, loading,
// saving and sharing of map documents kept in a level-scoped object store.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/pkg/catalog"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/loginflow"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

const (
	// ProviderName identifies the provider in URLs and host registries.
	ProviderName = "aws"

	// DefaultDisplayName is shown when no account name is configured.
	DefaultDisplayName = "AWS"

	// Format tags downloaded map payloads for the host application.
	Format = "keplergl"

	// DefaultShareExpiry is the lifetime of public share references.
	DefaultShareExpiry = time.Hour

	// DefaultMapURIPrefix precedes encoded references in share URLs.
	DefaultMapURIPrefix = "demo/map?mapUrl="

	// DefaultLoginPath is the login view route, relative to the origin.
	DefaultLoginPath = "aws/aws-login"
)

// ShareMode selects how public uploads are shared.
type ShareMode string

const (
	// ShareMapURL shares a time-limited reference to the map object that
	// anyone can open.
	ShareMapURL ShareMode = "map-url"

	// ShareLoadParams shares load params; recipients must be signed in.
	ShareLoadParams ShareMode = "load-params"
)

// DefaultLevels are listed by ListMaps when none are configured. Protected is
// included because public uploads are stored there.
var DefaultLevels = []storage.Level{storage.LevelPublic, storage.LevelProtected, storage.LevelPrivate}

// LoadParams identifies one stored map document.
type LoadParams = catalog.LoadParams

// MapDocument is the input to UploadMap.
//
// Title and Description fall back to map.info.title and map.info.description.
type MapDocument struct {
	Map         json.RawMessage
	Thumbnail   []byte
	Title       string
	Description string
}

// UploadOptions configures UploadMap.
type UploadOptions struct {
	IsPublic bool
}

// MapResponse is a downloaded map.
type MapResponse struct {
	Map        json.RawMessage `json:"map"`
	Format     string          `json:"format"`
	LoadParams LoadParams      `json:"loadParams"`
}

// ShareResult is the outcome of UploadMap: either a share URL or the load
// params of the saved map, never both.
type ShareResult struct {
	ShareURL   string        `json:"shareUrl,omitempty"`
	Level      storage.Level `json:"level,omitempty"`
	MapID      string        `json:"mapId,omitempty"`
	IdentityID string        `json:"identityId,omitempty"`
}

// LoadParams returns the saved map's load params when r is not a share URL.
func (r ShareResult) LoadParams() (LoadParams, bool) {
	if r.ShareURL != "" || r.MapID == "" {
		return LoadParams{}, false
	}
	return LoadParams{Level: r.Level, MapID: r.MapID, IdentityID: r.IdentityID}, true
}

// CloudProvider is the contract a host application drives.
type CloudProvider interface {
	Name() string
	DisplayName() string
	IsEnabled() bool
	HasPrivateStorage() bool
	HasSharingURL() bool
	UserName(ctx context.Context) string
	HasAccessToken(ctx context.Context) bool

	Login(ctx context.Context, onSuccess func()) error
	Logout(ctx context.Context, onSuccess func()) error
	ListMaps(ctx context.Context) ([]catalog.Entry, error)
	DownloadMap(ctx context.Context, lp LoadParams) (*MapResponse, error)
	UploadMap(ctx context.Context, doc MapDocument, opts UploadOptions) (*ShareResult, error)
	ShareURL(reference string, full bool) (string, error)
	MapURL(lp LoadParams, currentUserID string, full bool) (string, error)
}

// Store is the level-scoped object store the provider reads and writes.
type Store interface {
	List(ctx context.Context, prefix string, opts storage.ListOptions) ([]storage.Object, error)
	Get(ctx context.Context, key string, opts storage.GetOptions) (*storage.GetResult, error)
	Put(ctx context.Context, key string, body []byte, opts storage.PutOptions) (*storage.PutResult, error)
}

// Opener presents the login view to the user, e.g. by opening a browser
// window or printing the link.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Config configures a Provider.
type Config struct {
	// AccountName overrides DefaultDisplayName.
	AccountName string

	// Origin is the scheme and host of the hosting page.
	Origin string

	MapURIPrefix string
	ShareMode    ShareMode
	ShareExpiry  time.Duration

	// Levels are listed by ListMaps in order.
	Levels []storage.Level

	// Layout names the keys UploadMap writes.
	Layout          catalog.Layout
	DescriptionMode catalog.DescriptionMode

	LoginPath    string
	LoginTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Origin == "" {
		c.Origin = "http://localhost:8080"
	}
	if c.MapURIPrefix == "" {
		c.MapURIPrefix = DefaultMapURIPrefix
	}
	if c.ShareMode == "" {
		c.ShareMode = ShareMapURL
	}
	if c.ShareExpiry <= 0 {
		c.ShareExpiry = DefaultShareExpiry
	}
	if len(c.Levels) == 0 {
		c.Levels = DefaultLevels
	}
	if c.Layout == "" {
		c.Layout = catalog.LayoutCurrent
	}
	if c.DescriptionMode == "" {
		c.DescriptionMode = catalog.DescriptionSidecar
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = loginflow.DefaultTimeout
	}
}

// Validate checks c after defaults are applied.
func (c Config) Validate() error {
	switch c.ShareMode {
	case ShareMapURL, ShareLoadParams:
	default:
		return fmt.Errorf("unknown share mode %q (expected map-url or load-params)", c.ShareMode)
	}
	for _, l := range c.Levels {
		if !l.Valid() {
			return fmt.Errorf("unknown level %q", l)
		}
	}
	if _, err := catalog.ParseLayout(string(c.Layout)); err != nil {
		return err
	}
	if _, err := catalog.ParseDescriptionMode(string(c.DescriptionMode)); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Origin, "http://") && !strings.HasPrefix(c.Origin, "https://") {
		return fmt.Errorf("origin %q must be an http(s) URL", c.Origin)
	}
	return nil
}

// Deps are the collaborators of a Provider.
type Deps struct {
	Store   Store
	Catalog *catalog.Builder

	// Identity resolves the current user. Nil disables sign-in; only public
	// maps are then reachable.
	Identity identity.Client

	// Logins and Opener drive Login. Both are required for Login to work.
	Logins *loginflow.Registry
	Opener Opener

	Logger *zap.Logger
}

// Provider implements CloudProvider over a level-scoped store.
//
// Provider holds no per-user or per-map mutable state and is safe for
// concurrent use.
type Provider struct {
	cfg     Config
	store   Store
	catalog *catalog.Builder
	ident   identity.Client
	enabled bool
	logins  *loginflow.Registry
	opener  Opener
	urls    URLBuilder
	logger  *zap.Logger
}

var _ CloudProvider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config, deps Deps) (*Provider, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("maps: store is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("maps: catalog builder is required")
	}

	p := &Provider{
		cfg:     cfg,
		store:   deps.Store,
		catalog: deps.Catalog,
		ident:   deps.Identity,
		enabled: deps.Identity != nil,
		logins:  deps.Logins,
		opener:  deps.Opener,
		logger:  deps.Logger,
		urls: URLBuilder{
			Origin:       cfg.Origin,
			MapURIPrefix: cfg.MapURIPrefix,
			ProviderName: ProviderName,
		},
	}
	if p.ident == nil {
		p.ident = anonymous{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Name returns ProviderName.
func (p *Provider) Name() string { return ProviderName }

// DisplayName returns the configured account name or DefaultDisplayName.
func (p *Provider) DisplayName() string {
	if p.cfg.AccountName != "" {
		return p.cfg.AccountName
	}
	return DefaultDisplayName
}

// IsEnabled reports whether an identity service is configured.
func (p *Provider) IsEnabled() bool { return p.enabled }

// HasPrivateStorage is always true: maps can be saved privately.
func (p *Provider) HasPrivateStorage() bool { return true }

// HasSharingURL is always true: public uploads return a share URL.
func (p *Provider) HasSharingURL() bool { return true }

// URLs returns the provider's URL builder.
func (p *Provider) URLs() URLBuilder { return p.urls }

// UserName returns the current user's name, or "" when signed out.
func (p *Provider) UserName(ctx context.Context) string {
	u, err := p.ident.CurrentUserInfo(ctx)
	if err != nil || u == nil {
		return ""
	}
	return u.Username
}

// HasAccessToken reports whether a user is signed in.
func (p *Provider) HasAccessToken(ctx context.Context) bool {
	u, err := p.ident.CurrentUserInfo(ctx)
	return err == nil && u != nil && u.ID != ""
}

// ShareURL returns the share URL for a retrievable map reference.
func (p *Provider) ShareURL(reference string, full bool) (string, error) {
	return p.urls.ShareURL(reference, full)
}

// MapURL returns the URL reopening lp for currentUserID.
func (p *Provider) MapURL(lp LoadParams, currentUserID string, full bool) (string, error) {
	return p.urls.MapURL(lp, currentUserID, full)
}

func (p *Provider) currentUser(ctx context.Context) *identity.User {
	u, err := p.ident.CurrentUserInfo(ctx)
	if err != nil || u == nil || u.ID == "" {
		return nil
	}
	return u
}

// anonymous is the identity client used when sign-in is disabled.
type anonymous struct{}

func (anonymous) CurrentUserInfo(context.Context) (*identity.User, error) {
	return nil, identity.ErrNotSignedIn
}

func (anonymous) SignOut(context.Context) error { return identity.ErrNotSignedIn }
