package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultStateTTL bounds how long a sign-in state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// OIDCConfig configures the hosted sign-in flow.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration
}

// Validate checks required fields.
func (c OIDCConfig) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("identity issuer is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("identity client id is required")
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		return fmt.Errorf("identity redirect url is required")
	}
	return nil
}

// tokenExchanger is the subset of oauth2.Config used by the flow.
type tokenExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// idTokenVerifier verifies a raw ID token and returns its claims.
type idTokenVerifier func(ctx context.Context, raw string) (map[string]any, error)

// OIDC drives the authorization code flow against an OIDC issuer.
//
// Sign-in states are single use; redeeming publishes a signIn event carrying
// the state on the hub.
type OIDC struct {
	oauth    tokenExchanger
	verify   idTokenVerifier
	hub      *Hub
	logger   *zap.Logger
	stateTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

// NewOIDC discovers the issuer and prepares the flow.
func NewOIDC(ctx context.Context, cfg OIDCConfig, hub *Hub, logger *zap.Logger) (*OIDC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover issuer %s: %w", cfg.Issuer, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       append([]string{oidc.ScopeOpenID, "email", "profile"}, cfg.Scopes...),
		Endpoint:     provider.Endpoint(),
	}

	verify := func(ctx context.Context, raw string) (map[string]any, error) {
		token, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}
		var claims map[string]any
		if err := token.Claims(&claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	return newOIDC(oauthCfg, verify, hub, logger, cfg.StateTTL), nil
}

func newOIDC(ex tokenExchanger, verify idTokenVerifier, hub *Hub, logger *zap.Logger, stateTTL time.Duration) *OIDC {
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &OIDC{
		oauth:    ex,
		verify:   verify,
		hub:      hub,
		logger:   logger,
		stateTTL: stateTTL,
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
}

// Hub returns the event hub sign-ins are published on.
func (o *OIDC) Hub() *Hub { return o.hub }

// AuthCodeURL registers state and returns the hosted sign-in URL. An empty
// state is replaced with a fresh random one.
func (o *OIDC) AuthCodeURL(state string) (string, string) {
	if state == "" {
		state = uuid.NewString()
	}

	o.mu.Lock()
	o.pruneLocked()
	o.states[state] = o.now()
	o.mu.Unlock()

	return o.oauth.AuthCodeURL(state), state
}

// Redeem exchanges code for tokens, verifies the ID token and publishes
// signIn. The state is consumed whether or not the exchange succeeds.
func (o *OIDC) Redeem(ctx context.Context, state, code string) (*User, error) {
	if !o.consume(state) {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	token, err := o.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing id_token")
	}
	claims, err := o.verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid id_token: %w", err)
	}

	user := userFromClaims(claims)
	if user.ID == "" {
		return nil, fmt.Errorf("id_token has no subject")
	}

	o.logger.Info("User signed in", zap.String("user_id", user.ID))
	o.hub.Publish(Event{Type: EventSignIn, User: user, State: state})
	return &user, nil
}

func (o *OIDC) consume(state string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneLocked()
	if _, ok := o.states[state]; !ok || state == "" {
		return false
	}
	delete(o.states, state)
	return true
}

func (o *OIDC) pruneLocked() {
	cutoff := o.now().Add(-o.stateTTL)
	for s, created := range o.states {
		if created.Before(cutoff) {
			delete(o.states, s)
		}
	}
}

func userFromClaims(claims map[string]any) User {
	var u User
	if v, ok := claims["sub"].(string); ok {
		u.ID = v
	}
	if v, ok := claims["email"].(string); ok {
		u.Email = v
		u.Username = v
	}
	if u.Username == "" {
		if v, ok := claims["preferred_username"].(string); ok {
			u.Username = v
		}
	}
	return u
}
