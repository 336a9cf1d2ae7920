package maps

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/loginflow"
)

// Login opens the login view and waits for the sign-in to complete.
//
// onSuccess runs exactly once when the login view reports success. The wait
// is bounded by the configured login timeout and by ctx.
func (p *Provider) Login(ctx context.Context, onSuccess func()) error {
	const op = "login"
	if !p.enabled {
		return newError(op, "", ErrAuth, fmt.Errorf("identity service is not configured"))
	}
	if p.logins == nil || p.opener == nil {
		return newError(op, "", ErrAuth, fmt.Errorf("login handshake is not configured"))
	}

	attempt := p.logins.Begin()
	defer attempt.Cancel()

	link := p.LoginURL(attempt.State())
	if err := p.opener.Open(ctx, link); err != nil {
		return newError(op, "", ErrAuth, fmt.Errorf("opening login view failed: %w", err))
	}
	p.logger.Debug("Waiting for sign-in", zap.String("url", link))

	res, err := attempt.Wait(ctx, p.cfg.LoginTimeout)
	if err != nil {
		return newError(op, "", ErrAuth, err)
	}
	if !res.Success {
		return newError(op, "", ErrAuth, fmt.Errorf("sign-in was not successful"))
	}
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}

// LoginURL returns the login view URL for a sign-in state.
func (p *Provider) LoginURL(state string) string {
	link := strings.TrimSuffix(p.cfg.Origin, "/") + "/" + strings.TrimPrefix(p.cfg.LoginPath, "/")
	if state == "" {
		return link
	}
	return link + "?state=" + url.QueryEscape(state)
}

// Logout signs the current user out and runs onSuccess.
func (p *Provider) Logout(ctx context.Context, onSuccess func()) error {
	if err := p.ident.SignOut(ctx); err != nil {
		return newError("logout", "", ErrAuth, fmt.Errorf("signing out failed: %w", err))
	}
	if onSuccess != nil {
		onSuccess()
	}
	return nil
}

// CompleteLogins completes pending login attempts when hub publishes a
// sign-in carrying their state. The returned function stops forwarding.
func CompleteLogins(hub *identity.Hub, logins *loginflow.Registry) func() {
	return hub.Subscribe(func(ev identity.Event) {
		if ev.Type != identity.EventSignIn || ev.State == "" {
			return
		}
		logins.Complete(ev.State, loginflow.Result{Success: true, UserID: ev.User.ID})
	})
}
