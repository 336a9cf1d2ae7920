// Package identity authenticates map owners against an OIDC identity service.
//
// It provides the hosted sign-in flow (authorization code exchange and ID
// token verification), signed session tokens, an auth event hub, and Client
// implementations that resolve the current user from a request context or a
// saved session file.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrNotSignedIn indicates no authenticated user is available.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrInvalidState indicates an unknown or already consumed sign-in state.
	ErrInvalidState = errors.New("invalid sign-in state")

	// ErrInvalidSession indicates a missing, malformed or expired session token.
	ErrInvalidSession = errors.New("invalid session")
)

// User is an authenticated map owner.
//
// ID addresses the owner's protected and private namespaces. Username is the
// display name shown to the user, which is the email address.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Client resolves and signs out the current user.
type Client interface {
	CurrentUserInfo(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
}

type userKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

// ContextClient reads the current user from the request context.
//
// SignOut publishes a signOut event; callers clear their own session storage.
type ContextClient struct {
	Hub *Hub
}

// CurrentUserInfo returns the context user or ErrNotSignedIn.
func (c ContextClient) CurrentUserInfo(ctx context.Context) (*User, error) {
	if u, ok := UserFromContext(ctx); ok {
		return u, nil
	}
	return nil, ErrNotSignedIn
}

// SignOut announces the context user's sign-out.
func (c ContextClient) SignOut(ctx context.Context) error {
	u, ok := UserFromContext(ctx)
	if !ok {
		return ErrNotSignedIn
	}
	if c.Hub != nil {
		c.Hub.Publish(Event{Type: EventSignOut, User: *u})
	}
	return nil
}
