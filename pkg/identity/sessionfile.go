package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SessionFile is a Client backed by a session token saved on disk.
//
// The CLI saves the token after a successful login and removes it on logout.
type SessionFile struct {
	Path     string
	Sessions *Sessions
	Hub      *Hub
}

// Save writes token with owner-only permissions.
func (f SessionFile) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// CurrentUserInfo parses the saved token.
func (f SessionFile) CurrentUserInfo(ctx context.Context) (*User, error) {
	_ = ctx
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotSignedIn
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	u, err := f.Sessions.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedIn, err)
	}
	return u, nil
}

// SignOut removes the saved token.
func (f SessionFile) SignOut(ctx context.Context) error {
	u, err := f.CurrentUserInfo(ctx)
	if rmErr := os.Remove(f.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", rmErr)
	}
	if err == nil && f.Hub != nil {
		f.Hub.Publish(Event{Type: EventSignOut, User: *u})
	}
	return nil
}
