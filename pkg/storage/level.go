// Package storage scopes object store access by visibility level.
//
// Three levels partition the bucket:
//
//	public     public/<key>                  readable and writable by every signed-in user
//	protected  protected/<identityId>/<key>  readable by everyone, writable by the owner
//	private    private/<identityId>/<key>    owner only
//
// Keys passed to and returned from Store are relative to the level prefix, so
// callers never see identity segments.
package storage

import (
	"fmt"
	"strings"
)

// Level is an object visibility level.
type Level string

const (
	LevelPublic    Level = "public"
	LevelProtected Level = "protected"
	LevelPrivate   Level = "private"
)

// ParseLevel converts s to a Level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelPublic, LevelProtected, LevelPrivate:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// String returns the level name.
func (l Level) String() string { return string(l) }

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, err := ParseLevel(string(l))
	return err == nil
}

// Prefix returns the key prefix for level, addressing identityID's namespace
// for protected and private levels.
func (l Level) Prefix(identityID string) (string, error) {
	switch l {
	case LevelPublic:
		return "public/", nil
	case LevelProtected, LevelPrivate:
		if identityID == "" {
			return "", fmt.Errorf("%w: %s level requires an identity", ErrNoIdentity, l)
		}
		if err := validateIdentity(identityID); err != nil {
			return "", err
		}
		return string(l) + "/" + identityID + "/", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, string(l))
	}
}

// validateIdentity rejects identity ids that are not a single path segment.
func validateIdentity(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\") || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: identity %q", ErrInvalidKey, id)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: identity %q", ErrInvalidKey, id)
		}
	}
	return nil
}
