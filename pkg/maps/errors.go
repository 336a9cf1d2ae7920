package maps

import (
	"errors"
	"fmt"

	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/provider"
)

// Error kinds. Every error returned by Provider operations matches exactly one
// of these with errors.Is.
var (
	// ErrAuth indicates sign-in, sign-out or authorization failures.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound indicates a missing map document.
	ErrNotFound = errors.New("map not found")

	// ErrParse indicates a map body that is not valid JSON.
	ErrParse = errors.New("map is not valid JSON")

	// ErrStorageWrite indicates a failed object write during upload.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrStorageRead indicates a failed listing or read.
	ErrStorageRead = errors.New("storage read failed")

	// ErrInvalidLoadParams indicates load params without a usable level or map id.
	ErrInvalidLoadParams = errors.New("invalid load params")

	// ErrInvalidMap indicates an upload without a title or map payload.
	ErrInvalidMap = errors.New("invalid map document")
)

// Error is a typed failure of a provider operation.
//
// It unwraps to both its Kind and the underlying cause, so callers can test
// errors.Is(err, maps.ErrNotFound) as well as errors.Is(err, provider.ErrNotFound).
type Error struct {
	// Op is the operation that failed (e.g., "download map").
	Op string

	// Key is the map id, title or level the operation addressed.
	Key string

	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ", error message: " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, key string, kind, err error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}

// readKind classifies a storage read failure.
func readKind(err error) error {
	switch {
	case provider.IsNotFound(err):
		return ErrNotFound
	case errors.Is(err, provider.ErrInvalidKey):
		return ErrInvalidLoadParams
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err),
		errors.Is(err, identity.ErrNotSignedIn):
		return ErrAuth
	default:
		return ErrStorageRead
	}
}

func invalidParams(op string, format string, args ...any) *Error {
	return newError(op, "", ErrInvalidLoadParams, fmt.Errorf(format, args...))
}
