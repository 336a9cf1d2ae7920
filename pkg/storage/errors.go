package storage

import (
	"errors"

	"github.com/3leaps/mapnimbus/pkg/provider"
)

var (
	// ErrInvalidLevel indicates an unknown visibility level.
	ErrInvalidLevel = errors.New("invalid visibility level")

	// ErrNoIdentity indicates a protected or private operation without an identity.
	ErrNoIdentity = errors.New("identity required")

	// ErrInvalidKey aliases the provider sentinel so callers need one check.
	ErrInvalidKey = provider.ErrInvalidKey
)
