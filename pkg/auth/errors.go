package auth

import (
	"errors"

	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
)

// Standard auth errors.
var (
	// ErrEmptyMechanismType indicates a Context was requested without a type.
	ErrEmptyMechanismType = errors.New("auth: empty mechanism type")

	// ErrDispatchUnavailable indicates an operation on an unresolved or nil
	// Context, or on a nil credential.
	ErrDispatchUnavailable = errors.New("auth: dispatch unavailable")

	// ErrCredentialMismatch indicates a credential issued by a mechanism other
	// than the Context's.
	ErrCredentialMismatch = errors.New("auth: credential belongs to another mechanism")

	// ErrContextDestroyed indicates Resolve on a destroyed Context.
	ErrContextDestroyed = errors.New("auth: context destroyed")

	// ErrDefaultContext indicates an attempt to destroy the process-wide Context.
	ErrDefaultContext = errors.New("auth: process-wide context cannot be destroyed")
)

// Errors re-exported from the packages that produce them.
var (
	ErrMechanismNotFound   = rack.ErrMechanismNotFound
	ErrIncompleteMechanism = mech.ErrIncompleteMechanism
	ErrTeardownBlocked     = rack.ErrTeardownBlocked
)
