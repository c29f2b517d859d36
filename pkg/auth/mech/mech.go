package mech

import (
	"errors"
	"io"
	"time"

	"github.com/marmos91/dittoauth/pkg/xdr"
)

// NobodyID is the reserved identity returned when a credential's owner
// cannot be determined.
const NobodyID uint32 = 65534

// MaxLifetime caps the credential lifetime returned by Lifetime.
const MaxLifetime = 100 * 365 * 24 * time.Hour

// Lifetime converts an Activate ttl to a duration. ttlSeconds <= 0 selects
// fallback; larger values are capped at MaxLifetime.
func Lifetime(ttlSeconds int, fallback time.Duration) time.Duration {
	if ttlSeconds <= 0 {
		return fallback
	}
	if int64(ttlSeconds) >= int64(MaxLifetime/time.Second) {
		return MaxLifetime
	}
	return time.Duration(ttlSeconds) * time.Second
}

// Credential is an opaque handle owned by the mechanism that allocated it.
//
// MechanismType returns the type string of the owning mechanism
// (e.g. "auth/none"). The dispatcher uses it to refuse credentials that
// belong to a different mechanism; it never inspects anything else.
type Credential interface {
	MechanismType() string
}

// Mechanism is the Go form of the nine-operation mechanism contract.
//
// Status-returning operations report success with a nil error. Mechanisms
// must tolerate nil or foreign credentials by returning an error (or
// NobodyID) rather than panicking.
//
// Thread safety: implementations must be safe for concurrent use.
type Mechanism interface {
	// Alloc returns a fresh, inactive credential.
	Alloc() Credential

	// Free releases a credential. The handle must not be used afterwards.
	Free(cred Credential)

	// Activate binds the credential to the calling identity for ttlSeconds.
	// The meaning of the duration is mechanism policy.
	Activate(cred Credential, ttlSeconds int) error

	// Verify checks that the credential is authentic and still valid.
	Verify(cred Credential) error

	// UID returns the user ID carried by a verified credential.
	UID(cred Credential) uint32

	// GID returns the primary group ID carried by a verified credential.
	GID(cred Credential) uint32

	// Pack appends the credential's wire form to buf.
	Pack(cred Credential, buf *xdr.Buffer)

	// Unpack fills cred from the wire form at buf's read offset.
	Unpack(cred Credential, buf *xdr.Buffer) error

	// Print writes a human-readable description of the credential.
	Print(cred Credential, w io.Writer)
}

// Errors shared by mechanism implementations.
var (
	// ErrForeignCredential indicates a credential of another mechanism (or nil)
	// was passed to a mechanism operation.
	ErrForeignCredential = errors.New("auth: credential does not belong to this mechanism")

	// ErrInvalidCredential indicates a credential that failed verification:
	// bad signature, unknown key, or malformed body.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrExpired indicates a credential whose validity period has elapsed.
	ErrExpired = errors.New("auth: credential expired")

	// ErrNotActive indicates a credential that was never activated.
	ErrNotActive = errors.New("auth: credential not activated")
)
