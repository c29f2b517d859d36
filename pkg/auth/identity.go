package auth

import (
	"github.com/marmos91/dittoauth/pkg/auth/mech"
)

// Identity is the outcome of checking a credential: who it speaks for and
// whether it holds up.
type Identity struct {
	// Mechanism is the type of the mechanism that issued the credential.
	Mechanism string

	// UID is the asserted Unix user ID, mech.NobodyID if unknown.
	UID uint32

	// GID is the asserted Unix group ID, mech.NobodyID if unknown.
	GID uint32

	// Err is the verification result; nil means the credential is valid.
	Err error
}

// Valid reports whether the credential verified.
func (id Identity) Valid() bool {
	return id.Err == nil
}

// Anonymous reports whether the identity maps to nobody.
func (id Identity) Anonymous() bool {
	return id.UID == mech.NobodyID
}

// Identify verifies cred and collects its identity. UID and GID are only
// read from a credential that verified.
func (c *Context) Identify(cred mech.Credential) Identity {
	id := Identity{UID: mech.NobodyID, GID: mech.NobodyID}
	if cred != nil {
		id.Mechanism = cred.MechanismType()
	}

	id.Err = c.Verify(cred)
	if id.Err != nil {
		return id
	}

	id.UID = c.UID(cred)
	id.GID = c.GID(cred)
	return id
}
