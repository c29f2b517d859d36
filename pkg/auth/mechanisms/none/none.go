// Package none implements the "auth/none" mechanism.
//
// Credentials carry the effective uid and gid of the process that allocated
// them and are trusted as-is: Verify accepts any credential the mechanism
// issued. It is the default mechanism and suits single-host or otherwise
// trusted deployments.
//
// Settings (auth.mechanisms.none):
//
//	uid: 1000   # assert this uid instead of the process uid
//	gid: 1000   # assert this gid instead of the process gid
package none

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittoauth/pkg/auth/loader/builtin"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Type is the mechanism type string.
const Type = "auth/none"

// wireVersion is the first word of every packed credential.
const wireVersion uint32 = 1

func init() {
	builtin.Register(Type, "trust the uid/gid of the calling process", New)
}

// Settings configures the mechanism.
type Settings struct {
	UID *uint32 `mapstructure:"uid"`
	GID *uint32 `mapstructure:"gid"`
}

// Credential is an auth/none credential.
type Credential struct {
	mu  sync.RWMutex
	uid uint32
	gid uint32
}

// MechanismType implements mech.Credential.
func (*Credential) MechanismType() string { return Type }

// wireCredential is the XDR body of a packed credential.
type wireCredential struct {
	Version uint32
	UID     uint32
	GID     uint32
}

// Mechanism implements auth/none.
type Mechanism struct {
	uid uint32
	gid uint32
}

// New creates the mechanism from its settings map (may be nil).
func New(settings map[string]any) (mech.Mechanism, error) {
	var s Settings
	if err := mapstructure.WeakDecode(settings, &s); err != nil {
		return nil, fmt.Errorf("decode auth/none settings: %w", err)
	}

	m := &Mechanism{uid: processID(os.Geteuid()), gid: processID(os.Getegid())}
	if s.UID != nil {
		m.uid = *s.UID
	}
	if s.GID != nil {
		m.gid = *s.GID
	}
	return m, nil
}

// processID maps the -1 returned on platforms without Unix ids to nobody.
func processID(id int) uint32 {
	if id < 0 {
		return mech.NobodyID
	}
	return uint32(id)
}

func credential(cred mech.Credential) (*Credential, error) {
	c, ok := cred.(*Credential)
	if !ok || c == nil {
		return nil, mech.ErrForeignCredential
	}
	return c, nil
}

// Alloc returns a credential asserting the mechanism's uid and gid.
func (m *Mechanism) Alloc() mech.Credential {
	return &Credential{uid: m.uid, gid: m.gid}
}

// Free does nothing; credentials hold no resources.
func (m *Mechanism) Free(mech.Credential) {}

// Activate rebinds the credential to the mechanism's identity. The lifetime
// is ignored.
func (m *Mechanism) Activate(cred mech.Credential, _ int) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.uid, c.gid = m.uid, m.gid
	c.mu.Unlock()
	return nil
}

// Verify accepts every auth/none credential.
func (m *Mechanism) Verify(cred mech.Credential) error {
	_, err := credential(cred)
	return err
}

func (m *Mechanism) UID(cred mech.Credential) uint32 {
	c, err := credential(cred)
	if err != nil {
		return mech.NobodyID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

func (m *Mechanism) GID(cred mech.Credential) uint32 {
	c, err := credential(cred)
	if err != nil {
		return mech.NobodyID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gid
}

// Pack writes version, uid and gid.
func (m *Mechanism) Pack(cred mech.Credential, buf *xdr.Buffer) {
	c, err := credential(cred)
	if err != nil || buf == nil {
		return
	}
	c.mu.RLock()
	w := wireCredential{Version: wireVersion, UID: c.uid, GID: c.gid}
	c.mu.RUnlock()
	_ = buf.Marshal(&w)
}

// Unpack reads a credential written by Pack.
func (m *Mechanism) Unpack(cred mech.Credential, buf *xdr.Buffer) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}
	if buf == nil {
		return mech.ErrInvalidCredential
	}

	var w wireCredential
	if err := buf.Unmarshal(&w); err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}
	if w.Version != wireVersion {
		return fmt.Errorf("%w: unsupported version %d", mech.ErrInvalidCredential, w.Version)
	}

	c.mu.Lock()
	c.uid, c.gid = w.UID, w.GID
	c.mu.Unlock()
	return nil
}

func (m *Mechanism) Print(cred mech.Credential, w io.Writer) {
	c, err := credential(cred)
	if err != nil || w == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, _ = fmt.Fprintf(w, "BEGIN AUTH/NONE CREDENTIAL\n  UID: %d\n  GID: %d\nEND AUTH/NONE CREDENTIAL\n", c.uid, c.gid)
}
