package krb5

import (
	"strings"

	"github.com/marmos91/dittoauth/pkg/auth/mech"
)

// StaticIdentity is the uid/gid a principal maps to.
type StaticIdentity struct {
	UID uint32 `mapstructure:"uid"`
	GID uint32 `mapstructure:"gid"`
}

// Identity is the result of mapping a principal.
type Identity struct {
	Principal string
	Realm     string
	UID       uint32
	GID       uint32
	Mapped    bool
}

// IdentityMapper converts a Kerberos principal to a local identity.
type IdentityMapper interface {
	MapPrincipal(principal, realm string) Identity
}

// StaticMapper maps principals through a fixed table keyed by
// "principal@realm". Keys compare case-insensitively since configuration
// keys arrive lowercased. Unknown principals get the default identity.
type StaticMapper struct {
	staticMap  map[string]StaticIdentity
	defaultUID uint32
	defaultGID uint32
}

// NewStaticMapper creates a mapper. Nil defaults map to nobody.
func NewStaticMapper(staticMap map[string]StaticIdentity, defaultUID, defaultGID *uint32) *StaticMapper {
	m := &StaticMapper{
		staticMap:  make(map[string]StaticIdentity, len(staticMap)),
		defaultUID: mech.NobodyID,
		defaultGID: mech.NobodyID,
	}
	for k, v := range staticMap {
		m.staticMap[strings.ToLower(k)] = v
	}
	if defaultUID != nil {
		m.defaultUID = *defaultUID
	}
	if defaultGID != nil {
		m.defaultGID = *defaultGID
	}
	return m
}

func (m *StaticMapper) MapPrincipal(principal, realm string) Identity {
	id := Identity{Principal: principal, Realm: realm, UID: m.defaultUID, GID: m.defaultGID}
	if entry, ok := m.staticMap[strings.ToLower(principal+"@"+realm)]; ok {
		id.UID, id.GID, id.Mapped = entry.UID, entry.GID, true
	}
	return id
}
