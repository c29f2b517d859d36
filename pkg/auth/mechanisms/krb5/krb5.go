// Package krb5 implements the "auth/krb5" mechanism.
//
// Nodes share a service keytab. An activated credential names a client
// principal and a validity window, sealed with an RFC 4121 MIC token
// computed with the newest service key. A peer verifies the MIC with the key
// version recorded in the credential, checks the window, and maps the
// principal to a uid/gid through a static table.
//
// Settings (auth.mechanisms.krb5):
//
//	keytab: /etc/dittoauth/krb5.keytab          # or DITTOAUTH_KRB5_KEYTAB
//	service_principal: host/node.example.com    # or DITTOAUTH_KRB5_PRINCIPAL
//	realm: EXAMPLE.COM                          # when not part of the principal
//	krb5_conf: /etc/krb5.conf                   # optional, for default_realm
//	principal: alice@EXAMPLE.COM                # asserted by local credentials
//	ttl: 5m
//	max_clock_skew: 5m
//	reload_interval: 60s                        # negative disables hot reload
//	default_uid: 65534
//	default_gid: 65534
//	static_map:
//	  alice@example.com: {uid: 1000, gid: 1000}
package krb5

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/pkg/auth/loader/builtin"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Type is the mechanism type string.
const Type = "auth/krb5"

const (
	wireVersion         uint32 = 1
	defaultTTL                 = 5 * time.Minute
	defaultMaxClockSkew        = 5 * time.Minute
)

func init() {
	builtin.Register(Type, "credentials sealed with a shared Kerberos service key", New)
}

// Settings configures the mechanism.
type Settings struct {
	Keytab           string                    `mapstructure:"keytab"`
	ServicePrincipal string                    `mapstructure:"service_principal"`
	Realm            string                    `mapstructure:"realm"`
	Krb5Conf         string                    `mapstructure:"krb5_conf"`
	Etype            int32                     `mapstructure:"etype"`
	Principal        string                    `mapstructure:"principal"`
	TTL              time.Duration             `mapstructure:"ttl"`
	MaxClockSkew     time.Duration             `mapstructure:"max_clock_skew"`
	ReloadInterval   time.Duration             `mapstructure:"reload_interval"`
	DefaultUID       *uint32                   `mapstructure:"default_uid"`
	DefaultGID       *uint32                   `mapstructure:"default_gid"`
	StaticMap        map[string]StaticIdentity `mapstructure:"static_map"`
}

// sealedBody is the XDR body covered by the MIC.
type sealedBody struct {
	Version   uint32
	Principal string
	Realm     string
	IssuedAt  int64
	ExpiresAt int64
	Nonce     []byte
	KVNO      uint32
	Etype     int32
}

// Credential is an auth/krb5 credential.
type Credential struct {
	mu       sync.RWMutex
	body     sealedBody
	raw      []byte // marshaled body
	mic      []byte
	uid      uint32
	gid      uint32
	verified bool
}

// MechanismType implements mech.Credential.
func (*Credential) MechanismType() string { return Type }

// Mechanism implements auth/krb5.
type Mechanism struct {
	provider  *Provider
	mapper    IdentityMapper
	principal string
	realm     string
	ttl       time.Duration
	skew      time.Duration

	now func() time.Time
}

// New creates the mechanism from its settings map.
func New(settings map[string]any) (mech.Mechanism, error) {
	var s Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, fmt.Errorf("decode auth/krb5 settings: %w", err)
	}

	p, err := NewProvider(ProviderConfig{
		KeytabPath:       s.Keytab,
		ServicePrincipal: s.ServicePrincipal,
		Realm:            s.Realm,
		Krb5Conf:         s.Krb5Conf,
		Etype:            s.Etype,
		ReloadInterval:   s.ReloadInterval,
	})
	if err != nil {
		return nil, err
	}

	m := &Mechanism{
		provider: p,
		mapper:   NewStaticMapper(s.StaticMap, s.DefaultUID, s.DefaultGID),
		ttl:      s.TTL,
		skew:     s.MaxClockSkew,
		now:      time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = defaultTTL
	}
	if m.skew <= 0 {
		m.skew = defaultMaxClockSkew
	}

	m.principal, m.realm = splitPrincipal(s.Principal, p.Realm())
	if m.principal == "" {
		m.principal = p.principal.PrincipalNameString()
	}

	logger.Debug("auth/krb5 mechanism ready",
		"service_principal", p.ServicePrincipal(),
		logger.KeyPrincipal, m.principal+"@"+m.realm)
	return m, nil
}

// splitPrincipal splits "name@REALM", falling back to defaultRealm.
func splitPrincipal(s, defaultRealm string) (string, string) {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, defaultRealm
}

// Close stops keytab hot reload.
func (m *Mechanism) Close() error {
	return m.provider.Close()
}

// reject drops the identity of a credential that failed verification.
func (c *Credential) reject() {
	c.mu.Lock()
	c.uid, c.gid = mech.NobodyID, mech.NobodyID
	c.verified = false
	c.mu.Unlock()
}

func credential(cred mech.Credential) (*Credential, error) {
	c, ok := cred.(*Credential)
	if !ok || c == nil {
		return nil, mech.ErrForeignCredential
	}
	return c, nil
}

// Alloc returns a credential for the local principal.
func (m *Mechanism) Alloc() mech.Credential {
	id := m.mapper.MapPrincipal(m.principal, m.realm)
	return &Credential{
		body:     sealedBody{Version: wireVersion, Principal: m.principal, Realm: m.realm},
		uid:      id.UID,
		gid:      id.GID,
		verified: true,
	}
}

func (m *Mechanism) Free(cred mech.Credential) {
	if c, err := credential(cred); err == nil {
		c.mu.Lock()
		c.raw, c.mic = nil, nil
		c.mu.Unlock()
	}
}

// Activate seals the credential for ttlSeconds (the configured ttl when
// ttlSeconds <= 0).
func (m *Mechanism) Activate(cred mech.Credential, ttlSeconds int) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}

	ttl := mech.Lifetime(ttlSeconds, m.ttl)

	key, kvno, etype, err := m.provider.sealingKey()
	if err != nil {
		return err
	}

	nonce := uuid.New()
	now := m.now()
	body := sealedBody{
		Version:   wireVersion,
		Principal: m.principal,
		Realm:     m.realm,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Nonce:     nonce[:],
		KVNO:      kvno,
		Etype:     etype,
	}

	buf := xdr.NewBuffer(64)
	if err := buf.Marshal(&body); err != nil {
		return fmt.Errorf("encode auth/krb5 credential: %w", err)
	}
	raw := buf.Bytes()

	token := gssapi.MICToken{
		Flags:   gssapi.MICTokenFlagSentByAcceptor,
		Payload: raw,
	}
	if err := token.SetChecksum(key, keyusage.GSSAPI_ACCEPTOR_SIGN); err != nil {
		return fmt.Errorf("compute auth/krb5 MIC: %w", err)
	}
	mic, err := token.Marshal()
	if err != nil {
		return fmt.Errorf("marshal auth/krb5 MIC: %w", err)
	}

	id := m.mapper.MapPrincipal(body.Principal, body.Realm)

	c.mu.Lock()
	c.body, c.raw, c.mic = body, raw, mic
	c.uid, c.gid = id.UID, id.GID
	c.verified = true
	c.mu.Unlock()
	return nil
}

// Verify checks the MIC and validity window, then maps the principal.
func (m *Mechanism) Verify(cred mech.Credential) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}
	if err := m.verify(c); err != nil {
		c.reject()
		return err
	}
	return nil
}

func (m *Mechanism) verify(c *Credential) error {
	c.mu.RLock()
	body, raw, mic := c.body, c.raw, c.mic
	c.mu.RUnlock()
	if len(mic) == 0 {
		return mech.ErrNotActive
	}

	key, err := m.provider.verifyingKey(body.KVNO, body.Etype)
	if err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}

	var token gssapi.MICToken
	if err := token.Unmarshal(mic, true); err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}
	token.Payload = raw
	if ok, err := token.Verify(key, keyusage.GSSAPI_ACCEPTOR_SIGN); !ok {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}

	now := m.now()
	if now.After(time.Unix(body.ExpiresAt, 0).Add(m.skew)) {
		return mech.ErrExpired
	}
	if time.Unix(body.IssuedAt, 0).After(now.Add(m.skew)) {
		return fmt.Errorf("%w: issued in the future", mech.ErrInvalidCredential)
	}

	id := m.mapper.MapPrincipal(body.Principal, body.Realm)
	if !id.Mapped {
		logger.Debug("auth/krb5 principal not in static map, using default identity",
			logger.KeyPrincipal, body.Principal+"@"+body.Realm)
	}

	c.mu.Lock()
	c.uid, c.gid = id.UID, id.GID
	c.verified = true
	c.mu.Unlock()
	return nil
}

func (m *Mechanism) UID(cred mech.Credential) uint32 {
	c, err := credential(cred)
	if err != nil {
		return mech.NobodyID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.verified {
		return mech.NobodyID
	}
	return c.uid
}

func (m *Mechanism) GID(cred mech.Credential) uint32 {
	c, err := credential(cred)
	if err != nil {
		return mech.NobodyID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.verified {
		return mech.NobodyID
	}
	return c.gid
}

// Pack writes the sealed body and its MIC as two XDR opaques. A credential
// that was never activated packs two empty opaques.
func (m *Mechanism) Pack(cred mech.Credential, buf *xdr.Buffer) {
	c, err := credential(cred)
	if err != nil || buf == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf.PackOpaque(c.raw)
	buf.PackOpaque(c.mic)
}

// Unpack reads a credential written by Pack. The MIC is not checked until
// Verify.
func (m *Mechanism) Unpack(cred mech.Credential, buf *xdr.Buffer) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}
	if buf == nil {
		return mech.ErrInvalidCredential
	}

	raw, err := buf.UnpackOpaque()
	if err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}
	mic, err := buf.UnpackOpaque()
	if err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}

	var body sealedBody
	if len(raw) > 0 {
		if err := xdr.FromBytes(raw).Unmarshal(&body); err != nil {
			return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
		}
		if body.Version != wireVersion {
			return fmt.Errorf("%w: unsupported version %d", mech.ErrInvalidCredential, body.Version)
		}
	}

	c.mu.Lock()
	c.body, c.raw, c.mic = body, raw, mic
	c.uid, c.gid = mech.NobodyID, mech.NobodyID
	c.verified = false
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

	_, _ = fmt.Fprintf(w, "BEGIN AUTH/KRB5 CREDENTIAL\n")
	_, _ = fmt.Fprintf(w, "  PRINCIPAL: %s@%s\n", c.body.Principal, c.body.Realm)
	_, _ = fmt.Fprintf(w, "  UID: %d\n  GID: %d\n", c.uid, c.gid)
	if c.body.ExpiresAt != 0 {
		_, _ = fmt.Fprintf(w, "  KVNO: %d\n", c.body.KVNO)
		_, _ = fmt.Fprintf(w, "  EXPIRES: %s\n", time.Unix(c.body.ExpiresAt, 0).UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(w, "END AUTH/KRB5 CREDENTIAL\n")
}
