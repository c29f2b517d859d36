// Package jwt implements the "auth/jwt" mechanism.
//
// Every node of the cluster shares one HMAC secret. An activated credential
// is an HS256 token whose claims carry the uid and gid of the issuing
// process together with an expiry, so any peer holding the secret can verify
// it without contacting a daemon.
//
// Settings (auth.mechanisms.jwt):
//
//	secret: "..."                    # at least 32 characters
//	secret_file: /etc/dittoauth/key  # read when secret is empty
//	issuer: dittoauth
//	ttl: 5m                          # lifetime when Activate is given ttl <= 0
//	uid: 1000                        # assert this uid instead of the process uid
//	gid: 1000
package jwt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittoauth/pkg/auth/loader/builtin"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Type is the mechanism type string.
const Type = "auth/jwt"

const (
	wireVersion   uint32 = 1
	defaultIssuer        = "dittoauth"
	defaultTTL           = 5 * time.Minute
	minSecretLen         = 32
)

// ErrInvalidSecretLength is returned by New when the shared secret is too short.
var ErrInvalidSecretLength = errors.New("auth/jwt: secret must be at least 32 characters")

func init() {
	builtin.Register(Type, "HS256 tokens signed with a cluster-wide shared secret", New)
}

// Settings configures the mechanism.
type Settings struct {
	Secret     string        `mapstructure:"secret"`
	SecretFile string        `mapstructure:"secret_file"`
	Issuer     string        `mapstructure:"issuer"`
	TTL        time.Duration `mapstructure:"ttl"`
	UID        *uint32       `mapstructure:"uid"`
	GID        *uint32       `mapstructure:"gid"`
}

// Claims are the token claims of an activated credential.
type Claims struct {
	jwt.RegisteredClaims

	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`
}

// Credential is an auth/jwt credential.
//
// A credential allocated locally asserts the mechanism's identity. One
// filled by Unpack reports nobody until Verify has checked its token.
type Credential struct {
	mu       sync.RWMutex
	token    string
	claims   *Claims
	uid      uint32
	gid      uint32
	verified bool
}

// MechanismType implements mech.Credential.
func (*Credential) MechanismType() string { return Type }

// Mechanism implements auth/jwt.
type Mechanism struct {
	secret []byte
	issuer string
	ttl    time.Duration
	uid    uint32
	gid    uint32

	now func() time.Time
}

// New creates the mechanism from its settings map.
func New(settings map[string]any) (mech.Mechanism, error) {
	s, err := decodeSettings(settings)
	if err != nil {
		return nil, err
	}

	secret := s.Secret
	if secret == "" && s.SecretFile != "" {
		data, err := os.ReadFile(s.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("read auth/jwt secret file: %w", err)
		}
		secret = strings.TrimSpace(string(data))
	}
	if len(secret) < minSecretLen {
		return nil, ErrInvalidSecretLength
	}

	m := &Mechanism{
		secret: []byte(secret),
		issuer: s.Issuer,
		ttl:    s.TTL,
		uid:    processID(os.Geteuid()),
		gid:    processID(os.Getegid()),
		now:    time.Now,
	}
	if m.issuer == "" {
		m.issuer = defaultIssuer
	}
	if m.ttl <= 0 {
		m.ttl = defaultTTL
	}
	if s.UID != nil {
		m.uid = *s.UID
	}
	if s.GID != nil {
		m.gid = *s.GID
	}
	return m, nil
}

func decodeSettings(settings map[string]any) (Settings, error) {
	var s Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return s, err
	}
	if err := dec.Decode(settings); err != nil {
		return s, fmt.Errorf("decode auth/jwt settings: %w", err)
	}
	return s, nil
}

func processID(id int) uint32 {
	if id < 0 {
		return mech.NobodyID
	}
	return uint32(id)
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

func (m *Mechanism) Alloc() mech.Credential {
	return &Credential{uid: m.uid, gid: m.gid, verified: true}
}

func (m *Mechanism) Free(cred mech.Credential) {
	if c, err := credential(cred); err == nil {
		c.mu.Lock()
		c.token, c.claims = "", nil
		c.mu.Unlock()
	}
}

// Activate signs a token valid for ttlSeconds (the configured ttl when
// ttlSeconds <= 0).
func (m *Mechanism) Activate(cred mech.Credential, ttlSeconds int) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}

	ttl := mech.Lifetime(ttlSeconds, m.ttl)
	now := m.now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(m.uid), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID: m.uid,
		GID: m.gid,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign auth/jwt token: %w", err)
	}

	c.mu.Lock()
	c.token, c.claims = token, claims
	c.uid, c.gid = m.uid, m.gid
	c.verified = true
	c.mu.Unlock()
	return nil
}

// Verify checks the token signature, issuer and expiry. On success the
// credential reports the identity from its claims.
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
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return mech.ErrNotActive
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return mech.ErrExpired
		}
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}

	c.mu.Lock()
	c.claims = claims
	c.uid, c.gid = claims.UID, claims.GID
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

// Pack writes the wire version followed by the token. A credential that
// was never activated packs an empty token.
func (m *Mechanism) Pack(cred mech.Credential, buf *xdr.Buffer) {
	c, err := credential(cred)
	if err != nil || buf == nil {
		return
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	buf.PackUint32(wireVersion)
	buf.PackString(token)
}

// Unpack reads a token written by Pack. The token is not checked until
// Verify.
func (m *Mechanism) Unpack(cred mech.Credential, buf *xdr.Buffer) error {
	c, err := credential(cred)
	if err != nil {
		return err
	}
	if buf == nil {
		return mech.ErrInvalidCredential
	}

	version, err := buf.UnpackUint32()
	if err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}
	if version != wireVersion {
		return fmt.Errorf("%w: unsupported version %d", mech.ErrInvalidCredential, version)
	}
	token, err := buf.UnpackString()
	if err != nil {
		return fmt.Errorf("%w: %v", mech.ErrInvalidCredential, err)
	}

	c.mu.Lock()
	c.token, c.claims = token, nil
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

	_, _ = fmt.Fprintf(w, "BEGIN AUTH/JWT CREDENTIAL\n")
	_, _ = fmt.Fprintf(w, "  UID: %d\n  GID: %d\n", c.uid, c.gid)
	if c.claims != nil {
		_, _ = fmt.Fprintf(w, "  ID: %s\n", c.claims.ID)
		if c.claims.ExpiresAt != nil {
			_, _ = fmt.Fprintf(w, "  EXPIRES: %s\n", c.claims.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	_, _ = fmt.Fprintf(w, "END AUTH/JWT CREDENTIAL\n")
}
