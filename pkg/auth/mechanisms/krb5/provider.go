package krb5

import (
	"errors"
	"fmt"
	"sync"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/dittoauth/internal/logger"
)

// preferredEtypes are tried in order when no encryption type is configured.
var preferredEtypes = []int32{
	etypeID.AES256_CTS_HMAC_SHA1_96,
	etypeID.AES128_CTS_HMAC_SHA1_96,
	etypeID.AES256_CTS_HMAC_SHA384_192,
	etypeID.AES128_CTS_HMAC_SHA256_128,
}

var errNoRealm = errors.New("krb5: realm not configured (use principal@REALM, realm, or krb5_conf default_realm)")

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	KeytabPath       string
	ServicePrincipal string
	Realm            string
	Krb5Conf         string
	Etype            int32
	ReloadInterval   time.Duration
}

// Provider holds the service keytab whose key seals credentials, and
// reloads it when the file is rotated.
//
// Thread Safety: All methods are safe for concurrent use.
type Provider struct {
	mu            sync.RWMutex
	keytab        *keytab.Keytab
	krb5Conf      *krb5config.Config
	principal     types.PrincipalName
	realm         string
	etype         int32
	keytabPath    string
	keytabManager *KeytabManager
}

// NewProvider loads the keytab (and krb5.conf when configured) and starts
// hot reload unless cfg.ReloadInterval is negative.
//
// DITTOAUTH_KRB5_KEYTAB, DITTOAUTH_KRB5_PRINCIPAL and DITTOAUTH_KRB5_CONF
// override the corresponding fields.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("krb5 keytab path not configured (set keytab or %s)", EnvKeytab)
	}

	spn := resolveServicePrincipal(cfg.ServicePrincipal)
	if spn == "" {
		return nil, fmt.Errorf("krb5 service principal not configured (set service_principal or %s)", EnvPrincipal)
	}

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}

	var krbCfg *krb5config.Config
	if path := resolveKrb5ConfPath(cfg.Krb5Conf); path != "" {
		krbCfg, err = krb5config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load krb5.conf %s: %w", path, err)
		}
	}

	pn, realm := types.ParseSPNString(spn)
	if realm == "" {
		realm = cfg.Realm
	}
	if realm == "" && krbCfg != nil {
		realm = krbCfg.LibDefaults.DefaultRealm
	}
	if realm == "" {
		return nil, errNoRealm
	}

	p := &Provider{
		keytab:     kt,
		krb5Conf:   krbCfg,
		principal:  pn,
		realm:      realm,
		etype:      cfg.Etype,
		keytabPath: keytabPath,
	}

	// Fail early if the keytab has no usable key for the principal.
	if _, _, _, err := p.sealingKey(); err != nil {
		return nil, err
	}

	if cfg.ReloadInterval >= 0 {
		km := NewKeytabManager(keytabPath, cfg.ReloadInterval, p)
		if err := km.Start(); err != nil {
			logger.Warn("Keytab hot-reload failed to start, continuing without it",
				logger.KeyPath, keytabPath, logger.Err(err))
		} else {
			p.keytabManager = km
		}
	}

	return p, nil
}

// Keytab returns the current keytab.
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServicePrincipal returns the service principal as principal@REALM.
func (p *Provider) ServicePrincipal() string {
	return p.principal.PrincipalNameString() + "@" + p.realm
}

// Realm returns the realm credentials are issued in.
func (p *Provider) Realm() string {
	return p.realm
}

// Krb5Config returns the loaded krb5.conf, or nil when none was configured.
func (p *Provider) Krb5Config() *krb5config.Config {
	return p.krb5Conf
}

// ReloadKeytab re-reads the keytab file and swaps it in. Credentials sealed
// under a key version still present in the new keytab keep verifying.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()
	return nil
}

// Close stops hot reload. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

// sealingKey returns the newest key for the service principal along with
// its version and encryption type.
func (p *Provider) sealingKey() (types.EncryptionKey, uint32, int32, error) {
	kt := p.Keytab()

	etypes := preferredEtypes
	if p.etype != 0 {
		etypes = []int32{p.etype}
	}

	var lastErr error
	for _, et := range etypes {
		key, kvno, err := kt.GetEncryptionKey(p.principal, p.realm, 0, et)
		if err == nil {
			return key, uint32(kvno), et, nil
		}
		lastErr = err
	}
	return types.EncryptionKey{}, 0, 0, fmt.Errorf("no key for %s in keytab: %w", p.ServicePrincipal(), lastErr)
}

// verifyingKey returns the key a credential was sealed with.
func (p *Provider) verifyingKey(kvno uint32, etype int32) (types.EncryptionKey, error) {
	key, _, err := p.Keytab().GetEncryptionKey(p.principal, p.realm, int(kvno), etype)
	if err != nil {
		return types.EncryptionKey{}, fmt.Errorf("no key version %d for %s: %w", kvno, p.ServicePrincipal(), err)
	}
	return key, nil
}
