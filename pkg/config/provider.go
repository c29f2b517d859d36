package config

import (
	"sync"

	"github.com/marmos91/dittoauth/internal/logger"
)

// Provider hands out the values the authentication layer needs, loading the
// configuration on first use.
//
// The load happens under an exclusive lock held only for the fetch. A failed
// load is logged once and the defaults are used from then on.
//
// Thread safety: safe for concurrent use.
type Provider struct {
	path string

	mu     sync.Mutex
	cfg    *Config
	err    error
	loaded bool
}

// NewProvider creates a provider reading configPath (empty: default location).
func NewProvider(configPath string) *Provider {
	return &Provider{path: configPath}
}

// NewStaticProvider creates a provider over an already loaded configuration.
func NewStaticProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = GetDefaultConfig()
	}
	return &Provider{cfg: cfg, loaded: true}
}

// Config returns the loaded configuration.
func (p *Provider) Config() *Config {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		cfg, err := Load(p.path)
		if err != nil {
			logger.Error("Failed to load configuration, using defaults",
				logger.KeyPath, p.path, logger.Err(err))
			cfg = GetDefaultConfig()
			p.err = err
		}
		p.cfg = cfg
		p.loaded = true
	}
	return p.cfg
}

// Err returns the error of the first load, if it failed.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// AuthType returns the configured mechanism type.
func (p *Provider) AuthType() string {
	return p.Config().Auth.Type
}

// PluginDir returns the configured plugin search directory.
func (p *Provider) PluginDir() string {
	return p.Config().Auth.PluginDir
}

// MechanismSettings returns per-mechanism settings keyed by full type.
func (p *Provider) MechanismSettings() map[string]map[string]any {
	return p.Config().Auth.MechanismSettings()
}

// Paranoia returns the configured plugin file checks.
func (p *Provider) Paranoia() []string {
	return p.Config().Auth.Paranoia
}

// TrustedUID returns the owner required by the plugin ownership checks.
func (p *Provider) TrustedUID() uint32 {
	return p.Config().Auth.TrustedUID
}
