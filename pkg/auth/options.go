package auth

import (
	"fmt"

	"github.com/marmos91/dittoauth/pkg/auth/loader/builtin"
	"github.com/marmos91/dittoauth/pkg/auth/loader/sharedobj"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
	"github.com/marmos91/dittoauth/pkg/config"
	"github.com/marmos91/dittoauth/pkg/metrics"
)

// Defaults used when neither an option nor the ConfigProvider supplies a value.
const (
	DefaultAuthType  = config.DefaultAuthType
	DefaultPluginDir = config.DefaultPluginDir
)

// ConfigProvider supplies the configured mechanism selection. Getters may
// load the configuration on first call. *config.Provider implements it.
type ConfigProvider interface {
	// AuthType returns the configured mechanism type, or "" for the default.
	AuthType() string

	// PluginDir returns the plugin search directory, or "" for the default.
	PluginDir() string

	// MechanismSettings returns per-mechanism settings keyed by type.
	MechanismSettings() map[string]map[string]any

	// Paranoia returns the names of the plugin file checks to apply.
	Paranoia() []string

	// TrustedUID returns the owner required by the ownership checks.
	TrustedUID() uint32
}

// Option configures a Context.
type Option func(*options)

type options struct {
	loader    rack.Loader
	pluginDir string
	provider  ConfigProvider
	metrics   metrics.AuthMetrics
}

// WithLoader sets the module loader. By default builtin mechanisms are
// tried first, then plugins in the plugin directory.
func WithLoader(l rack.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithPluginDir sets the directory scanned for mechanism plugins.
func WithPluginDir(dir string) Option {
	return func(o *options) {
		o.pluginDir = dir
	}
}

// WithConfigProvider supplies the plugin directory and mechanism settings
// when they are not set by other options.
func WithConfigProvider(p ConfigProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithMetrics enables resolution and dispatch metrics. Nil disables them.
func WithMetrics(m metrics.AuthMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// LoaderSettings configures DefaultLoader.
type LoaderSettings struct {
	// Mechanisms holds per-mechanism settings keyed by type.
	Mechanisms map[string]map[string]any

	// Paranoia names the plugin file checks, see sharedobj.ParseParanoia.
	Paranoia []string

	// TrustedUID is the owner required by the ownership checks.
	TrustedUID uint32
}

// DefaultLoader returns the loader used when none is configured: builtin
// mechanisms first, then shared-object plugins subject to the paranoia
// checks. An unknown check name is an error.
func DefaultLoader(s LoaderSettings) (rack.Loader, error) {
	paranoia, err := sharedobj.ParseParanoia(s.Paranoia)
	if err != nil {
		return nil, fmt.Errorf("plugin checks: %w", err)
	}
	return rack.NewMultiLoader(
		builtin.New(s.Mechanisms),
		sharedobj.New(sharedobj.WithParanoia(paranoia, s.TrustedUID)),
	), nil
}

func (o *options) resolvedPluginDir() string {
	if o.pluginDir != "" {
		return o.pluginDir
	}
	if o.provider != nil {
		if dir := o.provider.PluginDir(); dir != "" {
			return dir
		}
	}
	return DefaultPluginDir
}

func (o *options) resolvedLoader() (rack.Loader, error) {
	if o.loader != nil {
		return o.loader, nil
	}
	var s LoaderSettings
	if o.provider != nil {
		s = LoaderSettings{
			Mechanisms: o.provider.MechanismSettings(),
			Paranoia:   o.provider.Paranoia(),
			TrustedUID: o.provider.TrustedUID(),
		}
	}
	return DefaultLoader(s)
}
