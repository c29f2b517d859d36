//go:build !((linux || darwin || freebsd) && cgo)

package sharedobj

import (
	"context"
	"errors"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
)

// ErrUnsupported is returned by Open on platforms without Go plugin support.
var ErrUnsupported = errors.New("sharedobj: plugins not supported on this platform")

// Loader is a no-op on platforms without Go plugin support: Scan finds
// nothing, so only builtin mechanisms resolve.
type Loader struct {
	opts options
}

// New creates a shared-object loader.
func New(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(&l.opts)
	}
	return l
}

// Name implements rack.Loader.
func (l *Loader) Name() string {
	return LoaderName
}

// Scan implements rack.Loader.
func (l *Loader) Scan(_ context.Context, dir string, _ string) ([]rack.Descriptor, error) {
	if dir != "" {
		logger.Debug("Plugin directory ignored, shared objects unsupported", logger.KeyPluginDir, dir)
	}
	return nil, nil
}

// Open implements rack.Loader.
func (l *Loader) Open(rack.Descriptor) (rack.Module, error) {
	return nil, ErrUnsupported
}
