package rack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittoauth/internal/logger"
)

// MajorType is the domain tag of authentication mechanism modules.
const MajorType = "auth"

// Descriptor describes one discoverable mechanism module.
type Descriptor struct {
	// Type is the full mechanism type, e.g. "auth/jwt". Matching is exact
	// and case-sensitive.
	Type string

	// Description is a one-line summary for listings. Optional.
	Description string

	// Path is the module file for dynamically loaded mechanisms. Empty for
	// mechanisms linked into the binary.
	Path string

	// Source is the Name of the Loader that produced this descriptor.
	Source string
}

// Major returns the major type: the part of Type before the first '/'.
// A type without '/' is its own major type.
func (d Descriptor) Major() string {
	major, _, _ := strings.Cut(d.Type, "/")
	return major
}

// Module is an opened mechanism module.
type Module interface {
	// Descriptor returns the descriptor the module was opened from.
	Descriptor() Descriptor

	// Lookup resolves one operation symbol by canonical name.
	Lookup(symbol string) (any, error)

	// Active reports whether the module still has live state (for example
	// outstanding credentials) that forbids teardown.
	Active() bool

	// Close releases the module. Lookup must fail afterwards.
	Close() error
}

// Loader discovers and opens mechanism modules.
//
// Thread safety: implementations must be safe for concurrent use.
type Loader interface {
	// Name identifies the loader in descriptors and logs.
	Name() string

	// Scan lists the modules under dir whose major type equals major.
	// Loaders that do not read from disk may ignore dir.
	Scan(ctx context.Context, dir string, major string) ([]Descriptor, error)

	// Open opens the module for a descriptor previously returned by Scan.
	Open(d Descriptor) (Module, error)
}

// MultiLoader combines several loaders. Scan results are concatenated in
// loader order, so earlier loaders win when two provide the same type.
// A loader whose Scan fails is logged and skipped; MultiLoader.Scan only
// fails when every loader fails.
type MultiLoader struct {
	loaders []Loader
}

// NewMultiLoader creates a loader over the given loaders.
func NewMultiLoader(loaders ...Loader) *MultiLoader {
	return &MultiLoader{loaders: loaders}
}

// Name implements Loader.
func (m *MultiLoader) Name() string {
	return "multi"
}

// Scan implements Loader.
func (m *MultiLoader) Scan(ctx context.Context, dir string, major string) ([]Descriptor, error) {
	var out []Descriptor
	var errs []error

	for _, l := range m.loaders {
		descs, err := l.Scan(ctx, dir, major)
		if err != nil {
			logger.Warn("Mechanism loader scan failed",
				logger.KeySource, l.Name(), logger.KeyPluginDir, dir, logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
			continue
		}
		out = append(out, descs...)
	}

	if len(m.loaders) > 0 && len(errs) == len(m.loaders) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Open implements Loader by routing to the loader named in d.Source.
func (m *MultiLoader) Open(d Descriptor) (Module, error) {
	for _, l := range m.loaders {
		if l.Name() == d.Source {
			return l.Open(d)
		}
	}
	return nil, fmt.Errorf("no loader %q for mechanism %s", d.Source, d.Type)
}
