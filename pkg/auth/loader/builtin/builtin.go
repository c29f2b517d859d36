// Package builtin provides the loader for mechanisms linked into the binary.
//
// Mechanism packages register a factory under their type string from an
// init function:
//
//	func init() {
//		builtin.Register("auth/none", "trust the caller's uid/gid", New)
//	}
//
// Importing the package (typically with a blank import) is what makes a
// mechanism discoverable. The loader exposes each registered mechanism as a
// module whose symbols are the Mechanism's methods.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
)

// LoaderName is the Source of descriptors produced by this loader.
const LoaderName = "builtin"

// Factory constructs a mechanism from its settings map. settings is nil when
// the configuration has no section for the mechanism.
type Factory func(settings map[string]any) (mech.Mechanism, error)

type registration struct {
	description string
	factory     Factory
}

var (
	regMu    sync.RWMutex
	registry = make(map[string]registration)
)

// Register makes a mechanism factory available under typ.
// It panics if typ is empty, factory is nil, or typ is already registered.
func Register(typ, description string, factory Factory) {
	if typ == "" {
		panic("builtin: Register with empty mechanism type")
	}
	if factory == nil {
		panic("builtin: Register factory is nil for " + typ)
	}

	regMu.Lock()
	defer regMu.Unlock()

	if _, dup := registry[typ]; dup {
		panic("builtin: Register called twice for " + typ)
	}
	registry[typ] = registration{description: description, factory: factory}
}

// Registered returns the registered mechanism types, sorted.
func Registered() []string {
	regMu.RLock()
	defer regMu.RUnlock()

	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Loader exposes registered mechanisms as rack modules.
type Loader struct {
	settings map[string]map[string]any
}

// New creates a loader. settings maps mechanism type to the settings passed
// to its factory; it may be nil.
func New(settings map[string]map[string]any) *Loader {
	return &Loader{settings: settings}
}

// Name implements rack.Loader.
func (l *Loader) Name() string {
	return LoaderName
}

// Scan implements rack.Loader. The directory is ignored: builtin mechanisms
// are discovered through registration, not the filesystem.
func (l *Loader) Scan(_ context.Context, _ string, major string) ([]rack.Descriptor, error) {
	regMu.RLock()
	defer regMu.RUnlock()

	descs := make([]rack.Descriptor, 0, len(registry))
	for typ, reg := range registry {
		d := rack.Descriptor{Type: typ, Description: reg.description, Source: LoaderName}
		if d.Major() != major {
			continue
		}
		descs = append(descs, d)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Type < descs[j].Type })
	return descs, nil
}

// Open implements rack.Loader by constructing the mechanism.
func (l *Loader) Open(d rack.Descriptor) (rack.Module, error) {
	regMu.RLock()
	reg, ok := registry[d.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", rack.ErrMechanismNotFound, d.Type)
	}

	m, err := reg.factory(l.settings[d.Type])
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", d.Type, err)
	}
	if m == nil {
		return nil, fmt.Errorf("construct %s: factory returned nil mechanism", d.Type)
	}

	logger.Debug("Builtin mechanism constructed", logger.KeyAuthType, d.Type)
	return newModule(d, m), nil
}

var errModuleClosed = errors.New("builtin: module closed")

// module counts credentials handed out by alloc and not yet freed; the
// module is active while that count is positive.
type module struct {
	desc    rack.Descriptor
	mech    mech.Mechanism
	symbols map[string]any
	live    atomic.Int64
	closed  atomic.Bool
}

func newModule(d rack.Descriptor, m mech.Mechanism) *module {
	mod := &module{desc: d, mech: m}

	symbols := mech.Symbols(m)
	symbols[mech.SymAlloc] = mod.alloc
	symbols[mech.SymFree] = mod.free
	mod.symbols = symbols

	return mod
}

func (m *module) alloc() mech.Credential {
	cred := m.mech.Alloc()
	if cred != nil {
		m.live.Add(1)
	}
	return cred
}

func (m *module) free(cred mech.Credential) {
	if cred != nil {
		for {
			n := m.live.Load()
			if n <= 0 || m.live.CompareAndSwap(n, n-1) {
				break
			}
		}
	}
	m.mech.Free(cred)
}

func (m *module) Descriptor() rack.Descriptor {
	return m.desc
}

func (m *module) Lookup(symbol string) (any, error) {
	if m.closed.Load() {
		return nil, errModuleClosed
	}
	sym, ok := m.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %q not exported by %s", symbol, m.desc.Type)
	}
	return sym, nil
}

func (m *module) Active() bool {
	return m.live.Load() > 0
}

// Close releases the mechanism if it holds resources (io.Closer).
func (m *module) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := m.mech.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
