package rack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/internal/telemetry"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
)

// Standard rack errors.
var (
	// ErrMechanismNotFound indicates no discovered module has the requested type.
	ErrMechanismNotFound = errors.New("auth: mechanism not found")

	// ErrTeardownBlocked indicates teardown was refused because at least one
	// opened module is still active.
	ErrTeardownBlocked = errors.New("auth: mechanisms still active")

	// ErrHandleInvalid indicates a module handle used after its rack was torn down.
	ErrHandleInvalid = errors.New("auth: module handle invalidated")

	// ErrRackClosed indicates an operation on a torn-down rack.
	ErrRackClosed = errors.New("auth: mechanism rack torn down")
)

// Handle is the rack's reference to an opened module. It stops resolving
// symbols once the rack is torn down.
type Handle struct {
	mod     Module
	invalid atomic.Bool
}

// Descriptor returns the module's descriptor.
func (h *Handle) Descriptor() Descriptor {
	return h.mod.Descriptor()
}

// Lookup resolves a symbol, failing with ErrHandleInvalid after teardown.
func (h *Handle) Lookup(symbol string) (any, error) {
	if h.invalid.Load() {
		return nil, ErrHandleInvalid
	}
	return h.mod.Lookup(symbol)
}

// Valid reports whether the handle has not been invalidated.
func (h *Handle) Valid() bool {
	return !h.invalid.Load()
}

// Rack indexes mechanism modules and binds their operations.
//
// The index is built lazily on first use. Opened modules are cached by
// type, so resolving the same type twice reuses one module.
//
// Thread safety: all methods are safe for concurrent use.
type Rack struct {
	loader Loader
	major  string

	mu      sync.Mutex
	scanned bool
	index   map[string]Descriptor
	order   []string
	handles map[string]*Handle
	closed  bool
}

// New creates a rack over loader for the "auth" major type.
func New(loader Loader) *Rack {
	return &Rack{
		loader:  loader,
		major:   MajorType,
		handles: make(map[string]*Handle),
	}
}

// scanLocked builds the index on first call. Must hold r.mu.
func (r *Rack) scanLocked(ctx context.Context, dir string) error {
	if r.scanned {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRackScan)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.PluginDir(dir), telemetry.Source(r.loader.Name()))

	descs, err := r.loader.Scan(ctx, dir, r.major)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	index := make(map[string]Descriptor, len(descs))
	order := make([]string, 0, len(descs))
	for _, d := range descs {
		if d.Major() != r.major {
			continue
		}
		if prev, dup := index[d.Type]; dup {
			telemetry.AddEvent(ctx, "duplicate_ignored", telemetry.AuthType(d.Type), telemetry.Source(d.Source))
			logger.Debug("Duplicate mechanism ignored",
				logger.AuthType(d.Type),
				logger.KeySource, d.Source,
				"kept_source", prev.Source)
			continue
		}
		index[d.Type] = d
		order = append(order, d.Type)
	}

	r.index = index
	r.order = order
	r.scanned = true

	logger.Debug("Mechanism index built",
		logger.PluginDir(dir), logger.KeyCount, len(order))
	return nil
}

// Descriptors returns the indexed descriptors in discovery order, scanning
// dir first if the index does not exist yet.
func (r *Rack) Descriptors(ctx context.Context, dir string) ([]Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRackClosed
	}
	if err := r.scanLocked(ctx, dir); err != nil {
		return nil, err
	}

	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.index[t])
	}
	return out, nil
}

// Use returns the handle of the module whose type equals typ exactly,
// opening it on first request.
func (r *Rack) Use(ctx context.Context, typ string, dir string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRackClosed
	}
	if err := r.scanLocked(ctx, dir); err != nil {
		return nil, err
	}

	if h, ok := r.handles[typ]; ok {
		return h, nil
	}

	d, ok := r.index[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMechanismNotFound, typ)
	}

	mod, err := r.loader.Open(d)
	if err != nil {
		return nil, fmt.Errorf("open mechanism %s: %w", typ, err)
	}

	h := &Handle{mod: mod}
	r.handles[typ] = h
	return h, nil
}

// Resolve finds the module for typ and binds its operation table.
//
// Errors wrap ErrMechanismNotFound when no module matches and
// mech.ErrIncompleteMechanism when fewer than nine operations bind. No
// partially bound table is ever returned.
func (r *Rack) Resolve(ctx context.Context, typ string, dir string) (mech.Ops, *Handle, error) {
	h, err := r.Use(ctx, typ, dir)
	if err != nil {
		return mech.Ops{}, nil, err
	}

	ops, n, err := mech.Bind(h.Lookup)
	if err != nil {
		logger.Debug("Operation binding failed",
			logger.KeyAuthType, typ, logger.KeyResolved, n, logger.Err(err))
		return mech.Ops{}, nil, err
	}
	return ops, h, nil
}

// Teardown closes every opened module and invalidates their handles.
//
// If any module is active, Teardown returns ErrTeardownBlocked and leaves
// the rack unchanged. Tearing down an already torn-down rack succeeds.
func (r *Rack) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	var active []string
	for typ, h := range r.handles {
		if h.mod.Active() {
			active = append(active, typ)
		}
	}
	if len(active) > 0 {
		sort.Strings(active)
		return fmt.Errorf("%w: %s", ErrTeardownBlocked, strings.Join(active, ", "))
	}

	var errs []error
	for typ, h := range r.handles {
		h.invalid.Store(true)
		if err := h.mod.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", typ, err))
		}
	}

	r.handles = make(map[string]*Handle)
	r.index = nil
	r.order = nil
	r.scanned = false
	r.closed = true

	return errors.Join(errs...)
}
