package auth

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/internal/telemetry"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
	"github.com/marmos91/dittoauth/pkg/metrics"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Context binds one mechanism type to its resolved operation table.
//
// Resolve and Destroy are serialized by a mutex. The table is published
// atomically, so dispatch methods never lock and may run concurrently with
// each other and with Resolve.
type Context struct {
	typ  string
	opts options

	mu        sync.Mutex
	rack      *rack.Rack // created on first Resolve
	handle    *rack.Handle
	destroyed bool
	pinned    bool // process-wide context, see Init

	ops atomic.Pointer[mech.Ops]
}

// NewContext creates an unresolved Context for mechType.
func NewContext(mechType string, opts ...Option) (*Context, error) {
	if mechType == "" {
		logger.Debug("Refusing auth context with empty mechanism type")
		return nil, ErrEmptyMechanismType
	}

	c := &Context{typ: mechType}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c, nil
}

// Type returns the mechanism type the Context was created with.
func (c *Context) Type() string {
	if c == nil {
		return ""
	}
	return c.typ
}

// Resolved reports whether dispatch reaches a mechanism.
func (c *Context) Resolved() bool {
	return c.table() != nil
}

func (c *Context) table() *mech.Ops {
	if c == nil {
		return nil
	}
	return c.ops.Load()
}

// rackLocked returns the Context's rack, creating it on first use. Must hold c.mu.
func (c *Context) rackLocked() (*rack.Rack, error) {
	if c.rack == nil {
		l, err := c.opts.resolvedLoader()
		if err != nil {
			return nil, err
		}
		c.rack = rack.New(l)
	}
	return c.rack, nil
}

// Resolve finds the mechanism and binds its operations.
//
// On failure the error wraps ErrMechanismNotFound or ErrIncompleteMechanism,
// or reports an invalid plugin check configuration, and is logged at warning; a table bound by an earlier successful Resolve
// stays in place.
func (c *Context) Resolve(ctx context.Context) error {
	if c == nil {
		return ErrDispatchUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return ErrContextDestroyed
	}

	dir := c.opts.resolvedPluginDir()
	start := time.Now()

	ctx, span := telemetry.StartAuthSpan(ctx, telemetry.SpanAuthResolve, c.typ, telemetry.PluginDir(dir))
	defer span.End()

	lc := logger.NewLogContext(c.typ).WithOperation("resolve")
	lc.TraceID = telemetry.TraceID(ctx)
	lc.SpanID = telemetry.SpanID(ctx)
	ctx = logger.WithContext(ctx, lc)

	r, err := c.rackLocked()
	if err != nil {
		telemetry.RecordError(ctx, err)
		c.observeResolve(metrics.OutcomeError, start)
		logger.WarnCtx(ctx, "Authentication loader misconfigured", logger.Err(err))
		return err
	}

	ops, h, err := r.Resolve(ctx, c.typ, dir)
	if err != nil {
		telemetry.RecordError(ctx, err)
		c.observeResolve(resolveOutcome(err), start)
		logger.WarnCtx(ctx, "Authentication mechanism unavailable",
			logger.KeyPluginDir, dir, logger.Err(err))
		return err
	}

	c.handle = h
	c.ops.Store(&ops)

	telemetry.SetAttributes(ctx, telemetry.Source(h.Descriptor().Source), telemetry.Resolved(mech.OpCount))
	c.observeResolve(metrics.OutcomeOK, start)
	logger.DebugCtx(ctx, "Authentication mechanism resolved",
		logger.KeySource, h.Descriptor().Source,
		logger.KeyPath, h.Descriptor().Path,
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

func resolveOutcome(err error) string {
	switch {
	case errors.Is(err, ErrMechanismNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrIncompleteMechanism):
		return metrics.OutcomeIncomplete
	default:
		return metrics.OutcomeError
	}
}

func (c *Context) observeResolve(outcome string, start time.Time) {
	if c.opts.metrics != nil {
		c.opts.metrics.ObserveResolve(c.typ, outcome, time.Since(start))
	}
}

// Destroy tears down the Context's rack and unbinds the mechanism.
//
// If the rack refuses because credentials are still outstanding, Destroy
// returns an error wrapping ErrTeardownBlocked and the Context stays fully
// usable, so Destroy can be retried. Any other error means a module failed
// to close: every module has still been closed and the Context is
// destroyed, so the error is only reported. Destroying twice is a no-op.
func (c *Context) Destroy() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pinned {
		return ErrDefaultContext
	}
	return c.destroyLocked()
}

// destroyLocked implements Destroy. Must hold c.mu.
func (c *Context) destroyLocked() error {
	if c.destroyed {
		return nil
	}

	ctx, span := telemetry.StartAuthSpan(context.Background(), telemetry.SpanAuthDestroy, c.typ)
	defer span.End()

	if c.rack != nil {
		if err := c.rack.Teardown(); err != nil {
			telemetry.RecordError(ctx, err)
			if errors.Is(err, ErrTeardownBlocked) {
				logger.Warn("Auth context teardown refused",
					logger.KeyAuthType, c.typ, logger.Err(err))
				return err
			}
			// Modules were closed despite the error; the context is gone.
			logger.Warn("Auth context teardown incomplete",
				logger.KeyAuthType, c.typ, logger.Err(err))
			c.release()
			return err
		}
	}

	c.release()
	logger.Debug("Auth context destroyed", logger.KeyAuthType, c.typ)
	return nil
}

func (c *Context) release() {
	c.ops.Store(nil)
	c.handle = nil
	c.rack = nil
	c.destroyed = true
}

// Mechanisms lists the mechanisms visible to this Context's loader and
// plugin directory.
func (c *Context) Mechanisms(ctx context.Context) ([]rack.Descriptor, error) {
	if c == nil {
		return nil, ErrDispatchUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrContextDestroyed
	}
	r, err := c.rackLocked()
	if err != nil {
		return nil, err
	}
	return r.Descriptors(ctx, c.opts.resolvedPluginDir())
}

// owns reports whether cred was issued by this Context's mechanism. A
// foreign credential is logged and counted.
func (c *Context) owns(op string, cred mech.Credential) bool {
	if cred == nil {
		return false
	}
	if owner := cred.MechanismType(); owner != c.typ {
		logger.Warn("Credential refused: issued by another mechanism",
			logger.KeyAuthType, c.typ,
			logger.KeyMechanism, owner,
			logger.KeyOperation, op)
		c.observeDispatch(op, metrics.OutcomeMismatch)
		return false
	}
	return true
}

// check returns the table and nil when cred may be dispatched, or the error
// the caller must return instead.
func (c *Context) check(op string, cred mech.Credential) (*mech.Ops, error) {
	ops := c.table()
	if ops == nil || cred == nil {
		if c != nil {
			c.observeDispatch(op, metrics.OutcomeUnavailable)
		}
		return nil, ErrDispatchUnavailable
	}
	if !c.owns(op, cred) {
		return nil, ErrCredentialMismatch
	}
	return ops, nil
}

func (c *Context) observeDispatch(op, outcome string) {
	if c.opts.metrics != nil {
		c.opts.metrics.ObserveDispatch(c.typ, op, outcome)
	}
}

func (c *Context) observeResult(op string, err error) error {
	if c.opts.metrics != nil {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.opts.metrics.ObserveDispatch(c.typ, op, outcome)
	}
	return err
}

// Alloc allocates a credential, or returns nil if the Context is unresolved.
func (c *Context) Alloc() mech.Credential {
	ops := c.table()
	if ops == nil {
		if c != nil {
			c.observeDispatch(mech.SymAlloc, metrics.OutcomeUnavailable)
		}
		return nil
	}
	c.observeDispatch(mech.SymAlloc, metrics.OutcomeOK)
	return ops.Alloc()
}

// Free releases a credential.
func (c *Context) Free(cred mech.Credential) {
	if ops, err := c.check(mech.SymFree, cred); err == nil {
		ops.Free(cred)
		c.observeDispatch(mech.SymFree, metrics.OutcomeOK)
	}
}

// Activate makes cred valid for ttlSeconds. The meaning of the lifetime is
// up to the mechanism.
func (c *Context) Activate(cred mech.Credential, ttlSeconds int) error {
	ops, err := c.check(mech.SymActivate, cred)
	if err != nil {
		return err
	}
	return c.observeResult(mech.SymActivate, ops.Activate(cred, ttlSeconds))
}

// Verify checks cred, returning nil when it is authentic and current.
func (c *Context) Verify(cred mech.Credential) error {
	ops, err := c.check(mech.SymVerify, cred)
	if err != nil {
		return err
	}
	return c.observeResult(mech.SymVerify, ops.Verify(cred))
}

// UID returns the user ID asserted by cred, or mech.NobodyID.
func (c *Context) UID(cred mech.Credential) uint32 {
	ops, err := c.check(mech.SymGetUID, cred)
	if err != nil {
		return mech.NobodyID
	}
	c.observeDispatch(mech.SymGetUID, metrics.OutcomeOK)
	return ops.UID(cred)
}

// GID returns the group ID asserted by cred, or mech.NobodyID.
func (c *Context) GID(cred mech.Credential) uint32 {
	ops, err := c.check(mech.SymGetGID, cred)
	if err != nil {
		return mech.NobodyID
	}
	c.observeDispatch(mech.SymGetGID, metrics.OutcomeOK)
	return ops.GID(cred)
}

// Pack appends cred's wire form to buf.
func (c *Context) Pack(cred mech.Credential, buf *xdr.Buffer) {
	if buf == nil {
		return
	}
	if ops, err := c.check(mech.SymPack, cred); err == nil {
		ops.Pack(cred, buf)
		c.observeDispatch(mech.SymPack, metrics.OutcomeOK)
	}
}

// Unpack reads a credential's wire form from buf into cred, which must come
// from Alloc on the same mechanism.
func (c *Context) Unpack(cred mech.Credential, buf *xdr.Buffer) error {
	if buf == nil {
		return ErrDispatchUnavailable
	}
	ops, err := c.check(mech.SymUnpack, cred)
	if err != nil {
		return err
	}
	return c.observeResult(mech.SymUnpack, ops.Unpack(cred, buf))
}

// Print writes a human-readable description of cred to w.
func (c *Context) Print(cred mech.Credential, w io.Writer) {
	if w == nil {
		return
	}
	if ops, err := c.check(mech.SymPrint, cred); err == nil {
		ops.Print(cred, w)
		c.observeDispatch(mech.SymPrint, metrics.OutcomeOK)
	}
}
