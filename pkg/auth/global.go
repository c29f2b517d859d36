package auth

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/internal/telemetry"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
	"github.com/marmos91/dittoauth/pkg/config"
	"github.com/marmos91/dittoauth/pkg/metrics"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// Process-wide Context.
//
// ready is published only after a successful Resolve, so a non-nil value
// always has a complete table. initMu serializes the slow path of Init and
// guards the settings below.
var (
	ready atomic.Pointer[Context]

	initMu         sync.Mutex
	globalProvider ConfigProvider
	globalLoader   rack.Loader
)

// SetConfigProvider sets the provider Init reads the mechanism type and
// plugin directory from. It has no effect once Init has succeeded.
func SetConfigProvider(p ConfigProvider) {
	initMu.Lock()
	defer initMu.Unlock()
	globalProvider = p
}

// SetLoader sets the module loader used by Init. It has no effect once
// Init has succeeded.
func SetLoader(l rack.Loader) {
	initMu.Lock()
	defer initMu.Unlock()
	globalLoader = l
}

// Init creates and resolves the process-wide Context on first call.
//
// Concurrent first calls resolve once; the others wait and share the
// result. After a success every call returns nil without further work.
// After a failure nothing is stored, so a later call tries again.
//
// Post-condition: when Init returns nil, Default() is non-nil and its
// operation table is complete.
func Init(ctx context.Context) error {
	if ready.Load() != nil {
		return nil
	}

	initMu.Lock()
	defer initMu.Unlock()

	if ready.Load() != nil {
		return nil
	}

	p := globalProvider
	if p == nil {
		p = config.NewProvider("")
		globalProvider = p
	}

	typ := p.AuthType()
	if typ == "" {
		typ = DefaultAuthType
	}
	dir := p.PluginDir()
	if dir == "" {
		dir = DefaultPluginDir
	}

	ctx, span := telemetry.StartAuthSpan(ctx, telemetry.SpanAuthInit, typ, telemetry.PluginDir(dir))
	defer span.End()

	am := metrics.NewAuthMetrics()
	c, err := NewContext(typ,
		WithConfigProvider(p),
		WithPluginDir(dir),
		WithLoader(globalLoader),
		WithMetrics(am),
	)
	if err != nil {
		telemetry.RecordError(ctx, err)
		observeInit(am, metrics.OutcomeError)
		return err
	}

	if err := c.Resolve(ctx); err != nil {
		if derr := c.Destroy(); derr != nil {
			logger.Warn("Failed to release unresolved auth context",
				logger.KeyAuthType, typ, logger.Err(derr))
		}
		telemetry.RecordError(ctx, err)
		observeInit(am, resolveOutcome(err))
		return err
	}

	c.mu.Lock()
	c.pinned = true
	c.mu.Unlock()

	ready.Store(c)
	observeInit(am, metrics.OutcomeOK)
	logger.Info("Authentication initialized", logger.AuthType(typ), logger.PluginDir(dir))
	return nil
}

func observeInit(am metrics.AuthMetrics, outcome string) {
	if am != nil {
		am.ObserveInit(outcome)
	}
}

// Default returns the process-wide Context, or nil before Init succeeds.
func Default() *Context {
	return ready.Load()
}

// readyOps runs Init and returns the process-wide table. On failure it logs
// msg at error severity and returns nil.
func readyOps(msg string) *mech.Ops {
	if err := Init(context.Background()); err != nil {
		logger.Error(msg, logger.Err(err))
		return nil
	}
	return ready.Load().ops.Load()
}

// Alloc allocates a credential with the process-wide mechanism.
func Alloc() mech.Credential {
	ops := readyOps("can't allocate credential - authentication init failed")
	if ops == nil {
		return nil
	}
	return ops.Alloc()
}

// Free releases a credential.
func Free(cred mech.Credential) {
	ops := readyOps("can't free credential - authentication init failed")
	if ops == nil {
		return
	}
	ops.Free(cred)
}

// Activate makes cred valid for ttlSeconds.
func Activate(cred mech.Credential, ttlSeconds int) error {
	ops := readyOps("can't activate credential - authentication init failed")
	if ops == nil {
		return ErrDispatchUnavailable
	}
	return ops.Activate(cred, ttlSeconds)
}

// Verify checks cred.
func Verify(cred mech.Credential) error {
	ops := readyOps("can't verify credential - authentication init failed")
	if ops == nil {
		return ErrDispatchUnavailable
	}
	return ops.Verify(cred)
}

// UID returns the user ID asserted by cred.
func UID(cred mech.Credential) uint32 {
	ops := readyOps("can't get UID - authentication init failed")
	if ops == nil {
		return mech.NobodyID
	}
	return ops.UID(cred)
}

// GID returns the group ID asserted by cred.
func GID(cred mech.Credential) uint32 {
	ops := readyOps("can't get GID - authentication init failed")
	if ops == nil {
		return mech.NobodyID
	}
	return ops.GID(cred)
}

// Identify verifies cred with the process-wide mechanism and collects the
// identity it asserts. If Init fails the identity is nobody and Err is
// ErrDispatchUnavailable.
func Identify(cred mech.Credential) Identity {
	if err := Init(context.Background()); err != nil {
		logger.Error("can't identify credential - authentication init failed", logger.Err(err))
		return Identity{UID: mech.NobodyID, GID: mech.NobodyID, Err: ErrDispatchUnavailable}
	}
	return ready.Load().Identify(cred)
}

// Pack appends cred's wire form to buf.
func Pack(cred mech.Credential, buf *xdr.Buffer) {
	ops := readyOps("can't pack credential - authentication init failed")
	if ops == nil {
		return
	}
	ops.Pack(cred, buf)
}

// Unpack reads a credential's wire form from buf into cred.
func Unpack(cred mech.Credential, buf *xdr.Buffer) error {
	ops := readyOps("can't unpack credential - authentication init failed")
	if ops == nil {
		return ErrDispatchUnavailable
	}
	return ops.Unpack(cred, buf)
}

// Print writes a description of cred to w.
func Print(cred mech.Credential, w io.Writer) {
	ops := readyOps("can't print credential - authentication init failed")
	if ops == nil {
		return
	}
	ops.Print(cred, w)
}

// resetDefault drops the process-wide Context and settings. Tests only.
func resetDefault() error {
	initMu.Lock()
	defer initMu.Unlock()

	if c := ready.Swap(nil); c != nil {
		c.mu.Lock()
		c.pinned = false
		err := c.destroyLocked()
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
	globalProvider = nil
	globalLoader = nil
	return nil
}
