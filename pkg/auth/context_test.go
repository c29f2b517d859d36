package auth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marmos91/dittoauth/pkg/auth/loader/builtin"
	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/mechanisms/none"
	"github.com/marmos91/dittoauth/pkg/metrics"
	"github.com/marmos91/dittoauth/pkg/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type strayCred struct{}

func (strayCred) MechanismType() string { return "auth/stray" }

func resolvedContext(t *testing.T, typ string, l *testLoader, opts ...Option) *Context {
	t.Helper()
	c, err := NewContext(typ, append([]Option{WithLoader(l), WithPluginDir(t.TempDir())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Resolve(context.Background()))
	return c
}

// assertSentinels checks every dispatch operation returns its safe-failure value.
func assertSentinels(t *testing.T, c *Context, cred mech.Credential) {
	t.Helper()

	assert.Nil(t, c.Alloc())
	assert.NotPanics(t, func() { c.Free(cred) })
	assert.ErrorIs(t, c.Activate(cred, 60), ErrDispatchUnavailable)
	assert.ErrorIs(t, c.Verify(cred), ErrDispatchUnavailable)
	assert.Equal(t, mech.NobodyID, c.UID(cred))
	assert.Equal(t, mech.NobodyID, c.GID(cred))

	buf := xdr.NewBuffer(0)
	c.Pack(cred, buf)
	assert.Zero(t, buf.Len())
	assert.ErrorIs(t, c.Unpack(cred, xdr.FromBytes([]byte{0, 0, 0, 0})), ErrDispatchUnavailable)

	var out bytes.Buffer
	c.Print(cred, &out)
	assert.Zero(t, out.Len())
}

func TestNewContext_EmptyType(t *testing.T) {
	c, err := NewContext("")
	require.ErrorIs(t, err, ErrEmptyMechanismType)
	assert.Nil(t, c)
}

func TestNewContext_Unresolved(t *testing.T) {
	c, err := NewContext("auth/none")
	require.NoError(t, err)
	assert.Equal(t, "auth/none", c.Type())
	assert.False(t, c.Resolved())
}

func TestContext_PlaceholderScenario(t *testing.T) {
	l := newTestLoader("auth/none")
	c := resolvedContext(t, "auth/none", l)

	assert.True(t, c.Resolved())
	assert.True(t, c.table().Complete())

	cred := c.Alloc()
	assert.Same(t, l.modules["auth/none"].symbols[mech.SymAlloc].(func() mech.Credential)(), cred)
	assert.NoError(t, c.Verify(cred))
	assert.Equal(t, uint32(0), c.UID(cred))
	assert.Equal(t, uint32(0), c.GID(cred))
}

func TestContext_MissingMechanism(t *testing.T) {
	c, err := NewContext("auth/missing", WithLoader(newTestLoader("auth/none")))
	require.NoError(t, err)

	err = c.Resolve(context.Background())
	require.ErrorIs(t, err, ErrMechanismNotFound)
	assert.False(t, c.Resolved())

	assert.Nil(t, c.Alloc())
	assert.ErrorIs(t, c.Verify(strayCred{}), ErrDispatchUnavailable)
	assertSentinels(t, c, strayCred{})
}

func TestContext_IncompleteMechanism(t *testing.T) {
	l := newTestLoader("auth/partial")
	l.modules["auth/partial"].drop(mech.SymPrint)

	c, err := NewContext("auth/partial", WithLoader(l))
	require.NoError(t, err)

	err = c.Resolve(context.Background())
	require.ErrorIs(t, err, ErrIncompleteMechanism)
	assert.Contains(t, err.Error(), mech.SymPrint)
	assert.False(t, c.Resolved())
	assertSentinels(t, c, &placeholderCred{typ: "auth/partial"})
}

func TestContext_NilReceiver(t *testing.T) {
	var c *Context

	assert.Empty(t, c.Type())
	assert.False(t, c.Resolved())
	assert.ErrorIs(t, c.Resolve(context.Background()), ErrDispatchUnavailable)
	assert.NoError(t, c.Destroy())
	assertSentinels(t, c, strayCred{})
}

func TestContext_NilCredential(t *testing.T) {
	c := resolvedContext(t, "auth/none", newTestLoader("auth/none"))

	assert.ErrorIs(t, c.Verify(nil), ErrDispatchUnavailable)
	assert.ErrorIs(t, c.Activate(nil, 10), ErrDispatchUnavailable)
	assert.ErrorIs(t, c.Unpack(nil, xdr.NewBuffer(0)), ErrDispatchUnavailable)
	assert.Equal(t, mech.NobodyID, c.UID(nil))
	assert.Equal(t, mech.NobodyID, c.GID(nil))
	assert.NotPanics(t, func() {
		c.Free(nil)
		c.Pack(nil, xdr.NewBuffer(0))
		c.Print(nil, &bytes.Buffer{})
		c.Pack(c.Alloc(), nil)
		c.Print(c.Alloc(), nil)
	})
	assert.ErrorIs(t, c.Unpack(c.Alloc(), nil), ErrDispatchUnavailable)
}

func TestContext_CredentialMismatch(t *testing.T) {
	l := newTestLoader("auth/none", "auth/other")
	a := resolvedContext(t, "auth/none", l)
	b := resolvedContext(t, "auth/other", l)

	foreign := b.Alloc()
	require.NotNil(t, foreign)

	assert.ErrorIs(t, a.Verify(foreign), ErrCredentialMismatch)
	assert.ErrorIs(t, a.Activate(foreign, 1), ErrCredentialMismatch)
	assert.ErrorIs(t, a.Unpack(foreign, xdr.NewBuffer(0)), ErrCredentialMismatch)
	assert.Equal(t, mech.NobodyID, a.UID(foreign))
	assert.Equal(t, mech.NobodyID, a.GID(foreign))

	buf := xdr.NewBuffer(0)
	a.Pack(foreign, buf)
	assert.Zero(t, buf.Len())

	// The owning context still accepts it.
	assert.NoError(t, b.Verify(foreign))
}

func TestContext_FailedResolveKeepsTable(t *testing.T) {
	l := newTestLoader("auth/none")
	c := resolvedContext(t, "auth/none", l)

	l.modules["auth/none"].drop(mech.SymVerify)
	err := c.Resolve(context.Background())
	require.ErrorIs(t, err, ErrIncompleteMechanism)

	assert.True(t, c.Resolved())
	assert.NoError(t, c.Verify(c.Alloc()))
}

func TestContext_DestroyBlockedWhileActive(t *testing.T) {
	l := newTestLoader("auth/none")
	c := resolvedContext(t, "auth/none", l)
	mod := l.modules["auth/none"]

	mod.active.Store(true)
	err := c.Destroy()
	require.ErrorIs(t, err, ErrTeardownBlocked)

	// Context is intact and usable.
	assert.True(t, c.Resolved())
	assert.False(t, mod.closed.Load())
	assert.NoError(t, c.Verify(c.Alloc()))

	mod.active.Store(false)
	require.NoError(t, c.Destroy())
	assert.True(t, mod.closed.Load())
	assert.False(t, c.Resolved())
	assertSentinels(t, c, c.Alloc())

	require.NoError(t, c.Destroy(), "destroy is idempotent")
	assert.ErrorIs(t, c.Resolve(context.Background()), ErrContextDestroyed)
	_, err = c.Mechanisms(context.Background())
	assert.ErrorIs(t, err, ErrContextDestroyed)
}

func TestContext_DestroyCloseFailure(t *testing.T) {
	l := newTestLoader("auth/none")
	c := resolvedContext(t, "auth/none", l)
	mod := l.modules["auth/none"]
	mod.closeErr = errors.New("unmap failed")

	err := c.Destroy()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTeardownBlocked)
	assert.Contains(t, err.Error(), "unmap failed")

	// The module was closed, so the Context is gone rather than retryable.
	assert.True(t, mod.closed.Load())
	assert.False(t, c.Resolved())
	assertSentinels(t, c, c.Alloc())
	assert.NoError(t, c.Destroy())
	assert.ErrorIs(t, c.Resolve(context.Background()), ErrContextDestroyed)
}

func TestContext_DestroyUnresolved(t *testing.T) {
	c, err := NewContext("auth/none")
	require.NoError(t, err)
	require.NoError(t, c.Destroy())
}

func TestContext_Mechanisms(t *testing.T) {
	l := newTestLoader("auth/none", "auth/jwt", "switch/none")
	c, err := NewContext("auth/none", WithLoader(l))
	require.NoError(t, err)

	descs, err := c.Mechanisms(context.Background())
	require.NoError(t, err)

	var types []string
	for _, d := range descs {
		types = append(types, d.Type)
	}
	assert.ElementsMatch(t, []string{"auth/none", "auth/jwt"}, types)
	assert.False(t, c.Resolved(), "listing does not resolve")
}

func TestContext_PluginDirFromProvider(t *testing.T) {
	p := &staticProvider{pluginDir: "/from/provider"}

	c, err := NewContext("auth/none", WithConfigProvider(p))
	require.NoError(t, err)
	assert.Equal(t, "/from/provider", c.opts.resolvedPluginDir())

	c, err = NewContext("auth/none", WithConfigProvider(p), WithPluginDir("/explicit"))
	require.NoError(t, err)
	assert.Equal(t, "/explicit", c.opts.resolvedPluginDir())

	c, err = NewContext("auth/none")
	require.NoError(t, err)
	assert.Equal(t, DefaultPluginDir, c.opts.resolvedPluginDir())
}

func TestContext_Metrics(t *testing.T) {
	rm := newRecordingMetrics()
	l := newTestLoader("auth/none")

	missing, err := NewContext("auth/missing", WithLoader(l), WithMetrics(rm))
	require.NoError(t, err)
	require.Error(t, missing.Resolve(context.Background()))
	missing.Alloc()

	c := resolvedContext(t, "auth/none", l, WithMetrics(rm))
	cred := c.Alloc()
	require.NoError(t, c.Verify(cred))
	c.Verify(strayCred{})

	rm.mu.Lock()
	defer rm.mu.Unlock()
	assert.Equal(t, 1, rm.resolves[metrics.OutcomeNotFound])
	assert.Equal(t, 1, rm.resolves[metrics.OutcomeOK])
	assert.Equal(t, 1, rm.dispatch[mech.SymAlloc+"/"+metrics.OutcomeUnavailable])
	assert.Equal(t, 1, rm.dispatch[mech.SymVerify+"/"+metrics.OutcomeOK])
	assert.Equal(t, 1, rm.dispatch[mech.SymVerify+"/"+metrics.OutcomeMismatch])
}

func TestContext_PackUnpackRoundTrip(t *testing.T) {
	c, err := NewContext(none.Type,
		WithLoader(builtin.New(map[string]map[string]any{
			none.Type: {"uid": 1000, "gid": 1000},
		})))
	require.NoError(t, err)
	require.NoError(t, c.Resolve(context.Background()))

	cred := c.Alloc()
	require.NotNil(t, cred)
	require.NoError(t, c.Activate(cred, 300))
	before := c.Verify(cred)

	buf := xdr.NewBuffer(64)
	c.Pack(cred, buf)
	c.Free(cred)

	got := c.Alloc()
	require.NoError(t, c.Unpack(got, xdr.FromBytes(buf.Bytes())))
	assert.Equal(t, before, c.Verify(got))
	assert.Equal(t, uint32(1000), c.UID(got))

	var out bytes.Buffer
	c.Print(got, &out)
	assert.Contains(t, out.String(), "UID: 1000")

	// An outstanding credential keeps the builtin module active.
	require.ErrorIs(t, c.Destroy(), ErrTeardownBlocked)
	c.Free(got)
	require.NoError(t, c.Destroy())
}

func TestContext_Identify(t *testing.T) {
	c := resolvedContext(t, "auth/none", newTestLoader("auth/none"))

	id := c.Identify(c.Alloc())
	assert.True(t, id.Valid())
	assert.Equal(t, "auth/none", id.Mechanism)
	assert.Equal(t, uint32(0), id.UID)
	assert.False(t, id.Anonymous())

	id = c.Identify(strayCred{})
	assert.False(t, id.Valid())
	assert.ErrorIs(t, id.Err, ErrCredentialMismatch)
	assert.True(t, id.Anonymous())
	assert.Equal(t, mech.NobodyID, id.GID)

	id = c.Identify(nil)
	assert.ErrorIs(t, id.Err, ErrDispatchUnavailable)
	assert.Empty(t, id.Mechanism)
}

func TestContext_ConcurrentDispatchAndResolve(t *testing.T) {
	l := newTestLoader("auth/none")
	c, err := NewContext("auth/none", WithLoader(l))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Resolve(context.Background())
		}()
		go func() {
			defer wg.Done()
			// Before Resolve publishes the table Alloc returns nil; after, a
			// complete table is visible.
			if cred := c.Alloc(); cred != nil {
				assert.NoError(t, c.Verify(cred))
			}
		}()
	}
	wg.Wait()

	assert.True(t, c.Resolved())
	assert.Equal(t, int32(1), l.opens.Load())
}
