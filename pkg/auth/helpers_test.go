package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoauth/pkg/auth/mech"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

// placeholderCred is the fixed credential handed out by placeholderMech.
type placeholderCred struct{ typ string }

func (c *placeholderCred) MechanismType() string { return c.typ }

// placeholderMech always allocates the same credential, verifies it, and
// reports uid/gid 0.
type placeholderMech struct {
	cred *placeholderCred
}

func newPlaceholderMech(typ string) *placeholderMech {
	return &placeholderMech{cred: &placeholderCred{typ: typ}}
}

func (m *placeholderMech) Alloc() mech.Credential              { return m.cred }
func (m *placeholderMech) Free(mech.Credential)                {}
func (m *placeholderMech) Activate(mech.Credential, int) error { return nil }
func (m *placeholderMech) Verify(cred mech.Credential) error {
	if cred != mech.Credential(m.cred) {
		return mech.ErrForeignCredential
	}
	return nil
}
func (m *placeholderMech) UID(mech.Credential) uint32 { return 0 }
func (m *placeholderMech) GID(mech.Credential) uint32 { return 0 }
func (m *placeholderMech) Pack(_ mech.Credential, buf *xdr.Buffer) {
	buf.PackString(m.cred.typ)
}
func (m *placeholderMech) Unpack(_ mech.Credential, buf *xdr.Buffer) error {
	typ, err := buf.UnpackString()
	if err != nil {
		return err
	}
	if typ != m.cred.typ {
		return mech.ErrInvalidCredential
	}
	return nil
}
func (m *placeholderMech) Print(_ mech.Credential, w io.Writer) {
	_, _ = fmt.Fprintf(w, "placeholder %s", m.cred.typ)
}

type testModule struct {
	desc    rack.Descriptor
	mu      sync.Mutex
	symbols map[string]any
	active  atomic.Bool
	closed  atomic.Bool
	// closeErr is returned by Close after the module is marked closed.
	closeErr error
}

func (m *testModule) Descriptor() rack.Descriptor { return m.desc }
func (m *testModule) Active() bool                { return m.active.Load() }
func (m *testModule) Close() error                { m.closed.Store(true); return m.closeErr }
func (m *testModule) Lookup(symbol string) (any, error) {
	if m.closed.Load() {
		return nil, errors.New("closed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return mech.MapLookup(m.symbols)(symbol)
}

func (m *testModule) drop(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, symbol)
}

// testLoader serves placeholder mechanisms for the given types.
type testLoader struct {
	modules map[string]*testModule
	scans   atomic.Int32
	opens   atomic.Int32
	delay   time.Duration
}

func newTestLoader(types ...string) *testLoader {
	l := &testLoader{modules: make(map[string]*testModule)}
	for _, typ := range types {
		l.modules[typ] = &testModule{
			desc:    rack.Descriptor{Type: typ, Description: "placeholder", Source: "test"},
			symbols: mech.Symbols(newPlaceholderMech(typ)),
		}
	}
	return l
}

func (l *testLoader) Name() string { return "test" }

func (l *testLoader) Scan(_ context.Context, _ string, major string) ([]rack.Descriptor, error) {
	l.scans.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	var out []rack.Descriptor
	for _, m := range l.modules {
		if m.desc.Major() == major {
			out = append(out, m.desc)
		}
	}
	return out, nil
}

func (l *testLoader) Open(d rack.Descriptor) (rack.Module, error) {
	l.opens.Add(1)
	m, ok := l.modules[d.Type]
	if !ok {
		return nil, fmt.Errorf("no module %s", d.Type)
	}
	return m, nil
}

// staticProvider is a ConfigProvider with fixed values.
type staticProvider struct {
	authType  string
	pluginDir string
	settings  map[string]map[string]any
	paranoia  []string
	calls     atomic.Int32
}

func (p *staticProvider) AuthType() string {
	p.calls.Add(1)
	return p.authType
}
func (p *staticProvider) PluginDir() string { return p.pluginDir }
func (p *staticProvider) MechanismSettings() map[string]map[string]any {
	return p.settings
}
func (p *staticProvider) Paranoia() []string { return p.paranoia }
func (p *staticProvider) TrustedUID() uint32 { return 0 }

// recordingMetrics counts observations by outcome.
type recordingMetrics struct {
	mu       sync.Mutex
	resolves map[string]int
	dispatch map[string]int
	inits    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		resolves: make(map[string]int),
		dispatch: make(map[string]int),
		inits:    make(map[string]int),
	}
}

func (r *recordingMetrics) ObserveResolve(_ string, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves[outcome]++
}

func (r *recordingMetrics) ObserveDispatch(_ string, op string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch[op+"/"+outcome]++
}

func (r *recordingMetrics) ObserveInit(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits[outcome]++
}
