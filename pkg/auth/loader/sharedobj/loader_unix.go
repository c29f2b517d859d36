//go:build (linux || darwin || freebsd) && cgo

package sharedobj

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
)

// Loader discovers mechanism plugins (*.so) in a directory.
//
// Thread safety: safe for concurrent use.
type Loader struct {
	opts options

	mu      sync.Mutex
	plugins map[string]*plugin.Plugin // by path
}

// New creates a shared-object loader.
func New(opts ...Option) *Loader {
	l := &Loader{plugins: make(map[string]*plugin.Plugin)}
	for _, opt := range opts {
		opt(&l.opts)
	}
	return l
}

// Name implements rack.Loader.
func (l *Loader) Name() string {
	return LoaderName
}

// Scan implements rack.Loader. Every *.so file in dir is opened to read its
// PluginType; files that fail the paranoia checks or cannot be opened are
// skipped with a warning.
func (l *Loader) Scan(ctx context.Context, dir string, major string) ([]rack.Descriptor, error) {
	if dir == "" {
		return nil, nil
	}

	if err := l.checkPath(dir, true); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin directory: %w", err)
	}

	var descs []rack.Descriptor
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}

		path := filepath.Join(dir, e.Name())
		d, err := l.inspect(path)
		if err != nil {
			logger.Warn("Skipping mechanism plugin", logger.KeyPath, path, logger.Err(err))
			continue
		}
		if d.Major() != major {
			continue
		}
		descs = append(descs, d)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Path < descs[j].Path })
	return descs, nil
}

// inspect opens one plugin file and reads its type.
func (l *Loader) inspect(path string) (rack.Descriptor, error) {
	if err := l.checkPath(path, false); err != nil {
		return rack.Descriptor{}, err
	}

	p, err := l.open(path)
	if err != nil {
		return rack.Descriptor{}, err
	}

	typ, err := lookupString(p, SymPluginType)
	if err != nil {
		return rack.Descriptor{}, err
	}
	if typ == "" {
		return rack.Descriptor{}, fmt.Errorf("%s is empty", SymPluginType)
	}
	desc, _ := lookupString(p, SymPluginDescription)

	return rack.Descriptor{
		Type:        typ,
		Description: desc,
		Path:        path,
		Source:      LoaderName,
	}, nil
}

func (l *Loader) open(path string) (*plugin.Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.plugins[path]; ok {
		return p, nil
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	l.plugins[path] = p
	return p, nil
}

// lookupString reads an exported string variable (plugin symbols for
// variables are pointers).
func lookupString(p *plugin.Plugin, name string) (string, error) {
	sym, err := p.Lookup(name)
	if err != nil {
		return "", err
	}
	switch v := sym.(type) {
	case *string:
		return *v, nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%s has type %T, want string", name, sym)
	}
}

// checkPath applies the configured paranoia to a file or directory.
func (l *Loader) checkPath(path string, isDir bool) error {
	p := l.opts.paranoia
	if p == ParanoiaNone {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !isDir && !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	writable := p&ParanoiaFileWritable != 0
	owner := p&ParanoiaFileOwner != 0
	if isDir {
		writable = p&ParanoiaDirWritable != 0
		owner = p&ParanoiaDirOwner != 0
	}

	if writable && info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("%s is writable by group or others", path)
	}
	if owner {
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("%s: ownership unavailable", path)
		}
		if st.Uid != l.opts.trustedUID {
			return fmt.Errorf("%s is owned by uid %d, want %d", path, st.Uid, l.opts.trustedUID)
		}
	}
	return nil
}

// Open implements rack.Loader.
func (l *Loader) Open(d rack.Descriptor) (rack.Module, error) {
	if d.Path == "" {
		return nil, fmt.Errorf("descriptor for %s has no path", d.Type)
	}
	p, err := l.open(d.Path)
	if err != nil {
		return nil, err
	}

	m := &module{desc: d, plugin: p}
	if sym, err := p.Lookup(SymActive); err == nil {
		if f, ok := sym.(func() bool); ok {
			m.active = f
		}
	}
	return m, nil
}

var errModuleClosed = errors.New("sharedobj: module closed")

type module struct {
	desc   rack.Descriptor
	plugin *plugin.Plugin
	active func() bool
	closed atomic.Bool
}

func (m *module) Descriptor() rack.Descriptor {
	return m.desc
}

func (m *module) Lookup(symbol string) (any, error) {
	if m.closed.Load() {
		return nil, errModuleClosed
	}
	name := ExportedName(symbol)
	if name == "" {
		return nil, fmt.Errorf("unknown operation %q", symbol)
	}
	sym, err := m.plugin.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (m *module) Active() bool {
	return m.active != nil && m.active()
}

func (m *module) Close() error {
	m.closed.Store(true)
	return nil
}
