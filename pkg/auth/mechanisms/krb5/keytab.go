package krb5

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/dittoauth/internal/logger"
)

// defaultReloadInterval is how often the keytab file is polled for changes.
const defaultReloadInterval = 60 * time.Second

// Environment variables that take precedence over the mechanism settings.
const (
	EnvKeytab    = "DITTOAUTH_KRB5_KEYTAB"
	EnvPrincipal = "DITTOAUTH_KRB5_PRINCIPAL"
	EnvKrb5Conf  = "DITTOAUTH_KRB5_CONF"
)

// KeytabManager reloads the provider's keytab when the file's modification
// time changes. The file is polled; the parent directory is also watched so
// a keytab replaced by rename (kadmin, k5srvutil) is picked up without
// waiting for the next tick. Watch events only trigger the same stat check.
//
// Thread Safety: All methods are safe for concurrent use.
type KeytabManager struct {
	path     string
	interval time.Duration
	provider *Provider
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	lastMod  time.Time
	watcher  *fsnotify.Watcher
}

// NewKeytabManager creates a manager (not yet started). interval <= 0 uses
// the default.
func NewKeytabManager(path string, interval time.Duration, provider *Provider) *KeytabManager {
	if interval <= 0 {
		interval = defaultReloadInterval
	}
	return &KeytabManager{
		path:     path,
		interval: interval,
		provider: provider,
		stopCh:   make(chan struct{}),
	}
}

// Start records the file's modification time and starts polling.
func (km *KeytabManager) Start() error {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	km.lastMod = info.ModTime()
	km.watcher = km.watchDir()

	go km.pollLoop(km.watcher)

	logger.Debug("Keytab hot-reload started",
		logger.KeyPath, km.path,
		"poll_interval", km.interval.String(),
		"watch", km.watcher != nil,
	)
	return nil
}

// watchDir returns a watcher on the keytab's directory, or nil when the
// platform or the directory does not allow it.
func (km *KeytabManager) watchDir() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("Keytab watch unavailable, polling only", logger.Err(err))
		return nil
	}
	if err := w.Add(filepath.Dir(km.path)); err != nil {
		_ = w.Close()
		logger.Debug("Keytab watch unavailable, polling only", logger.KeyPath, km.path, logger.Err(err))
		return nil
	}
	return w
}

// Stop ends polling and watching. Safe to call more than once or without
// Start.
func (km *KeytabManager) Stop() {
	km.stopOnce.Do(func() { close(km.stopCh) })
}

func (km *KeytabManager) pollLoop(w *fsnotify.Watcher) {
	ticker := time.NewTicker(km.interval)
	defer ticker.Stop()

	// nil channels block forever when there is no watcher.
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w != nil {
		defer w.Close()
		events, errs = w.Events, w.Errors
	}

	target := filepath.Clean(km.path)
	for {
		select {
		case <-ticker.C:
			km.checkAndReload()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				km.checkAndReload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Keytab watch error", logger.KeyPath, km.path, logger.Err(err))
		case <-km.stopCh:
			return
		}
	}
}

// checkAndReload reloads the keytab if the file changed since the last
// successful load. It reports whether a reload happened.
func (km *KeytabManager) checkAndReload() bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		logger.Error("Keytab file stat failed", logger.KeyPath, km.path, logger.Err(err))
		return false
	}

	modTime := info.ModTime()
	if modTime.Equal(km.lastMod) {
		return false
	}

	if err := km.provider.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", logger.KeyPath, km.path, logger.Err(err))
		return false
	}

	km.lastMod = modTime
	logger.Info("Keytab reloaded", logger.KeyPath, km.path)
	return true
}

func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}
	return kt, nil
}

func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv(EnvKeytab); envPath != "" {
		return envPath
	}
	return configPath
}

func resolveServicePrincipal(configPrincipal string) string {
	if envSPN := os.Getenv(EnvPrincipal); envSPN != "" {
		return envSPN
	}
	return configPrincipal
}

// resolveKrb5ConfPath returns "" when neither the environment nor the
// settings name a krb5.conf; the file is then not loaded.
func resolveKrb5ConfPath(configPath string) string {
	if envPath := os.Getenv(EnvKrb5Conf); envPath != "" {
		return envPath
	}
	return configPath
}
