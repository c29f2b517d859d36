package krb5

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
)

const (
	testSPN   = "host/node.example.com"
	testRealm = "EXAMPLE.COM"
)

// createTestKeytab writes a keytab holding one aes128 key for testSPN.
func createTestKeytab(t *testing.T, dir string) string {
	t.Helper()
	return writeTestKeytab(t, filepath.Join(dir, "test.keytab"), map[uint8]string{1: "test-password"})
}

// writeTestKeytab writes a keytab with one entry per kvno. Higher kvnos
// get later timestamps.
func writeTestKeytab(t *testing.T, path string, passwords map[uint8]string) string {
	t.Helper()

	kt := keytab.New()
	base := time.Now().Add(-time.Hour)
	for kvno, pw := range passwords {
		ts := base.Add(time.Duration(kvno) * time.Minute)
		if err := kt.AddEntry(testSPN, testRealm, pw, ts, kvno, 17); err != nil {
			t.Fatalf("add keytab entry: %v", err)
		}
	}

	data, err := kt.Marshal()
	if err != nil {
		t.Fatalf("marshal test keytab: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write test keytab: %v", err)
	}
	return path
}

// bumpModTime moves the file's mtime forward so the poller sees a change.
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestResolveKeytabPath_EnvVarOverride(t *testing.T) {
	t.Setenv(EnvKeytab, "/env/override/keytab")

	if got := resolveKeytabPath("/config/path/keytab"); got != "/env/override/keytab" {
		t.Fatalf("expected /env/override/keytab, got %s", got)
	}
}

func TestResolveKeytabPath_FallbackToConfig(t *testing.T) {
	t.Setenv(EnvKeytab, "")

	if got := resolveKeytabPath("/config/path/keytab"); got != "/config/path/keytab" {
		t.Fatalf("expected /config/path/keytab, got %s", got)
	}
}

func TestResolveServicePrincipal_EnvVarOverride(t *testing.T) {
	t.Setenv(EnvPrincipal, "host/env.example.com@EXAMPLE.COM")

	if got := resolveServicePrincipal("host/config.example.com"); got != "host/env.example.com@EXAMPLE.COM" {
		t.Fatalf("expected env principal, got %s", got)
	}
}

func TestResolveKrb5ConfPath_NoDefault(t *testing.T) {
	t.Setenv(EnvKrb5Conf, "")

	if got := resolveKrb5ConfPath(""); got != "" {
		t.Fatalf("expected empty path, got %s", got)
	}

	t.Setenv(EnvKrb5Conf, "/env/krb5.conf")
	if got := resolveKrb5ConfPath("/config/krb5.conf"); got != "/env/krb5.conf" {
		t.Fatalf("expected /env/krb5.conf, got %s", got)
	}
}

func TestLoadKeytab(t *testing.T) {
	dir := t.TempDir()

	kt, err := loadKeytab(createTestKeytab(t, dir))
	if err != nil {
		t.Fatalf("loadKeytab failed: %v", err)
	}
	if len(kt.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(kt.Entries))
	}

	if _, err := loadKeytab(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for nonexistent file")
	}

	bad := filepath.Join(dir, "bad.keytab")
	if err := os.WriteFile(bad, []byte("not a keytab"), 0600); err != nil {
		t.Fatalf("write bad keytab: %v", err)
	}
	if _, err := loadKeytab(bad); err == nil {
		t.Fatal("expected error for invalid keytab data")
	}
}

func TestReloadKeytab_KeepsOldOnFailure(t *testing.T) {
	path := createTestKeytab(t, t.TempDir())

	p := &Provider{keytabPath: path}
	kt, err := loadKeytab(path)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	p.keytab = kt

	if err := os.WriteFile(path, []byte("invalid keytab data"), 0600); err != nil {
		t.Fatalf("write invalid keytab: %v", err)
	}
	if err := p.ReloadKeytab(); err == nil {
		t.Fatal("expected error for invalid keytab data during reload")
	}
	if p.Keytab() != kt {
		t.Fatal("expected old keytab to be preserved after failed reload")
	}
}

func TestKeytabManager_CheckAndReload(t *testing.T) {
	path := createTestKeytab(t, t.TempDir())

	p := &Provider{keytabPath: path}
	p.keytab, _ = loadKeytab(path)
	old := p.Keytab()

	// Not started: no background reload races the checks below.
	km := NewKeytabManager(path, time.Hour, p)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	km.lastMod = info.ModTime()

	if km.checkAndReload() {
		t.Fatal("unchanged file must not reload")
	}

	writeTestKeytab(t, path, map[uint8]string{1: "test-password", 2: "rotated"})
	bumpModTime(t, path)

	if !km.checkAndReload() {
		t.Fatal("expected reload after the file changed")
	}
	if p.Keytab() == old {
		t.Fatal("expected keytab to be swapped")
	}
	if len(p.Keytab().Entries) != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", len(p.Keytab().Entries))
	}
}

func TestKeytabManager_WatchPicksUpRename(t *testing.T) {
	dir := t.TempDir()
	path := createTestKeytab(t, dir)

	p := &Provider{keytabPath: path}
	p.keytab, _ = loadKeytab(path)
	old := p.Keytab()

	km := NewKeytabManager(path, time.Hour, p)
	if err := km.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer km.Stop()
	if km.watcher == nil {
		t.Skip("directory watch not available")
	}

	staged := writeTestKeytab(t, filepath.Join(dir, "staged.keytab"), map[uint8]string{1: "test-password", 2: "rotated"})
	bumpModTime(t, staged)
	if err := os.Rename(staged, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Keytab() == old {
		if time.Now().After(deadline) {
			t.Fatal("keytab was not reloaded after rename")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(p.Keytab().Entries) != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", len(p.Keytab().Entries))
	}
}

func TestKeytabManager_StopIsIdempotent(t *testing.T) {
	path := createTestKeytab(t, t.TempDir())
	p := &Provider{keytabPath: path}
	p.keytab, _ = loadKeytab(path)

	km := NewKeytabManager(path, 0, p)
	if km.interval != defaultReloadInterval {
		t.Fatalf("expected default interval, got %s", km.interval)
	}
	if err := km.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	km.Stop()
	km.Stop()

	never := NewKeytabManager(path, 0, p)
	never.Stop()
}

func TestKeytabManager_StartFailsForMissingFile(t *testing.T) {
	km := NewKeytabManager("/nonexistent", 0, &Provider{keytabPath: "/nonexistent"})
	if err := km.Start(); err == nil {
		t.Fatal("expected error for nonexistent keytab file")
	}
}
