//go:build (linux || darwin || freebsd) && cgo

package auth

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ConfiguredParanoiaRejectsWritablePlugin(t *testing.T) {
	var logs bytes.Buffer
	logger.InitWithWriter(&logs, "WARN", "text", false)
	t.Cleanup(func() { logger.InitWithWriter(os.Stderr, "INFO", "text", false) })

	dir := t.TempDir()
	evil := filepath.Join(dir, "evil.so")
	require.NoError(t, os.WriteFile(evil, []byte("not a plugin"), 0o600))
	require.NoError(t, os.Chmod(evil, 0o666))

	cfg := config.GetDefaultConfig()
	cfg.Auth.Type = "auth/evil"
	cfg.Auth.PluginDir = dir
	cfg.Auth.Paranoia = []string{"file_writable"}
	setupGlobal(t, config.NewStaticProvider(cfg), nil)

	require.ErrorIs(t, Init(context.Background()), ErrMechanismNotFound)
	assert.Contains(t, logs.String(), "evil.so is writable by group or others")
	assert.NotContains(t, logs.String(), "open plugin")
}
