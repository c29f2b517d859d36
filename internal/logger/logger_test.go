package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer and restores the
// previous writer, level and format on cleanup.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	prevOutput, prevColor, prevFormat := output, useColor, format
	mu.Unlock()
	prevLevel := level.Level()

	InitWithWriter(buf, "", "text", false)

	t.Cleanup(func() {
		mu.Lock()
		output, useColor, format = prevOutput, prevColor, prevFormat
		rebuildLocked()
		mu.Unlock()
		level.Set(prevLevel)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "[DEBUG] debug message")
		assert.Contains(t, out, "[INFO] info message")
		assert.Contains(t, out, "[WARN] warn message")
		assert.Contains(t, out, "[ERROR] error message")
	})

	t.Run("WarnLevelFiltersInfo", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("WARN")

		Info("resolved mechanism")
		Warn("can't find a mechanism")

		out := buf.String()
		assert.NotContains(t, out, "resolved mechanism")
		assert.Contains(t, out, "can't find a mechanism")
	})

	t.Run("ErrorAlwaysLogged", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("ERROR")
		Error("authentication init failed")
		assert.Contains(t, buf.String(), "authentication init failed")
	})
}

func TestSetLevel(t *testing.T) {
	t.Run("CaseInsensitive", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("debug")
		Debug("test message")
		assert.Contains(t, buf.String(), "test message")
	})

	t.Run("IgnoresInvalidValues", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("INFO")
		SetLevel("INVALID")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})
}

func TestTextFormatAttributes(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("INFO")
	Warn("can't find a mechanism", KeyAuthType, "auth/missing", Err(errors.New("not found")))

	out := buf.String()
	assert.Contains(t, out, "auth_type=auth/missing")
	assert.Contains(t, out, `error="not found"`)
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("INFO")
	SetFormat("json")

	Info("mechanism resolved", AuthType("auth/none"), KeyResolved, 9)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "mechanism resolved", entry["msg"])
	assert.Equal(t, "auth/none", entry[KeyAuthType])
	assert.Equal(t, float64(9), entry[KeyResolved])
	assert.Contains(t, entry, "time")
}

func TestFormatSwitching(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("INFO")
	SetFormat("text")
	SetFormat("xml")
	Info("still text")
	assert.Contains(t, buf.String(), "[INFO] still text")

	buf.Reset()
	SetFormat("json")
	Info("now json")
	assert.True(t, json.Valid([]byte(strings.TrimSpace(buf.String()))))
}

func TestContextLogging(t *testing.T) {
	t.Run("LogContextInjectsFields", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("INFO")
		SetFormat("json")

		lc := NewLogContext("auth/jwt").WithOperation("verify").WithTrace("abc123", "xyz789")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "dispatch", "extra", "value")

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))

		assert.Equal(t, "abc123", entry[KeyTraceID])
		assert.Equal(t, "xyz789", entry[KeySpanID])
		assert.Equal(t, "auth/jwt", entry[KeyAuthType])
		assert.Equal(t, "verify", entry[KeyOperation])
		assert.Equal(t, "value", entry["extra"])
	})

	t.Run("NilContextHandled", func(t *testing.T) {
		buf := captureOutput(t)

		SetLevel("INFO")
		require.NotPanics(t, func() {
			//nolint:staticcheck // nil context is part of the contract under test
			WarnCtx(nil, "test message")
		})
		assert.Contains(t, buf.String(), "test message")
	})
}

func TestLogContext(t *testing.T) {
	lc := NewLogContext("auth/none")
	assert.Equal(t, "auth/none", lc.AuthType)
	assert.False(t, lc.StartTime.IsZero())
	assert.GreaterOrEqual(t, lc.DurationMs(), 0.0)

	op := lc.WithOperation("alloc")
	assert.Equal(t, "alloc", op.Operation)
	assert.Empty(t, lc.Operation)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Equal(t, 0.0, nilCtx.DurationMs())
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, KeyMechanism, Mechanism("auth/krb5").Key)
	assert.Equal(t, KeyPluginDir, PluginDir("/usr/lib").Key)
	assert.Equal(t, "", Err(nil).Key)
	assert.Equal(t, KeyError, Err(assert.AnError).Key)
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Info("concurrent", KeyCount, n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, strings.Count(buf.String(), "concurrent"))
}

func TestTextHandlerGroupsAndQuoting(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")

	With("component", "rack").WithGroup("plugin").Info("skipped",
		KeyPath, "/opt/my plugins/x.so",
		slog.Group("check", "owner", 0),
		"empty", "")

	out := buf.String()
	assert.Contains(t, out, "[INFO] skipped component=rack")
	assert.Contains(t, out, `plugin.path="/opt/my plugins/x.so"`)
	assert.Contains(t, out, "plugin.check.owner=0")
	assert.Contains(t, out, `plugin.empty=""`)
}

func TestTextHandlerColor(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, slog.LevelDebug, true)

	slog.New(h).Warn("rejected", Err(errors.New("expired")), KeyUID, 7)

	out := buf.String()
	assert.Contains(t, out, ansiYellow+"WARN"+ansiReset)
	assert.Contains(t, out, ansiRed+KeyError+ansiReset+"=expired")
	assert.Contains(t, out, ansiCyan+KeyUID+ansiReset+"=7")
}

func TestColorCapable(t *testing.T) {
	assert.False(t, colorCapable(new(bytes.Buffer)))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, colorCapable(os.Stdout))
}

func TestInit(t *testing.T) {
	captureOutput(t)

	t.Run("InitWithWriter", func(t *testing.T) {
		buf := new(bytes.Buffer)
		InitWithWriter(buf, "DEBUG", "text", false)

		Debug("test message")
		assert.Contains(t, buf.String(), "test message")
	})

	t.Run("InitWithLogFile", func(t *testing.T) {
		path := t.TempDir() + "/auth.log"
		require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
		Info("written to file")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")

		// Switching away closes the file.
		require.NoError(t, Init(Config{Output: "stderr"}))
		mu.Lock()
		assert.Nil(t, logFile)
		mu.Unlock()
	})

	t.Run("InitWithEmptyConfig", func(t *testing.T) {
		require.NoError(t, Init(Config{}))
	})

	t.Run("InitWithBadPath", func(t *testing.T) {
		require.Error(t, Init(Config{Output: t.TempDir() + "/missing/dir/auth.log"}))
	})
}
