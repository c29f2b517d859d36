// Package logger is the process-wide structured logger, a thin layer over
// log/slog with a colored text handler and a JSON handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	level  = new(slog.LevelVar) // shared by every handler generation
	active atomic.Pointer[slog.Logger]

	mu       sync.Mutex // guards the fields below and handler rebuilds
	format   = "text"
	output   io.Writer = os.Stdout
	useColor bool
	logFile  *os.File // opened by Init, closed when replaced
)

func init() {
	useColor = colorCapable(output)
	rebuildLocked()
}

// rebuildLocked installs a handler for the current format, output and color
// setting. Callers hold mu.
func rebuildLocked() {
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	} else {
		h = NewColorTextHandler(output, level, useColor)
	}
	active.Store(slog.New(h))
}

func setOutputLocked(w io.Writer, color bool) {
	if logFile != nil && w != io.Writer(logFile) {
		_ = logFile.Close()
		logFile = nil
	}
	output = w
	useColor = color
}

// Init configures the logger. Empty fields keep their current value.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "":
	case "stdout":
		setOutputLocked(os.Stdout, colorCapable(os.Stdout))
	case "stderr":
		setOutputLocked(os.Stderr, colorCapable(os.Stderr))
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		setOutputLocked(f, false)
		logFile = f
	}

	if cfg.Level != "" {
		setLevel(cfg.Level)
	}
	if f, ok := parseFormat(cfg.Format); ok {
		format = f
	}
	rebuildLocked()
	return nil
}

// InitWithWriter sends log output to w. Mostly useful in tests.
func InitWithWriter(w io.Writer, lvl, f string, enableColor bool) {
	mu.Lock()
	defer mu.Unlock()

	setOutputLocked(w, enableColor)
	if lvl != "" {
		setLevel(lvl)
	}
	if parsed, ok := parseFormat(f); ok {
		format = parsed
	}
	rebuildLocked()
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(lvl string) {
	setLevel(lvl)
}

func setLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		level.Set(slog.LevelDebug)
	case "INFO":
		level.Set(slog.LevelInfo)
	case "WARN", "WARNING":
		level.Set(slog.LevelWarn)
	case "ERROR":
		level.Set(slog.LevelError)
	}
}

// SetFormat switches between text and json. Unknown formats are ignored.
func SetFormat(f string) {
	parsed, ok := parseFormat(f)
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	format = parsed
	rebuildLocked()
}

func parseFormat(f string) (string, bool) {
	switch f = strings.ToLower(f); f {
	case "text", "json":
		return f, true
	}
	return "", false
}

func enabled(l slog.Level) bool {
	return l >= level.Level()
}

func log(ctx context.Context, l slog.Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	if ctx != nil {
		args = appendContextFields(ctx, args)
	} else {
		ctx = context.Background()
	}
	active.Load().Log(ctx, l, msg, args...)
}

// Debug logs at debug level with key/value pairs or slog.Attr values.
func Debug(msg string, args ...any) { log(nil, slog.LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { log(nil, slog.LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { log(nil, slog.LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { log(nil, slog.LevelError, msg, args) }

// DebugCtx logs at debug level, adding the LogContext fields carried by ctx
// (trace_id, span_id, auth_type, operation).
func DebugCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	log(ctx, slog.LevelError, msg, args)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 8+len(args))
	for _, kv := range [...][2]string{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyAuthType, lc.AuthType},
		{KeyOperation, lc.Operation},
	} {
		if kv[1] != "" {
			fields = append(fields, kv[0], kv[1])
		}
	}
	return append(fields, args...)
}

// With returns a logger with pre-bound attributes. It keeps the handler in
// place when it was created; later format changes do not affect it.
func With(args ...any) *slog.Logger {
	return active.Load().With(args...)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
