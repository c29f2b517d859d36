package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

const textTimeLayout = "2006-01-02 15:04:05.000"

// ColorTextHandler writes one line per record:
//
//	[2024-05-01 12:00:00.000] [WARN] message key=value group.key="quoted value"
//
// The error key is highlighted when colors are enabled.
type ColorTextHandler struct {
	level    slog.Leveler
	w        io.Writer
	mu       *sync.Mutex
	prefix   []byte // rendered attrs from WithAttrs
	group    string // dotted group prefix for subsequent keys
	useColor bool
}

// NewColorTextHandler creates a handler. A nil level means INFO.
func NewColorTextHandler(w io.Writer, level slog.Leveler, useColor bool) *ColorTextHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ColorTextHandler{level: level, w: w, mu: &sync.Mutex{}, useColor: useColor}
}

func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, textTimeLayout)
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.prefix...)

	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.group, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) appendLevel(buf []byte, level slog.Level) []byte {
	name, color := "ERROR", ansiRed
	switch {
	case level < slog.LevelInfo:
		name, color = "DEBUG", ansiGray
	case level < slog.LevelWarn:
		name, color = "INFO", ansiGreen
	case level < slog.LevelError:
		name, color = "WARN", ansiYellow
	}
	if !h.useColor {
		return append(buf, name...)
	}
	return append(append(append(buf, color...), name...), ansiReset...)
}

func (h *ColorTextHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		inner := group
		if a.Key != "" {
			inner = joinKey(group, a.Key)
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, inner, ga)
		}
		return buf
	}

	key := joinKey(group, a.Key)
	buf = append(buf, ' ')
	switch {
	case !h.useColor:
		buf = append(buf, key...)
	case a.Key == KeyError:
		buf = append(append(append(buf, ansiRed...), key...), ansiReset...)
	default:
		buf = append(append(append(buf, ansiCyan...), key...), ansiReset...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return appendString(buf, v.String())
	}
}

// appendString quotes values that would otherwise be ambiguous on the line.
func appendString(buf []byte, s string) []byte {
	if s == "" || strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuote(r rune) bool {
	return r == '"' || r == '=' || unicode.IsSpace(r) || !unicode.IsPrint(r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.prefix = append([]byte(nil), h.prefix...)
	for _, a := range attrs {
		clone.prefix = h.appendAttr(clone.prefix, h.group, a)
	}
	return &clone
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = joinKey(h.group, name)
	return &clone
}
