package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so resolution and dispatch logs can be queried
// across mechanisms.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Mechanism selection
	KeyAuthType  = "auth_type"  // Configured mechanism type (auth/none, auth/jwt, ...)
	KeyPluginDir = "plugin_dir" // Directory scanned for mechanism modules
	KeyMechanism = "mechanism"  // Mechanism type that owns a credential
	KeySource    = "source"     // Module loader that provided a mechanism
	KeyPath      = "path"       // Module file path
	KeySymbol    = "symbol"     // Operation symbol name
	KeyResolved  = "resolved"   // Number of operations resolved

	// Dispatch
	KeyOperation = "operation" // Operation name (alloc, verify, ...)
	KeyTTL       = "ttl"       // Activation validity in seconds
	KeyUID       = "uid"
	KeyGID       = "gid"
	KeyPrincipal = "principal" // Kerberos principal

	// Outcome
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
)

// AuthType returns a slog.Attr for the configured mechanism type.
func AuthType(t string) slog.Attr {
	return slog.String(KeyAuthType, t)
}

// PluginDir returns a slog.Attr for the plugin search directory.
func PluginDir(dir string) slog.Attr {
	return slog.String(KeyPluginDir, dir)
}

// Mechanism returns a slog.Attr for a mechanism type.
func Mechanism(t string) slog.Attr {
	return slog.String(KeyMechanism, t)
}

// Operation returns a slog.Attr for an operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// UID returns a slog.Attr for a user ID.
func UID(uid uint32) slog.Attr {
	return slog.Any(KeyUID, uid)
}

// GID returns a slog.Attr for a group ID.
func GID(gid uint32) slog.Attr {
	return slog.Any(KeyGID, gid)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
