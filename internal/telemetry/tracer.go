package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for authentication spans.
const (
	AttrAuthType   = "auth.type"
	AttrPluginDir  = "auth.plugin_dir"
	AttrSource     = "auth.loader"
	AttrOperation  = "auth.operation"
	AttrResolved   = "auth.resolved_ops"
	AttrUID        = "user.uid"
	AttrGID        = "user.gid"
	AttrTTLSeconds = "auth.ttl_seconds"
)

// Span names. Format: <component>.<operation>
const (
	SpanAuthInit     = "auth.init"
	SpanAuthResolve  = "auth.resolve"
	SpanAuthDestroy  = "auth.destroy"
	SpanRackScan     = "rack.scan"
	SpanCredIssue    = "cred.issue"
	SpanCredValidate = "cred.verify"
)

// AuthType creates an auth type attribute.
func AuthType(typ string) attribute.KeyValue {
	return attribute.String(AttrAuthType, typ)
}

// PluginDir creates a plugin directory attribute.
func PluginDir(dir string) attribute.KeyValue {
	return attribute.String(AttrPluginDir, dir)
}

// Source creates a module loader attribute.
func Source(name string) attribute.KeyValue {
	return attribute.String(AttrSource, name)
}

// Operation creates an operation name attribute.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Resolved creates an attribute with the number of bound operations.
func Resolved(n int) attribute.KeyValue {
	return attribute.Int(AttrResolved, n)
}

// UID creates a user ID attribute.
func UID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrUID, int64(uid))
}

// GID creates a group ID attribute.
func GID(gid uint32) attribute.KeyValue {
	return attribute.Int64(AttrGID, int64(gid))
}

// TTL creates a credential lifetime attribute.
func TTL(seconds int) attribute.KeyValue {
	return attribute.Int(AttrTTLSeconds, seconds)
}

// StartAuthSpan starts a span for an auth context operation.
func StartAuthSpan(ctx context.Context, name string, authType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{AuthType(authType)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
