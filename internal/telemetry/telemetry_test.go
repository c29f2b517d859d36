package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittoauth", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{SampleRate: 3}.withDefaults()
	assert.Equal(t, DefaultServiceName, cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)

	cfg = Config{ServiceName: "verifier", SampleRate: -1}.withDefaults()
	assert.Equal(t, "verifier", cfg.ServiceName)
	assert.Equal(t, 0.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	t.Cleanup(reset)
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	reset()
	require.NotNil(t, Tracer())
}

func TestStartAuthSpan(t *testing.T) {
	reset()
	ctx, span := StartAuthSpan(context.Background(), SpanAuthResolve, "auth/none", PluginDir("/tmp"))
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	// No-op spans carry no IDs.
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	AddEvent(ctx, "bound", Resolved(9))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	SetAttributes(ctx, UID(0), GID(0))
	span.End()
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name string
		kv   attribute.KeyValue
		key  string
	}{
		{"AuthType", AuthType("auth/jwt"), AttrAuthType},
		{"PluginDir", PluginDir("/usr/local/lib/dittoauth"), AttrPluginDir},
		{"Source", Source("builtin"), AttrSource},
		{"Operation", Operation("auth_verify"), AttrOperation},
		{"Resolved", Resolved(9), AttrResolved},
		{"UID", UID(1000), AttrUID},
		{"GID", GID(1000), AttrGID},
		{"TTL", TTL(300), AttrTTLSeconds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, string(tt.kv.Key))
			assert.True(t, tt.kv.Valid())
		})
	}

	assert.Equal(t, int64(1000), UID(1000).Value.AsInt64())
	assert.Equal(t, "auth/jwt", AuthType("auth/jwt").Value.AsString())
}
