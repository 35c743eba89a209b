package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "bootgate", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	ctx, span := StartSpan(ctx, "noop")
	defer span.End()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, Environ(ctx))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { setTracer(nil, false) })
	return rec
}

func TestStageSpan(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartStageSpan(context.Background(), "migrate", RunID("r-1"))
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, SpanStage+".migrate", ended[0].Name())
	assert.Equal(t, "Error", ended[0].Status().Code.String())
	assert.Contains(t, ended[0].Attributes(), Stage("migrate"))
	assert.Contains(t, ended[0].Attributes(), RunID("r-1"))
}

func TestMigrationSpan(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartMigrationSpan(context.Background(), 3, "add_indexes", DBSystem("postgres"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, SpanMigration, ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), MigrationVersion(3))
}

func TestRecordErrorNil(t *testing.T) {
	assert.NotPanics(t, func() { RecordError(context.Background(), nil) })
}

func TestEnvironRoundTrip(t *testing.T) {
	withRecorder(t)

	ctx, span := StartSpan(context.Background(), "parent")
	defer span.End()

	env := Environ(ctx)
	require.NotEmpty(t, env)

	vars := map[string]string{}
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok)
		vars[k] = v
	}
	require.Contains(t, vars, EnvTraceParent)

	child := FromEnv(context.Background(), func(name string) string { return vars[name] })
	childCtx, childSpan := StartSpan(child, "child")
	defer childSpan.End()

	assert.Equal(t, TraceID(ctx), TraceID(childCtx), "child joins the parent's trace")
	assert.NotEqual(t, SpanID(ctx), SpanID(childCtx))
}

func TestFromEnvWithoutVariables(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, FromEnv(ctx, func(string) string { return "" }))
}
