package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	t.Setenv(EnvEnabled, "")
	require.NoError(t, Init(context.Background(), "nvg-test", "dev"))
	_, span := Tracer("").Start(context.Background(), "ignored")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, Shutdown(context.Background()))
}

func TestSpansGoToTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	t.Setenv(EnvEnabled, "true")
	t.Setenv(EnvTraceFile, path)
	t.Setenv(EnvStdout, "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	ctx := context.Background()
	require.NoError(t, Init(ctx, "nvg-test", "dev"))
	_, span := Tracer("").Start(ctx, "recovery.polling")
	span.End()
	require.NoError(t, Shutdown(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "recovery.polling")
}

func TestTraceFileMustBeWritable(t *testing.T) {
	t.Setenv(EnvEnabled, "true")
	t.Setenv(EnvTraceFile, filepath.Join(t.TempDir(), "missing", "trace.jsonl"))
	err := Init(context.Background(), "nvg-test", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening trace file")
}
