package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/gxo-labs/ruleflow/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderFromEnvWithoutEndpointIsNoOp(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")

	tp, err := NewProviderFromEnv(context.Background(), logger.NewNopLogger())
	require.NoError(t, err)
	assert.True(t, tp.IsNoOp())
	assert.NotNil(t, tp.GetTracer("test"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewProviderFromEnvDisabled(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	tp, err := NewProviderFromEnv(context.Background(), logger.NewNopLogger())
	require.NoError(t, err)
	assert.True(t, tp.IsNoOp())
}

func TestNewProviderFromEnvUnsupportedProtocol(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "carrier-pigeon")

	_, err := NewProviderFromEnv(context.Background(), logger.NewNopLogger())
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" api-key = abc ,bad, x=1=2")
	assert.Equal(t, map[string]string{"api-key": "abc", "x": "1=2"}, got)
	assert.Empty(t, parseHeaders(""))
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, parseTimeout("1500", time.Second))
	assert.Equal(t, 2*time.Second, parseTimeout("2s", time.Second))
	assert.Equal(t, time.Second, parseTimeout("soon", time.Second))
	assert.Equal(t, time.Second, parseTimeout("-5", time.Second))
}
