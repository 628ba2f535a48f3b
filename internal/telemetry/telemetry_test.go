package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/breatheroute/navcore/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "navcore-test",
		Environment:  "test",
		OTLPEndpoint: "localhost:4317",
	})
	require.NoError(t, err)

	_, span := provider.TracerProvider().Tracer("test").Start(ctx, "reroute")
	assert.False(t, span.SpanContext().IsValid(), "disabled tracing records nothing")
	span.End()

	counter, err := provider.MeterProvider().Meter("test").Int64Counter("navigation.fixes.accepted")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_ZeroValue(t *testing.T) {
	var provider telemetry.Provider
	assert.NotNil(t, provider.TracerProvider())
	assert.NotNil(t, provider.MeterProvider())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{ratio: 0, want: "AlwaysOnSampler"},
		{ratio: 1, want: "AlwaysOnSampler"},
		{ratio: 0.25, want: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		desc := telemetry.Sampler(tt.ratio).Description()
		assert.True(t, strings.HasPrefix(desc, "ParentBased{"), desc)
		assert.Contains(t, desc, "root:"+tt.want)
	}
}

func TestTraceHook(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "reroute")
	defer span.End()

	var buf bytes.Buffer
	log := zerolog.New(&buf).Hook(telemetry.TraceHook{})

	log.Info().Ctx(ctx).Msg("with span")
	log.Info().Msg("without context")
	log.Info().Ctx(context.Background()).Msg("without span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, span.SpanContext().TraceID().String(), first["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), first["span_id"])
	assert.NotContains(t, lines[1], "trace_id")
	assert.NotContains(t, lines[2], "trace_id")
}
