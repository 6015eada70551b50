package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingExportsSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp, err := InitTracing(ctx, Config{
		ServiceName: "edital-crawler",
		Version:     "test",
		SampleRatio: 1,
		Exporter:    exporter,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "pipeline.source")
	assert.True(t, span.IsRecording())
	span.End()
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.source", spans[0].Name)
	require.NoError(t, tp.Shutdown(ctx))
}

func TestInitTracingZeroRatioDropsSpans(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, Config{ServiceName: "edital-crawler", SampleRatio: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := tp.Tracer("test").Start(ctx, "ignored")
	assert.False(t, span.IsRecording())
	span.End()
}
