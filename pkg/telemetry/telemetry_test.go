package telemetry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	ret := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			ret[m.Name] = m
		}
	}
	return ret
}

func sumOf(m metricdata.Metrics) int64 {
	var ret int64
	if s, ok := m.Data.(metricdata.Sum[int64]); ok {
		for _, dp := range s.DataPoints {
			ret += dp.Value
		}
	}
	return ret
}

func TestGenerationRecordsMetricsAndSpan(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	tel, err := New(tp, mp)
	require.NoError(t, err)

	ctx := context.Background()
	_, g := tel.StartGeneration(ctx, "c1", "gpt-4")
	g.End(ctx, OutcomeCompleted, 3, "", nil)

	_, g = tel.StartGeneration(ctx, "c2", "gpt-4")
	g.End(ctx, OutcomeFailed, 1, "rate-limited", errors.New("429"))

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(metrics["codechat.generations"]))
	assert.Equal(t, int64(4), sumOf(metrics["codechat.stream.deltas"]))
	assert.Equal(t, int64(1), sumOf(metrics["codechat.errors"]))
	assert.Equal(t, int64(0), sumOf(metrics["codechat.generations.active"]))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "codechat.generation", spans[0].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestNopAndDisabledSetup(t *testing.T) {
	tel := Nop()
	ctx, g := tel.StartGeneration(context.Background(), "c1", "gpt-4")
	g.End(ctx, OutcomeCancelled, 0, "", nil)

	tel, cleanup, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, tel)
	cleanup()
}
