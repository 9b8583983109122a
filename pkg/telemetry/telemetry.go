// Package telemetry records traces and metrics for generations.
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/natefinch/lumberjack.v2"
)

const instrumentationName = "github.com/aj-archipelago/vscode-chatgpt-reborn"

// Outcome is how a generation ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

type Telemetry struct {
	tracer      trace.Tracer
	generations metric.Int64Counter
	deltas      metric.Int64Counter
	failures    metric.Int64Counter
	active      metric.Int64UpDownCounter
	duration    metric.Float64Histogram
}

func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	ret := &Telemetry{
		tracer: tp.Tracer(instrumentationName),
	}

	var err error
	ret.generations, err = meter.Int64Counter("codechat.generations",
		metric.WithDescription("Finished generations by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create generations counter")
	}
	ret.deltas, err = meter.Int64Counter("codechat.stream.deltas",
		metric.WithDescription("Streamed deltas received from the provider"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create deltas counter")
	}
	ret.failures, err = meter.Int64Counter("codechat.errors",
		metric.WithDescription("Classified generation failures"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create errors counter")
	}
	ret.active, err = meter.Int64UpDownCounter("codechat.generations.active",
		metric.WithDescription("Generations currently streaming"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create active counter")
	}
	ret.duration, err = meter.Float64Histogram("codechat.generation.duration",
		metric.WithDescription("Generation wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, errors.Wrap(err, "could not create duration histogram")
	}

	return ret, nil
}

// Nop records nothing.
func Nop() *Telemetry {
	ret, err := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		// noop instruments cannot fail
		panic(err)
	}
	return ret
}

// Generation is the span and bookkeeping of one request/response cycle.
type Generation struct {
	t       *Telemetry
	span    trace.Span
	attrs   []attribute.KeyValue
	started time.Time
}

func (t *Telemetry) StartGeneration(ctx context.Context, conversationID string, model string) (context.Context, *Generation) {
	attrs := []attribute.KeyValue{
		attribute.String("codechat.model", model),
	}
	ctx, span := t.tracer.Start(ctx, "codechat.generation",
		trace.WithAttributes(append(attrs, attribute.String("codechat.conversation_id", conversationID))...))
	t.active.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, &Generation{
		t:       t,
		span:    span,
		attrs:   attrs,
		started: time.Now(),
	}
}

// End closes the span. kind is the error classification for failures and
// empty otherwise.
func (g *Generation) End(ctx context.Context, outcome Outcome, deltas int, kind string, err error) {
	attrs := append([]attribute.KeyValue{attribute.String("codechat.outcome", string(outcome))}, g.attrs...)

	g.t.active.Add(ctx, -1, metric.WithAttributes(g.attrs...))
	g.t.generations.Add(ctx, 1, metric.WithAttributes(attrs...))
	g.t.deltas.Add(ctx, int64(deltas), metric.WithAttributes(g.attrs...))
	g.t.duration.Record(ctx, time.Since(g.started).Seconds(), metric.WithAttributes(attrs...))

	g.span.SetAttributes(attribute.String("codechat.outcome", string(outcome)), attribute.Int("codechat.deltas", deltas))
	if outcome == OutcomeFailed {
		g.t.failures.Add(ctx, 1, metric.WithAttributes(append(g.attrs, attribute.String("codechat.error_kind", kind))...))
		if err != nil {
			g.span.RecordError(err)
		}
		g.span.SetStatus(codes.Error, kind)
	}
	g.span.End()
}

type Config struct {
	// Dir receives rotating trace and metric files. Empty disables export.
	Dir            string
	ExportInterval time.Duration
	ServiceVersion string
}

// Setup wires stdout exporters writing to rotating files in config.Dir. The
// returned function flushes and closes everything.
func Setup(ctx context.Context, config Config) (*Telemetry, func(), error) {
	if config.Dir == "" {
		return Nop(), func() {}, nil
	}
	if config.ExportInterval <= 0 {
		config.ExportInterval = 10 * time.Second
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, nil, errors.Wrap(err, "could not create telemetry directory")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("codechat"),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create resource")
	}

	traceFile := &lumberjack.Logger{
		Filename:   filepath.Join(config.Dir, "codechat_traces.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28,
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricsFile := &lumberjack.Logger{
		Filename:   filepath.Join(config.Dir, "codechat_metrics.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create metric exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(config.ExportInterval)),
		),
		sdkmetric.WithResource(res),
	)

	t, err := New(tp, mp)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown meter provider")
		}
		_ = traceFile.Close()
		_ = metricsFile.Close()
	}

	return t, cleanup, nil
}
