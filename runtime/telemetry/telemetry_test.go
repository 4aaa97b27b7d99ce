package telemetry_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"

	"goa.design/runstream/runtime/telemetry"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	logger := telemetry.NewNoopLogger()
	logger.Debug(ctx, "debug", "k", "v")
	logger.Info(ctx, "info", "k", "v")
	logger.Warn(ctx, "warn", "k", "v")
	logger.Error(ctx, "error", "err", errors.New("boom"))

	metrics := telemetry.NewNoopMetrics()
	metrics.IncCounter(telemetry.MetricEventsEmitted, 1, "type", "values")
	metrics.RecordTimer(telemetry.MetricEmitDuration, time.Millisecond)
	metrics.RecordGauge(telemetry.MetricSSEConnections, 3)

	tracer := telemetry.NewNoopTracer()
	newCtx, span := tracer.Start(ctx, "op")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.AddEvent("evt", "k", "v")
	span.SetStatus(codes.Ok, "ok")
	span.RecordError(errors.New("boom"))
	span.End()
	require.NotNil(t, tracer.Span(ctx))
}

func TestClueLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))

	logger := telemetry.NewClueLogger()
	logger.Info(ctx, "event emitted", "run_id", "run-7", "seq", int64(3))

	out := buf.String()
	assert.Contains(t, out, "event emitted")
	assert.Contains(t, out, "run-7")
}

func TestClueInstrumentsDoNotPanic(t *testing.T) {
	ctx := context.Background()

	metrics := telemetry.NewClueMetrics()
	metrics.IncCounter(telemetry.MetricEventsEmitted, 1, "type", "values")
	metrics.IncCounter(telemetry.MetricEventsEmitted, 1, "type", "values", "dangling")
	metrics.RecordTimer(telemetry.MetricEmitDuration, 5*time.Millisecond)
	metrics.RecordGauge(telemetry.MetricSSEConnections, 1)

	tracer := telemetry.NewClueTracer()
	ctx, span := tracer.Start(ctx, "runstream.emit")
	span.AddEvent("appended", "seq", int64(1), "ok", true, "other", struct{}{})
	span.SetStatus(codes.Ok, "")
	span.End()
	require.NotNil(t, tracer.Span(ctx))
}
