package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func TestRunAndTickSpans(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	tracer := tp.Tracer(TracerName)

	ctx, run := StartRunSpan(context.Background(), tracer, RunInfo{RunID: "run-1", StepLength: 0.4, RunTime: 2})
	_, tick := StartTickSpan(ctx, tracer, 0.4, 1)
	EndTickSpan(tick, 3, 10)
	RecordRunError(run, fmt.Errorf("tick: %w", errors.New("boom")))
	run.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	tickSpan, runSpan := spans[0], spans[1]
	if tickSpan.Name() != "simulation.tick" || runSpan.Name() != "simulation.run" {
		t.Fatalf("span names = %q, %q", tickSpan.Name(), runSpan.Name())
	}
	if tickSpan.Parent().SpanID() != runSpan.SpanContext().SpanID() {
		t.Fatalf("tick span is not a child of the run span")
	}
	attrs := map[string]any{}
	for _, kv := range tickSpan.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["sim.steps"] != int64(3) || attrs["sim.agents"] != int64(10) || attrs["sim.step"] != int64(1) {
		t.Fatalf("tick attributes = %v", attrs)
	}
	if runSpan.Status().Code != otelcodes.Error {
		t.Fatalf("run status = %v, want Error", runSpan.Status())
	}
}

func TestRecordRunErrorIgnoresCancellation(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	_, span := StartRunSpan(context.Background(), tp.Tracer(TracerName), RunInfo{RunID: "run-2"})
	RecordRunError(span, fmt.Errorf("run: %w", context.Canceled))
	RecordRunError(span, nil)
	span.End()

	got := rec.Ended()[0]
	if got.Status().Code != otelcodes.Unset || len(got.Events()) != 0 {
		t.Fatalf("cancelled run recorded as failure: %v %v", got.Status(), got.Events())
	}
}

func TestTickSpansCanBeDisabled(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	tickSpans.Store(false)
	t.Cleanup(func() { tickSpans.Store(true) })

	ctx := context.Background()
	got, span := StartTickSpan(ctx, tp.Tracer(TracerName), 1.2, 3)
	EndTickSpan(span, 1, 1)
	if got != ctx || span.IsRecording() {
		t.Fatalf("disabled tick span must be a no-op")
	}
	if n := len(rec.Ended()); n != 0 {
		t.Fatalf("ended spans = %d, want 0", n)
	}

	t.Setenv("SIM_TRACING_TICK_SPANS", "false")
	if TracingConfigFromEnv().TickSpans {
		t.Fatalf("SIM_TRACING_TICK_SPANS=false not honoured")
	}
}
