package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTracerStartEndRecordsSpan(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	ctx := context.Background()

	span := tr.StartSpan(ctx, "scaling.tick", map[string]string{"phase": "A"})
	tr.EndSpan(span, nil)

	if tr.SpanCount() != 1 {
		t.Fatalf("SpanCount() = %d, want 1", tr.SpanCount())
	}
	spans := tr.Spans(1)
	if spans[0].Operation != "scaling.tick" {
		t.Errorf("Operation = %q, want %q", spans[0].Operation, "scaling.tick")
	}
	if spans[0].Status != SpanOK {
		t.Errorf("Status = %d, want SpanOK", spans[0].Status)
	}
	if spans[0].Attrs["phase"] != "A" {
		t.Errorf("Attrs[phase] = %q, want %q", spans[0].Attrs["phase"], "A")
	}
}

func TestTracerEndSpanRecordsError(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	span := tr.StartSpan(context.Background(), "pathweight.publish", nil)
	tr.EndSpan(span, errors.New("remote copy failed"))

	spans := tr.Spans(1)
	if spans[0].Status != SpanError {
		t.Errorf("Status = %d, want SpanError", spans[0].Status)
	}
	if spans[0].Attrs["error"] != "remote copy failed" {
		t.Errorf("error attr = %q", spans[0].Attrs["error"])
	}
}

func TestTracerDisabled(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: false, MaxSpans: 100})
	span := tr.StartSpan(context.Background(), "noop", nil)
	tr.EndSpan(span, nil)
	if tr.SpanCount() != 0 {
		t.Errorf("disabled tracer SpanCount() = %d, want 0", tr.SpanCount())
	}
}

func TestTracerRingBufferOverflow(t *testing.T) {
	tr := NewTracer(TracerConfig{Enabled: true, MaxSpans: 3})
	for i := 0; i < 5; i++ {
		span := tr.StartSpan(context.Background(), "op", nil)
		tr.EndSpan(span, nil)
	}
	if tr.SpanCount() != 3 {
		t.Errorf("SpanCount() = %d, want 3 (ring buffer overflow)", tr.SpanCount())
	}
}

func TestTracerSpansZeroLimitReturnsAll(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	for i := 0; i < 5; i++ {
		span := tr.StartSpan(context.Background(), "op", nil)
		tr.EndSpan(span, nil)
	}
	if spans := tr.Spans(0); len(spans) != 5 {
		t.Errorf("Spans(0) returned %d, want all 5", len(spans))
	}
}

func TestTracerReset(t *testing.T) {
	tr := NewTracer(DefaultTracerConfig())
	span := tr.StartSpan(context.Background(), "op", nil)
	tr.EndSpan(span, nil)
	tr.Reset()
	if tr.SpanCount() != 0 {
		t.Errorf("SpanCount() after Reset = %d, want 0", tr.SpanCount())
	}
}

func TestTracerContextPropagation(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = WithSpanID(ctx, "span-123")

	tr := NewTracer(DefaultTracerConfig())
	span := tr.StartSpan(ctx, "child-op", nil)
	tr.EndSpan(span, nil)

	spans := tr.Spans(1)
	if spans[0].TraceID != "trace-abc" {
		t.Errorf("TraceID = %q, want %q", spans[0].TraceID, "trace-abc")
	}
	if spans[0].ParentID != "span-123" {
		t.Errorf("ParentID = %q, want %q", spans[0].ParentID, "span-123")
	}
}

func TestScaleEventsIncrementsByLabel(t *testing.T) {
	ScaleEvents.Reset()
	ScaleEvents.WithLabelValues("proactive", "up").Inc()
	ScaleEvents.WithLabelValues("proactive", "up").Inc()
	ScaleEvents.WithLabelValues("reactive", "down").Inc()

	if got := testutil.ToFloat64(ScaleEvents.WithLabelValues("proactive", "up")); got != 2 {
		t.Errorf("proactive/up count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ScaleEvents.WithLabelValues("reactive", "down")); got != 1 {
		t.Errorf("reactive/down count = %v, want 1", got)
	}
}
