// Package observability provides the control plane's own operational
// metrics and a lightweight in-process span tracer for its tick
// lifecycles (forecast → decide → act → publish). This is the ambient
// observability layer a production daemon carries regardless of the
// feature scope of the control loops themselves.
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Trace Spans — lightweight span tracking without an external OTel SDK ──

// SpanKind classifies a span.
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanServer
	SpanClient
)

// Span represents a unit of work within a trace.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success or failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Tracer is a ring-buffered, in-process span recorder for the two
// control loops' tick lifecycles — not a replacement for a real
// OpenTelemetry exporter, just enough to hold recent tick behaviour in
// memory without standing up a collector. No HTTP endpoint exposes
// its spans.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{Enabled: true, MaxSpans: 2_000}
}

// NewTracer creates a tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = 2_000
	}
	return &Tracer{spans: make([]Span, 0, cfg.MaxSpans), maxSpans: cfg.MaxSpans, enabled: cfg.Enabled}
}

// StartSpan begins a new span with the given operation name. The
// caller must call EndSpan when done.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		Kind:      SpanInternal,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, newest last.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

type contextKey string

const (
	traceIDKey contextKey = "dslb-trace-id"
	spanIDKey  contextKey = "dslb-span-id"
)

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context carrying the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ─── Prometheus metrics — the control plane's own operational signals ──────

// ScalingTickDuration tracks how long each scaling-loop tick takes.
var ScalingTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dslb_eesm",
	Subsystem: "scaling",
	Name:      "tick_duration_seconds",
	Help:      "Duration of one Server-Scaling Controller tick.",
	Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 90},
})

// ScaleEvents tracks power state changes by phase and direction.
var ScaleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dslb_eesm",
	Subsystem: "scaling",
	Name:      "scale_events_total",
	Help:      "Total power state changes by phase (proactive/reactive) and direction (up/down).",
}, []string{"phase", "direction"})

// HealEvents tracks health/heal/replace outcomes.
var HealEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dslb_eesm",
	Subsystem: "scaling",
	Name:      "heal_events_total",
	Help:      "Total heal-sequence outcomes by result (recovered/replaced/no_replacement).",
}, []string{"result"})

// ActiveServers tracks the current size of the active-serving set.
var ActiveServers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "dslb_eesm",
	Subsystem: "scaling",
	Name:      "active_servers",
	Help:      "Current number of active, non-draining servers.",
})

// PathWeightTickDuration tracks how long each path-weight publish
// cycle takes.
var PathWeightTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dslb_eesm",
	Subsystem: "pathweight",
	Name:      "tick_duration_seconds",
	Help:      "Duration of one Path-Weight Controller tick.",
	Buckets:   []float64{.01, .05, .1, .5, 1, 5},
})

// PublicationFailures tracks publish/copy failures by stage.
var PublicationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dslb_eesm",
	Subsystem: "pathweight",
	Name:      "publication_failures_total",
	Help:      "Total path-weight publication failures by stage (write/copy).",
}, []string{"stage"})

// ForecastAccuracy tracks the traffic forecaster's rolling SMAPE.
var ForecastAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "dslb_eesm",
	Subsystem: "forecast",
	Name:      "traffic_smape_pct",
	Help:      "Rolling symmetric mean absolute percentage error of the traffic forecaster.",
})

// AlertsRaised tracks alerts raised by category and severity.
var AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dslb_eesm",
	Subsystem: "alerts",
	Name:      "raised_total",
	Help:      "Total alerts raised by category and severity.",
}, []string{"category", "severity"})
