package tracer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTelMirror forwards chain spans onto a real OpenTelemetry tracer so a
// host with an OTLP pipeline configured sees tool invocations alongside
// its HTTP spans. It is a best-effort mirror: chain spans remain the
// source of truth for timelines and exports.
type OTelMirror struct {
	tracer oteltrace.Tracer

	mu   sync.Mutex
	open map[string]oteltrace.Span  // chain span id → live otel span
	ctxs map[string]context.Context // chain span id → context carrying that span
}

// NewOTelMirror creates a mirror using the globally registered tracer
// provider.
func NewOTelMirror() *OTelMirror {
	return &OTelMirror{
		tracer: otel.Tracer("chainplane/tracer"),
		open:   make(map[string]oteltrace.Span),
		ctxs:   make(map[string]context.Context),
	}
}

// SpanStarted opens a mirrored otel span, parented under the mirrored
// parent when one is still open.
func (m *OTelMirror) SpanStarted(s Span) {
	m.mu.Lock()
	parentCtx, ok := m.ctxs[s.ParentSpanID]
	m.mu.Unlock()
	if !ok {
		parentCtx = context.Background()
	}

	ctx, span := m.tracer.Start(parentCtx, s.ToolName,
		oteltrace.WithTimestamp(s.StartTime),
		oteltrace.WithAttributes(
			attribute.String("chain.correlation_id", s.CorrelationID),
			attribute.String("tool.name", s.ToolName),
			attribute.Int("tool.depth", s.Depth),
			attribute.String("tool.input_hash", s.InputHash),
		),
	)

	m.mu.Lock()
	m.open[s.SpanID] = span
	m.ctxs[s.SpanID] = ctx
	m.mu.Unlock()
}

// SpanEnded closes the mirrored otel span, recording the outcome.
func (m *OTelMirror) SpanEnded(s Span) {
	m.mu.Lock()
	span, ok := m.open[s.SpanID]
	delete(m.open, s.SpanID)
	delete(m.ctxs, s.SpanID)
	m.mu.Unlock()
	if !ok {
		return
	}

	if s.Status == SpanError {
		span.SetStatus(codes.Error, s.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if s.EndTime != nil {
		span.End(oteltrace.WithTimestamp(*s.EndTime))
	} else {
		span.End()
	}
}
