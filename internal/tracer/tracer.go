// Package tracer builds an observable timeline per invocation chain,
// independent of the registry's own execution log. It records spans and
// lifecycle events, computes the critical path through a chain's span
// forest, and exports timelines as plain JSON or an OTLP-shaped document.
package tracer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chainplane/chainplane/internal/chain"
)

// maxEvents bounds the global event buffer; the oldest entries are dropped
// first so long-running hosts do not grow without limit. Spans are not
// capped; callers reset per-chain data with Clear.
const maxEvents = 1000

// SpanStatus is the lifecycle state of a span.
type SpanStatus string

const (
	SpanPending SpanStatus = "pending"
	SpanSuccess SpanStatus = "success"
	SpanError   SpanStatus = "error"
)

// Span records one tool invocation's timing and outcome.
type Span struct {
	SpanID        string     `json:"span_id"`
	ParentSpanID  string     `json:"parent_span_id,omitempty"`
	CorrelationID string     `json:"correlation_id"`
	ToolName      string     `json:"tool_name"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	Depth         int        `json:"depth"`
	Status        SpanStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
	InputHash     string     `json:"input_hash,omitempty"`
	OutputSummary string     `json:"output_summary,omitempty"`
}

// EventType is a chain lifecycle transition.
type EventType string

const (
	EventChainStart    EventType = "chain_start"
	EventChainEnd      EventType = "chain_end"
	EventToolStart     EventType = "tool_start"
	EventToolEnd       EventType = "tool_end"
	EventToolError     EventType = "tool_error"
	EventContextUpdate EventType = "context_update"
)

// Event is one immutable lifecycle record.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	ToolName      string    `json:"tool_name,omitempty"`
	SpanID        string    `json:"span_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Mirror receives span lifecycle callbacks, typically to forward spans to
// a real telemetry pipeline.
type Mirror interface {
	SpanStarted(s Span)
	SpanEnded(s Span)
}

// Tracer records spans and events for any number of concurrent chains.
// Construct one per host and inject it; there is no package singleton.
//
// Within one chain, span parentage uses a single active-span slot: the
// span most recently started (and not yet ended) for a correlation id
// becomes the parent of the next span started under that id. This models
// strictly nested, depth-first call patterns. Concurrent sibling calls
// under one correlation id will be mis-parented; fan-out must use disjoint
// correlation ids.
type Tracer struct {
	mu        sync.Mutex
	spans     map[string][]*Span // correlation id → spans, insertion order
	spanIndex map[string]*Span   // span id → span
	active    map[string]string  // correlation id → active span id
	chains    map[string]struct{}
	events    []Event

	serviceName string
	mirror      Mirror
	now         func() time.Time
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithServiceName sets the service.name attribute used by the OTLP export.
func WithServiceName(name string) Option {
	return func(t *Tracer) { t.serviceName = name }
}

// WithMirror forwards span starts/ends to a Mirror.
func WithMirror(m Mirror) Option {
	return func(t *Tracer) { t.mirror = m }
}

// New creates an empty tracer.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		spans:       make(map[string][]*Span),
		spanIndex:   make(map[string]*Span),
		active:      make(map[string]string),
		chains:      make(map[string]struct{}),
		serviceName: "chainplane",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ── Chain lifecycle ─────────────────────────────────────────

// StartChain records the beginning of a chain.
func (t *Tracer) StartChain(cc *chain.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chains[cc.CorrelationID] = struct{}{}
	t.appendEvent(Event{
		Type:          EventChainStart,
		CorrelationID: cc.CorrelationID,
	})
}

// EndChain records the end of a chain with total elapsed time measured
// from the chain's start.
func (t *Tracer) EndChain(cc *chain.Context, success bool, errMsg string) {
	elapsed := t.now().Sub(cc.ChainStartTime).Milliseconds()
	detail := fmt.Sprintf("success=%t total_duration_ms=%d", success, elapsed)
	if errMsg != "" {
		detail += " error=" + errMsg
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendEvent(Event{
		Type:          EventChainEnd,
		CorrelationID: cc.CorrelationID,
		Detail:        detail,
	})
}

// ── Span lifecycle ──────────────────────────────────────────

// StartSpan opens a span for a tool invocation and returns its id. The new
// span's parent is whatever span is currently active for the chain, and
// the new span takes over the active slot.
func (t *Tracer) StartSpan(cc *chain.Context, toolName, inputHash string) string {
	span := &Span{
		SpanID:        uuid.New().String(),
		CorrelationID: cc.CorrelationID,
		ToolName:      toolName,
		StartTime:     t.now().UTC(),
		Depth:         cc.Depth,
		Status:        SpanPending,
		InputHash:     inputHash,
	}

	t.mu.Lock()
	span.ParentSpanID = t.active[cc.CorrelationID]
	t.active[cc.CorrelationID] = span.SpanID
	t.chains[cc.CorrelationID] = struct{}{}
	t.spans[cc.CorrelationID] = append(t.spans[cc.CorrelationID], span)
	t.spanIndex[span.SpanID] = span
	t.appendEvent(Event{
		Type:          EventToolStart,
		CorrelationID: cc.CorrelationID,
		ToolName:      toolName,
		SpanID:        span.SpanID,
	})
	mirror := t.mirror
	snapshot := *span
	t.mu.Unlock()

	if mirror != nil {
		mirror.SpanStarted(snapshot)
	}
	return span.SpanID
}

// EndSpan closes a span, computing its duration from the recorded start.
// If the span holds the chain's active slot, the slot is restored to the
// span's own parent, so ending a span pops the nesting stack.
func (t *Tracer) EndSpan(spanID string, success bool, outputSummary, errMsg string) {
	end := t.now().UTC()

	t.mu.Lock()
	span, ok := t.spanIndex[spanID]
	if !ok {
		t.mu.Unlock()
		log.Warn().Str("span_id", spanID).Msg("end of unknown span ignored")
		return
	}

	span.EndTime = &end
	span.DurationMs = end.Sub(span.StartTime).Milliseconds()
	span.OutputSummary = outputSummary
	if success {
		span.Status = SpanSuccess
	} else {
		span.Status = SpanError
		span.Error = errMsg
	}

	if t.active[span.CorrelationID] == spanID {
		if span.ParentSpanID != "" {
			t.active[span.CorrelationID] = span.ParentSpanID
		} else {
			delete(t.active, span.CorrelationID)
		}
	}

	evType := EventToolEnd
	if !success {
		evType = EventToolError
	}
	t.appendEvent(Event{
		Type:          evType,
		CorrelationID: span.CorrelationID,
		ToolName:      span.ToolName,
		SpanID:        spanID,
		Detail:        errMsg,
	})
	mirror := t.mirror
	snapshot := *span
	t.mu.Unlock()

	if mirror != nil {
		mirror.SpanEnded(snapshot)
	}
}

// ContextUpdate records a shared-state mutation on a chain.
func (t *Tracer) ContextUpdate(correlationID, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendEvent(Event{
		Type:          EventContextUpdate,
		CorrelationID: correlationID,
		Detail:        detail,
	})
}

// ── Retrieval ───────────────────────────────────────────────

// Spans returns copies of the spans recorded for a chain, in start order.
func (t *Tracer) Spans(correlationID string) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, 0, len(t.spans[correlationID]))
	for _, s := range t.spans[correlationID] {
		out = append(out, *s)
	}
	return out
}

// Events returns the buffered events for a chain, oldest first.
func (t *Tracer) Events(correlationID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, e := range t.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// Summary aggregates tracer state across all chains held in memory.
type Summary struct {
	TotalChains      int     `json:"total_chains"`
	TotalSpans       int     `json:"total_spans"`
	TotalEvents      int     `json:"total_events"`
	AvgSpansPerChain float64 `json:"avg_spans_per_chain"`
}

// GetSummary aggregates across all chains currently held in memory.
func (t *Tracer) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	totalSpans := 0
	for _, spans := range t.spans {
		totalSpans += len(spans)
	}
	s := Summary{
		TotalChains: len(t.chains),
		TotalSpans:  totalSpans,
		TotalEvents: len(t.events),
	}
	if s.TotalChains > 0 {
		s.AvgSpansPerChain = float64(totalSpans) / float64(s.TotalChains)
	}
	return s
}

// Clear drops all spans, events, and active-slot state.
func (t *Tracer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = make(map[string][]*Span)
	t.spanIndex = make(map[string]*Span)
	t.active = make(map[string]string)
	t.chains = make(map[string]struct{})
	t.events = nil
}

// appendEvent adds an event, dropping the oldest when the buffer is full.
// Caller must hold t.mu.
func (t *Tracer) appendEvent(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	t.events = append(t.events, e)
	if len(t.events) > maxEvents {
		t.events = t.events[len(t.events)-maxEvents:]
	}
}
