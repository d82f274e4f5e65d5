package tracer

import (
	"encoding/json"
	"fmt"
)

// Export formats. "json" is the ad hoc chain document; "otlp" is an
// OpenTelemetry-shaped JSON structure, not a full OTLP/protobuf exporter.
const (
	FormatJSON = "json"
	FormatOTLP = "otlp"
)

// exportDocument is the "json" export shape.
type exportDocument struct {
	CorrelationID string        `json:"correlation_id"`
	Spans         []Span        `json:"spans"`
	Events        []Event       `json:"events"`
	Summary       exportSummary `json:"summary"`
}

type exportSummary struct {
	TotalSpans      int `json:"total_spans"`
	SuccessfulSpans int `json:"successful_spans"`
	FailedSpans     int `json:"failed_spans"`
}

// Export serializes one chain's trace in the requested format.
func (t *Tracer) Export(correlationID, format string) (string, error) {
	switch format {
	case FormatJSON:
		return t.exportJSON(correlationID)
	case FormatOTLP:
		return t.exportOTLP(correlationID)
	default:
		return "", fmt.Errorf("unknown export format: %q", format)
	}
}

func (t *Tracer) exportJSON(correlationID string) (string, error) {
	doc := exportDocument{
		CorrelationID: correlationID,
		Spans:         t.Spans(correlationID),
		Events:        t.Events(correlationID),
	}
	if doc.Spans == nil {
		doc.Spans = []Span{}
	}
	if doc.Events == nil {
		doc.Events = []Event{}
	}
	doc.Summary.TotalSpans = len(doc.Spans)
	for _, s := range doc.Spans {
		switch s.Status {
		case SpanSuccess:
			doc.Summary.SuccessfulSpans++
		case SpanError:
			doc.Summary.FailedSpans++
		}
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	return string(b), nil
}

// ── OTLP-shaped export ──────────────────────────────────────

// Minimal OTLP JSON shapes: one resource carrying service.name, one scope,
// one span record per trace span. Timestamps are nanoseconds (ms × 1e6);
// status codes follow OTLP (1 = ok, 2 = error, 0 = unset/pending).

type otlpDocument struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

type otlpResourceSpans struct {
	Resource   otlpResource     `json:"resource"`
	ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpKeyValue `json:"attributes"`
}

type otlpScopeSpans struct {
	Scope otlpScope  `json:"scope"`
	Spans []otlpSpan `json:"spans"`
}

type otlpScope struct {
	Name string `json:"name"`
}

type otlpSpan struct {
	SpanID            string         `json:"spanId"`
	ParentSpanID      string         `json:"parentSpanId,omitempty"`
	Name              string         `json:"name"`
	StartTimeUnixNano int64          `json:"startTimeUnixNano"`
	EndTimeUnixNano   int64          `json:"endTimeUnixNano,omitempty"`
	Status            otlpStatus     `json:"status"`
	Attributes        []otlpKeyValue `json:"attributes"`
}

type otlpStatus struct {
	Code int `json:"code"`
}

type otlpKeyValue struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
	IntValue    int64  `json:"intValue,omitempty"`
}

func (t *Tracer) exportOTLP(correlationID string) (string, error) {
	spans := t.Spans(correlationID)

	records := make([]otlpSpan, 0, len(spans))
	for _, s := range spans {
		rec := otlpSpan{
			SpanID:            s.SpanID,
			ParentSpanID:      s.ParentSpanID,
			Name:              s.ToolName,
			StartTimeUnixNano: s.StartTime.UnixMilli() * 1_000_000,
			Attributes: []otlpKeyValue{
				{Key: "tool.name", Value: otlpValue{StringValue: s.ToolName}},
				{Key: "tool.depth", Value: otlpValue{IntValue: int64(s.Depth)}},
				{Key: "tool.input_hash", Value: otlpValue{StringValue: s.InputHash}},
			},
		}
		if s.EndTime != nil {
			rec.EndTimeUnixNano = s.EndTime.UnixMilli() * 1_000_000
		}
		switch s.Status {
		case SpanSuccess:
			rec.Status.Code = 1
		case SpanError:
			rec.Status.Code = 2
		}
		records = append(records, rec)
	}

	doc := otlpDocument{
		ResourceSpans: []otlpResourceSpans{{
			Resource: otlpResource{
				Attributes: []otlpKeyValue{
					{Key: "service.name", Value: otlpValue{StringValue: t.serviceName}},
				},
			},
			ScopeSpans: []otlpScopeSpans{{
				Scope: otlpScope{Name: "chainplane/tracer"},
				Spans: records,
			}},
		}},
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal otlp trace: %w", err)
	}
	return string(b), nil
}
