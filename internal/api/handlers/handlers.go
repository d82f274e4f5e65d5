// Package handlers implements the HTTP handlers for the Chainplane API.
//
// The HTTP surface is a thin collaborator over the core: each invoke
// request gets a fresh root chain context, the dispatch goes through the
// registry, and the tracer records the chain from the outside.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chainplane/chainplane/internal/chain"
	"github.com/chainplane/chainplane/internal/config"
	"github.com/chainplane/chainplane/internal/registry"
	"github.com/chainplane/chainplane/internal/tracer"
)

// Handlers carries the injected core components. No package-level state;
// independent registries and tracers can back independent routers.
type Handlers struct {
	cfg      *config.Config
	registry *registry.Registry
	tracer   *tracer.Tracer
}

// New creates the handler set.
func New(cfg *config.Config, reg *registry.Registry, tr *tracer.Tracer) *Handlers {
	return &Handlers{cfg: cfg, registry: reg, tracer: tr}
}

// ── Tools ───────────────────────────────────────────────────

// ListTools returns registered tool descriptors. Supports ?tags=a,b
// (any-of), ?name=<regexp>, and ?callable_by=<tool>.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	f := &registry.Filter{
		NameRegexp: r.URL.Query().Get("name"),
		CallableBy: r.URL.Query().Get("callable_by"),
	}
	if tags := r.URL.Query().Get("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}

	tools, err := h.registry.List(f)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tools == nil {
		tools = []registry.Descriptor{}
	}
	respondJSON(w, http.StatusOK, tools)
}

// CapabilityMatrix returns the tool → reachable-tools mapping with
// wildcards expanded.
func (h *Handlers) CapabilityMatrix(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.CapabilityMatrix())
}

// invokeRequest is the invoke endpoint's body.
type invokeRequest struct {
	Args          map[string]any `json:"args"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// invokeResponse wraps the dispatch result with the chain's identity and
// registry-side summary so both execution records are reachable.
type invokeResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Result        *registry.Result `json:"result"`
	Summary       chain.Summary    `json:"summary"`
}

// InvokeTool dispatches one top-level tool call. A new chain context is
// created per request; the tracer wraps the dispatch with a chain and a
// span so the registry's log and the trace describe the same execution.
func (h *Handlers) InvokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "toolName")

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	cc := chain.NewRootContext(req.CorrelationID, &chain.Config{
		MaxDepth:       h.cfg.Chain.MaxDepth,
		TimeoutMs:      h.cfg.Chain.TimeoutMs,
		ChainTimeoutMs: h.cfg.Chain.ChainTimeoutMs,
	})

	h.tracer.StartChain(cc)
	spanID := h.tracer.StartSpan(cc, name, chain.Fingerprint(req.Args))

	result, err := h.registry.Invoke(r.Context(), name, req.Args, cc)
	if err != nil {
		h.tracer.EndSpan(spanID, false, "", err.Error())
		h.tracer.EndChain(cc, false, err.Error())
		respondError(w, structuralStatus(err), err.Error())
		return
	}

	h.tracer.EndSpan(spanID, result.Success, registry.SummarizeOutput(result.Data), result.Error)
	h.tracer.EndChain(cc, result.Success, result.Error)

	respondJSON(w, http.StatusOK, invokeResponse{
		CorrelationID: cc.CorrelationID,
		Result:        result,
		Summary:       cc.Summarize(),
	})
}

// structuralStatus maps the structural error taxonomy onto HTTP statuses.
func structuralStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvocationNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrConcurrencyLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, chain.ErrRecursionLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ── Chains & traces ─────────────────────────────────────────

// Timeline returns a chain's spans, total duration, and critical path.
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	respondJSON(w, http.StatusOK, h.tracer.Timeline(id))
}

// Spans returns the raw spans recorded for a chain.
func (h *Handlers) Spans(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	spans := h.tracer.Spans(id)
	if spans == nil {
		spans = []tracer.Span{}
	}
	respondJSON(w, http.StatusOK, spans)
}

// Events returns the buffered lifecycle events for a chain.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	events := h.tracer.Events(id)
	if events == nil {
		events = []tracer.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// Export serializes a chain's trace. ?format=json (default) or otlp.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = tracer.FormatJSON
	}

	doc, err := h.tracer.Export(id, format)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

// TraceSummary returns aggregate tracer statistics.
func (h *Handlers) TraceSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.tracer.GetSummary())
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
