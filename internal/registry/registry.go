// Package registry is the single source of truth for which tools exist,
// what they accept and return, and who may call whom. It owns the dispatch
// path: allowlist and concurrency enforcement, schema validation, handler
// execution, and the chain context's audit log.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainplane/chainplane/internal/chain"
)

// Wildcard in a descriptor's CanInvoke list permits calling any registered
// tool.
const Wildcard = "*"

// Handler executes one tool invocation. It receives the already-validated
// arguments and a chain context derived for this call; it may invoke
// further tools through the registry using that context.
type Handler func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error)

// Descriptor is the static registration record for one tool.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputSchema Schema   `json:"-"`
	// OutputSchema is advisory: mismatches are logged, never enforced.
	OutputSchema Schema `json:"-"`
	// CanInvoke lists the tools this tool may call as a nested invocation.
	// Empty means it may call nothing; a single Wildcard entry means it may
	// call anything.
	CanInvoke []string `json:"can_invoke"`
	// MaxConcurrency caps simultaneous in-flight invocations. 0 = unlimited.
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Result is the data-level outcome of a dispatch. Schema violations and
// handler failures land here; structural failures are returned as errors.
type Result struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes the dispatch itself.
type Metadata struct {
	ToolName   string    `json:"tool_name"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// entry pairs a descriptor with its handler and in-flight counter.
type entry struct {
	desc    Descriptor
	handler Handler
	active  int
}

// Registry holds tool registrations and performs dispatch. Safe for
// concurrent use across chains; construct one per host (no package-level
// singleton) so independent registries can coexist.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register stores a descriptor and handler under the descriptor's name.
// Names are unique; registering an existing name fails with
// ErrDuplicateTool rather than overwriting.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return &DuplicateToolError{Name: desc.Name}
	}
	r.tools[desc.Name] = &entry{desc: desc, handler: handler}

	log.Debug().
		Str("tool", desc.Name).
		Strs("can_invoke", desc.CanInvoke).
		Msg("tool registered")
	return nil
}

// Invoke dispatches one tool call.
//
// Structural violations (unknown tool, allowlist denial, concurrency
// ceiling, recursion limit) come back as typed errors the caller must
// branch on. Malformed input is an expected condition for an orchestrator
// routing external requests, so it is downgraded to a failed Result.
//
// A nil chain context starts a fresh chain with default budgets.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, cc *chain.Context) (*Result, error) {
	if cc == nil {
		cc = chain.NewRootContext("", nil)
	}

	r.mu.RLock()
	ent, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}

	// Nested calls are gated by the caller's allowlist. The caller is
	// whichever tool derived this context.
	if caller := cc.ParentToolName; caller != "" {
		if err := r.checkAllowed(caller, name); err != nil {
			return nil, err
		}
	}

	// Reserve an in-flight slot. Check and increment happen under one lock
	// so two racing calls cannot both slip under the ceiling; the release
	// is deferred so every exit path (including a panicking handler)
	// restores the counter.
	if err := r.reserve(name); err != nil {
		return nil, err
	}
	defer r.release(name)

	// The handler runs one level deeper than the invoking context; its
	// nested calls identify this tool as their caller.
	childCtx, err := cc.Child(name)
	if err != nil {
		return nil, err
	}

	inputHash := chain.Fingerprint(args)

	if ent.desc.InputSchema != nil {
		if verr := ent.desc.InputSchema.Validate(args); verr != nil {
			now := time.Now().UTC()
			cc.AppendLog(chain.LogEntry{
				Timestamp:  now,
				ToolName:   name,
				InputHash:  inputHash,
				Status:     chain.StatusSkipped,
				Error:      verr.Error(),
				ParentTool: cc.ParentToolName,
				Depth:      cc.Depth,
			})
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("input validation failed: %v", verr),
				Metadata: Metadata{
					ToolName:  name,
					Timestamp: now,
				},
			}, nil
		}
	}

	start := time.Now()
	data, handlerErr := ent.handler(ctx, args, childCtx)
	durationMs := time.Since(start).Milliseconds()
	now := time.Now().UTC()

	logEntry := chain.LogEntry{
		Timestamp:  now,
		ToolName:   name,
		InputHash:  inputHash,
		DurationMs: durationMs,
		ParentTool: cc.ParentToolName,
		Depth:      cc.Depth,
	}

	if handlerErr != nil {
		logEntry.Status = chain.StatusError
		logEntry.Error = handlerErr.Error()
		cc.AppendLog(logEntry)
		return &Result{
			Success: false,
			Error:   handlerErr.Error(),
			Metadata: Metadata{
				ToolName:   name,
				DurationMs: durationMs,
				Timestamp:  now,
			},
		}, nil
	}

	// Output validation is advisory: a mismatch is worth a warning, not a
	// failed call.
	if ent.desc.OutputSchema != nil && data != nil {
		if verr := ent.desc.OutputSchema.Validate(data); verr != nil {
			log.Warn().
				Str("tool", name).
				Str("correlation_id", cc.CorrelationID).
				Err(verr).
				Msg("output schema mismatch")
		}
	}

	logEntry.Status = chain.StatusSuccess
	logEntry.OutputSummary = SummarizeOutput(data)
	cc.AppendLog(logEntry)

	return &Result{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			ToolName:   name,
			DurationMs: durationMs,
			Timestamp:  now,
		},
	}, nil
}

// checkAllowed enforces the caller's CanInvoke allowlist. An unregistered
// caller or an empty allowlist always denies.
func (r *Registry) checkAllowed(caller, target string) error {
	r.mu.RLock()
	callerEnt, ok := r.tools[caller]
	r.mu.RUnlock()

	var allowed []string
	if ok {
		allowed = callerEnt.desc.CanInvoke
	}
	for _, a := range allowed {
		if a == Wildcard || a == target {
			return nil
		}
	}
	return &InvocationNotAllowedError{Caller: caller, Target: target, Allowed: allowed}
}

// reserve claims an in-flight slot for the named tool.
func (r *Registry) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.tools[name]
	if !ok {
		return &ToolNotFoundError{Name: name}
	}
	if ent.desc.MaxConcurrency > 0 && ent.active >= ent.desc.MaxConcurrency {
		return &ConcurrencyLimitError{Tool: name, Limit: ent.desc.MaxConcurrency}
	}
	ent.active++
	return nil
}

// release returns an in-flight slot.
func (r *Registry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.tools[name]; ok && ent.active > 0 {
		ent.active--
	}
}

// ── Discovery ───────────────────────────────────────────────

// Filter narrows List results. All set fields must match.
type Filter struct {
	// Tags matches descriptors carrying at least one of these tags.
	Tags []string
	// NameRegexp matches descriptor names against a regular expression.
	NameRegexp string
	// CallableBy keeps only tools the named tool is permitted to invoke.
	CallableBy string
}

// List returns registered descriptors matching the filter, sorted by name.
// A nil filter returns everything.
func (r *Registry) List(f *Filter) ([]Descriptor, error) {
	var nameRe *regexp.Regexp
	if f != nil && f.NameRegexp != "" {
		re, err := regexp.Compile(f.NameRegexp)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern: %w", err)
		}
		nameRe = re
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var callerAllowed []string
	if f != nil && f.CallableBy != "" {
		if ent, ok := r.tools[f.CallableBy]; ok {
			callerAllowed = ent.desc.CanInvoke
		}
	}

	var out []Descriptor
	for name, ent := range r.tools {
		if nameRe != nil && !nameRe.MatchString(name) {
			continue
		}
		if f != nil && len(f.Tags) > 0 && !hasAnyTag(ent.desc.Tags, f.Tags) {
			continue
		}
		if f != nil && f.CallableBy != "" && !nameAllowed(callerAllowed, name) {
			continue
		}
		out = append(out, ent.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CapabilityMatrix maps every tool to the set of tools it may invoke, with
// the wildcard expanded to the full registered name set.
func (r *Registry) CapabilityMatrix() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]string, 0, len(r.tools))
	for name := range r.tools {
		all = append(all, name)
	}
	sort.Strings(all)

	matrix := make(map[string][]string, len(r.tools))
	for name, ent := range r.tools {
		matrix[name] = expandAllowlist(ent.desc.CanInvoke, all)
	}
	return matrix
}

// InvokableTools returns the resolved set of tools the named tool may
// invoke, with the wildcard expanded.
func (r *Registry) InvokableTools(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, ok := r.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	all := make([]string, 0, len(r.tools))
	for n := range r.tools {
		all = append(all, n)
	}
	sort.Strings(all)
	return expandAllowlist(ent.desc.CanInvoke, all), nil
}

// ActiveInvocations reports the current in-flight count for a tool.
// Unregistered names report 0.
func (r *Registry) ActiveInvocations(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ent, ok := r.tools[name]; ok {
		return ent.active
	}
	return 0
}

// Clear removes all registrations. Test and reset use only.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tools = make(map[string]*entry)
	r.mu.Unlock()
}

// ── Helpers ─────────────────────────────────────────────────

func expandAllowlist(canInvoke, all []string) []string {
	for _, a := range canInvoke {
		if a == Wildcard {
			out := make([]string, len(all))
			copy(out, all)
			return out
		}
	}
	out := make([]string, len(canInvoke))
	copy(out, canInvoke)
	sort.Strings(out)
	return out
}

func nameAllowed(allowed []string, name string) bool {
	for _, a := range allowed {
		if a == Wildcard || a == name {
			return true
		}
	}
	return false
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// SummarizeOutput renders a short display form of handler output for log
// entries and spans. Long values are truncated.
func SummarizeOutput(v any) string {
	if v == nil {
		return ""
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprintf("%v", x)
		} else {
			s = string(b)
		}
	}
	const maxLen = 120
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
