// Package chain implements the per-chain execution context threaded through
// every tool call of one logical invocation chain.
//
// A chain is a single top-level tool invocation plus everything it
// transitively invokes. All contexts derived from one root share the same
// correlation id, shared-state store, and execution log; only the scalar
// fields (depth, parent tool) differ per hop.
package chain

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when no Config is supplied to NewRootContext.
const (
	DefaultMaxDepth       = 10
	DefaultTimeoutMs      = 30_000
	DefaultChainTimeoutMs = 300_000
)

// Status classifies one completed (or skipped) tool call in the execution log.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// LogEntry records one completed tool call in the chain's execution log.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	ToolName      string    `json:"tool_name"`
	InputHash     string    `json:"input_hash,omitempty"`
	OutputSummary string    `json:"output_summary,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	ParentTool    string    `json:"parent_tool,omitempty"`
	Depth         int       `json:"depth"`
}

// Config controls the budgets of a new root context. Zero values fall back
// to the package defaults; a negative ChainTimeoutMs disables the chain
// budget entirely.
type Config struct {
	MaxDepth       int
	TimeoutMs      int64
	ChainTimeoutMs int64
}

// sharedState is the chain-wide key/value store. One instance per chain,
// shared by reference across every derived context.
type sharedState struct {
	mu     sync.RWMutex
	values map[string]any
}

// executionLog is the chain-wide append-only call log. Shared by reference
// like sharedState; entries are never mutated or removed once appended.
type executionLog struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// Context carries the identity and budgets of one hop in a tool chain.
//
// The scalar fields are fixed at construction. SharedState and the
// execution log are reachable only through methods so the internal locking
// discipline cannot be bypassed.
type Context struct {
	CorrelationID  string
	ParentToolName string
	Depth          int
	MaxDepth       int
	TimeoutMs      int64
	ChainTimeoutMs int64
	ChainStartTime time.Time

	state *sharedState
	log   *executionLog
}

// NewRootContext creates the context for a new chain at depth 0.
// If correlationID is empty a fresh one is generated: a millisecond
// timestamp prefix plus a random suffix. Collisions are accepted as
// negligible; the id is an opaque handle, not a security token.
func NewRootContext(correlationID string, cfg *Config) *Context {
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	maxDepth := DefaultMaxDepth
	timeoutMs := int64(DefaultTimeoutMs)
	chainTimeoutMs := int64(DefaultChainTimeoutMs)
	if cfg != nil {
		if cfg.MaxDepth > 0 {
			maxDepth = cfg.MaxDepth
		}
		if cfg.TimeoutMs > 0 {
			timeoutMs = cfg.TimeoutMs
		}
		if cfg.ChainTimeoutMs != 0 {
			chainTimeoutMs = cfg.ChainTimeoutMs
		}
	}

	return &Context{
		CorrelationID:  correlationID,
		Depth:          0,
		MaxDepth:       maxDepth,
		TimeoutMs:      timeoutMs,
		ChainTimeoutMs: chainTimeoutMs,
		ChainStartTime: time.Now().UTC(),
		state:          &sharedState{values: make(map[string]any)},
		log:            &executionLog{},
	}
}

func newCorrelationID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("chain-%d-%s", time.Now().UnixMilli(), suffix)
}

// Child derives the context for a nested call made by callingTool.
// Depth increases by exactly 1; exceeding MaxDepth is a hard failure.
// The shared-state store and execution log are carried over by reference,
// never copied.
func (c *Context) Child(callingTool string) (*Context, error) {
	depth := c.Depth + 1
	if depth > c.MaxDepth {
		return nil, &RecursionLimitError{
			Tool:     callingTool,
			Depth:    depth,
			MaxDepth: c.MaxDepth,
		}
	}
	return &Context{
		CorrelationID:  c.CorrelationID,
		ParentToolName: callingTool,
		Depth:          depth,
		MaxDepth:       c.MaxDepth,
		TimeoutMs:      c.TimeoutMs,
		ChainTimeoutMs: c.ChainTimeoutMs,
		ChainStartTime: c.ChainStartTime,
		state:          c.state,
		log:            c.log,
	}, nil
}

// ── Shared state ────────────────────────────────────────────

// SetState stores a value in the chain-wide shared store.
func (c *Context) SetState(key string, value any) {
	c.state.mu.Lock()
	c.state.values[key] = value
	c.state.mu.Unlock()
}

// GetState reads a value from the chain-wide shared store.
func (c *Context) GetState(key string) (any, bool) {
	c.state.mu.RLock()
	v, ok := c.state.values[key]
	c.state.mu.RUnlock()
	return v, ok
}

// StateKeys returns the keys currently present in the shared store.
func (c *Context) StateKeys() []string {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	keys := make([]string, 0, len(c.state.values))
	for k := range c.state.values {
		keys = append(keys, k)
	}
	return keys
}

// ── Execution log ───────────────────────────────────────────

// AppendLog appends one completed call record to the chain's execution log.
// The entry's timestamp, depth, and parent tool are stamped from this
// context when unset. Prior entries are never touched.
func (c *Context) AppendLog(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Depth == 0 {
		entry.Depth = c.Depth
	}
	if entry.ParentTool == "" {
		entry.ParentTool = c.ParentToolName
	}
	c.log.mu.Lock()
	c.log.entries = append(c.log.entries, entry)
	c.log.mu.Unlock()
}

// LogEntries returns a copy of the chain's execution log.
func (c *Context) LogEntries() []LogEntry {
	c.log.mu.RLock()
	defer c.log.mu.RUnlock()
	out := make([]LogEntry, len(c.log.entries))
	copy(out, c.log.entries)
	return out
}

// ── Budgets ─────────────────────────────────────────────────

// Elapsed reports wall-clock time since the chain started.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.ChainStartTime)
}

// ExceededBudget reports whether the whole-chain time budget has run out.
// Always false when no chain budget is configured.
func (c *Context) ExceededBudget() bool {
	if c.ChainTimeoutMs <= 0 {
		return false
	}
	return c.Elapsed() > time.Duration(c.ChainTimeoutMs)*time.Millisecond
}

// RemainingBudget returns the chain budget left, floored at zero.
// The second return is false when no chain budget is configured.
func (c *Context) RemainingBudget() (time.Duration, bool) {
	if c.ChainTimeoutMs <= 0 {
		return 0, false
	}
	remaining := time.Duration(c.ChainTimeoutMs)*time.Millisecond - c.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ── Summary ─────────────────────────────────────────────────

// Summary aggregates a chain's execution log.
type Summary struct {
	CorrelationID   string `json:"correlation_id"`
	TotalDurationMs int64  `json:"total_duration_ms"`
	ToolCount       int    `json:"tool_count"`
	SuccessCount    int    `json:"success_count"`
	ErrorCount      int    `json:"error_count"`
	SkippedCount    int    `json:"skipped_count"`
	MaxDepthReached int    `json:"max_depth_reached"`
}

// Summarize aggregates the execution log: summed durations, counts by
// status, and the deepest recorded depth (0 when the log is empty).
func (c *Context) Summarize() Summary {
	s := Summary{CorrelationID: c.CorrelationID}
	for _, e := range c.LogEntries() {
		s.ToolCount++
		s.TotalDurationMs += e.DurationMs
		switch e.Status {
		case StatusSuccess:
			s.SuccessCount++
		case StatusError:
			s.ErrorCount++
		case StatusSkipped:
			s.SkippedCount++
		}
		if e.Depth > s.MaxDepthReached {
			s.MaxDepthReached = e.Depth
		}
	}
	return s
}
