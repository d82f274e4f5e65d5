package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Structural failure sentinels. These signal a misconfigured chain or a
// buggy caller, never a malformed payload, so callers must branch on them
// (errors.Is) rather than retry blindly. Schema violations are not errors
// at all; they come back as failed Results.
var (
	ErrToolNotFound         = errors.New("tool not found")
	ErrDuplicateTool        = errors.New("duplicate tool name")
	ErrInvocationNotAllowed = errors.New("invocation not allowed")
	ErrConcurrencyLimit     = errors.New("concurrency limit exceeded")
)

// ToolNotFoundError reports an invoke against an unregistered name.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %q", e.Name)
}

func (e *ToolNotFoundError) Unwrap() error { return ErrToolNotFound }

// DuplicateToolError reports a second registration under an existing name.
// Registration is never an overwrite.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("duplicate tool name: %q", e.Name)
}

func (e *DuplicateToolError) Unwrap() error { return ErrDuplicateTool }

// InvocationNotAllowedError reports an allowlist violation on a nested
// call. Allowed carries the caller's declared allowlist for diagnostics.
type InvocationNotAllowedError struct {
	Caller  string
	Target  string
	Allowed []string
}

func (e *InvocationNotAllowedError) Error() string {
	allowed := "nothing"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("invocation not allowed: %q may not call %q (allowed: %s)", e.Caller, e.Target, allowed)
}

func (e *InvocationNotAllowedError) Unwrap() error { return ErrInvocationNotAllowed }

// ConcurrencyLimitError reports that a tool's in-flight invocation ceiling
// has been reached. This is a hard rejection, not a queue; retry policy
// belongs to the caller.
type ConcurrencyLimitError struct {
	Tool  string
	Limit int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit exceeded: tool %q is at its ceiling of %d in-flight calls", e.Tool, e.Limit)
}

func (e *ConcurrencyLimitError) Unwrap() error { return ErrConcurrencyLimit }
