package chain

import (
	"errors"
	"fmt"
)

// ErrRecursionLimit is the sentinel behind RecursionLimitError so callers
// can branch with errors.Is without unpacking the detail.
var ErrRecursionLimit = errors.New("recursion limit exceeded")

// RecursionLimitError reports a context derivation that would push a chain
// past its configured maximum depth. This is a structural failure: the
// chain is misconfigured or a tool is recursing without bound.
type RecursionLimitError struct {
	Tool     string
	Depth    int
	MaxDepth int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit exceeded: tool %q would reach depth %d (max %d)", e.Tool, e.Depth, e.MaxDepth)
}

func (e *RecursionLimitError) Unwrap() error { return ErrRecursionLimit }
