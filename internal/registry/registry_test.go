package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainplane/chainplane/internal/chain"
	"github.com/chainplane/chainplane/internal/registry"
)

// okHandler returns its args unchanged.
func okHandler(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
	return args, nil
}

func mustRegister(t *testing.T, reg *registry.Registry, desc registry.Descriptor, h registry.Handler) {
	t.Helper()
	require.NoError(t, reg.Register(desc, h))
}

func TestRegisterDuplicateFails(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "dup"}, okHandler)

	err := reg.Register(registry.Descriptor{Name: "dup"}, okHandler)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrDuplicateTool))

	var dup *registry.DuplicateToolError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "dup", dup.Name)
}

func TestRegisterRejectsEmptyNameAndNilHandler(t *testing.T) {
	reg := registry.New()
	assert.Error(t, reg.Register(registry.Descriptor{}, okHandler))
	assert.Error(t, reg.Register(registry.Descriptor{Name: "x"}, nil))
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := registry.New()
	_, err := reg.Invoke(context.Background(), "nope", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrToolNotFound))
}

func TestRootInvokeAppendsExactlyOneLogEntry(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "greet"}, okHandler)

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "greet", map[string]any{"who": "world"}, cc)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "greet", res.Metadata.ToolName)
	assert.False(t, res.Metadata.Timestamp.IsZero())

	entries := cc.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "greet", entries[0].ToolName)
	assert.Equal(t, chain.StatusSuccess, entries[0].Status)
	assert.Equal(t, 0, entries[0].Depth)
	assert.NotEmpty(t, entries[0].InputHash)
}

func TestInvokeNilContextStartsFreshChain(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "solo"}, okHandler)

	res, err := reg.Invoke(context.Background(), "solo", map[string]any{}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestHandlerErrorBecomesFailedResult(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "boom"},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			return nil, errors.New("kaput")
		})

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "boom", nil, cc)
	require.NoError(t, err, "handler failures are data-level, not structural")
	assert.False(t, res.Success)
	assert.Equal(t, "kaput", res.Error)

	entries := cc.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, chain.StatusError, entries[0].Status)
	assert.Equal(t, "kaput", entries[0].Error)
}

// ── Allowlist ───────────────────────────────────────────────

func TestEmptyAllowlistDeniesNestedCall(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "b"}, okHandler)

	var nestedErr error
	mustRegister(t, reg, registry.Descriptor{Name: "a", CanInvoke: []string{}},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			_, nestedErr = reg.Invoke(ctx, "b", nil, cc)
			return nil, nestedErr
		})

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "a", nil, cc)
	require.NoError(t, err)
	assert.False(t, res.Success)

	require.Error(t, nestedErr)
	assert.True(t, errors.Is(nestedErr, registry.ErrInvocationNotAllowed))

	var denied *registry.InvocationNotAllowedError
	require.True(t, errors.As(nestedErr, &denied))
	assert.Equal(t, "a", denied.Caller)
	assert.Equal(t, "b", denied.Target)
	assert.Empty(t, denied.Allowed)
}

func TestWildcardAllowsAnyNestedCall(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "leaf"}, okHandler)
	mustRegister(t, reg, registry.Descriptor{Name: "other"}, okHandler)
	mustRegister(t, reg, registry.Descriptor{Name: "root", CanInvoke: []string{registry.Wildcard}},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			for _, target := range []string{"leaf", "other"} {
				res, err := reg.Invoke(ctx, target, nil, cc)
				if err != nil {
					return nil, err
				}
				if !res.Success {
					return nil, errors.New(res.Error)
				}
			}
			return "done", nil
		})

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "root", nil, cc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, cc.LogEntries(), 3)
}

func TestExplicitAllowlistPermitsOnlyListed(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "allowed"}, okHandler)
	mustRegister(t, reg, registry.Descriptor{Name: "forbidden"}, okHandler)

	var allowedErr, forbiddenErr error
	mustRegister(t, reg, registry.Descriptor{Name: "caller", CanInvoke: []string{"allowed"}},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			_, allowedErr = reg.Invoke(ctx, "allowed", nil, cc)
			_, forbiddenErr = reg.Invoke(ctx, "forbidden", nil, cc)
			return "done", nil
		})

	_, err := reg.Invoke(context.Background(), "caller", nil, chain.NewRootContext("", nil))
	require.NoError(t, err)
	assert.NoError(t, allowedErr)
	assert.True(t, errors.Is(forbiddenErr, registry.ErrInvocationNotAllowed))
}

// ── Concurrency ─────────────────────────────────────────────

func TestConcurrencyLimitRejectsSecondInFlight(t *testing.T) {
	reg := registry.New()

	release := make(chan struct{})
	started := make(chan struct{})
	mustRegister(t, reg, registry.Descriptor{Name: "slow", MaxConcurrency: 1},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			close(started)
			<-release
			return "ok", nil
		})

	firstDone := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(context.Background(), "slow", nil, nil)
		firstDone <- err
	}()

	// Wait until the first call is inside the handler.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first invocation never started")
	}
	assert.Equal(t, 1, reg.ActiveInvocations("slow"))

	// Second call must be rejected while the first is in flight.
	_, err := reg.Invoke(context.Background(), "slow", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrConcurrencyLimit))

	var cle *registry.ConcurrencyLimitError
	require.True(t, errors.As(err, &cle))
	assert.Equal(t, "slow", cle.Tool)
	assert.Equal(t, 1, cle.Limit)

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 0, reg.ActiveInvocations("slow"), "slot released on exit")
}

func TestCounterReleasedOnHandlerError(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "flaky", MaxConcurrency: 1},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			return nil, errors.New("transient")
		})

	for i := 0; i < 3; i++ {
		res, err := reg.Invoke(context.Background(), "flaky", nil, nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	assert.Equal(t, 0, reg.ActiveInvocations("flaky"))
}

// ── Schema validation ───────────────────────────────────────

func TestInvalidInputReturnsFailedResult(t *testing.T) {
	reg := registry.New()
	schema := registry.MustCompileSchema(map[string]any{
		"type":       "object",
		"required":   []any{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	})
	mustRegister(t, reg, registry.Descriptor{Name: "strict", InputSchema: schema}, okHandler)

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "strict", map[string]any{"wrong": 1}, cc)
	require.NoError(t, err, "schema violations are data-level, not structural")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "input validation failed")

	entries := cc.LogEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, chain.StatusSkipped, entries[0].Status)
}

func TestValidInputPassesSchema(t *testing.T) {
	reg := registry.New()
	schema := registry.MustCompileSchema(map[string]any{
		"type":       "object",
		"required":   []any{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	})
	mustRegister(t, reg, registry.Descriptor{Name: "strict", InputSchema: schema}, okHandler)

	res, err := reg.Invoke(context.Background(), "strict", map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestOutputSchemaIsAdvisory(t *testing.T) {
	reg := registry.New()
	outSchema := registry.MustCompileSchema(map[string]any{
		"type":       "object",
		"required":   []any{"count"},
		"properties": map[string]any{"count": map[string]any{"type": "integer"}},
	})
	mustRegister(t, reg, registry.Descriptor{Name: "loose", OutputSchema: outSchema},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			return map[string]any{"unexpected": true}, nil
		})

	res, err := reg.Invoke(context.Background(), "loose", nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success, "output mismatch is logged, never enforced")
}

// ── Recursion ───────────────────────────────────────────────

func TestInvokeFailsPastMaxDepth(t *testing.T) {
	reg := registry.New()

	var depthErr error
	mustRegister(t, reg, registry.Descriptor{Name: "recurse", CanInvoke: []string{"recurse"}},
		func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
			res, err := reg.Invoke(ctx, "recurse", nil, cc)
			if err != nil {
				depthErr = err
				return "bottom", nil
			}
			return res.Data, nil
		})

	cc := chain.NewRootContext("", &chain.Config{MaxDepth: 4})
	res, err := reg.Invoke(context.Background(), "recurse", nil, cc)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Error(t, depthErr)
	assert.True(t, errors.Is(depthErr, chain.ErrRecursionLimit))
}

// ── Discovery ───────────────────────────────────────────────

func setupDiscovery(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	mustRegister(t, reg, registry.Descriptor{Name: "alpha", Tags: []string{"text"}, CanInvoke: []string{"beta"}}, okHandler)
	mustRegister(t, reg, registry.Descriptor{Name: "beta", Tags: []string{"text", "analysis"}}, okHandler)
	mustRegister(t, reg, registry.Descriptor{Name: "gamma", Tags: []string{"debug"}, CanInvoke: []string{registry.Wildcard}}, okHandler)
	return reg
}

func TestListAll(t *testing.T) {
	reg := setupDiscovery(t)
	tools, err := reg.List(nil)
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].Name, "sorted by name")
}

func TestListByTag(t *testing.T) {
	reg := setupDiscovery(t)
	tools, err := reg.List(&registry.Filter{Tags: []string{"analysis"}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "beta", tools[0].Name)
}

func TestListByNameRegexp(t *testing.T) {
	reg := setupDiscovery(t)
	tools, err := reg.List(&registry.Filter{NameRegexp: "^(alpha|beta)$"})
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	_, err = reg.List(&registry.Filter{NameRegexp: "("})
	assert.Error(t, err)
}

func TestListCallableBy(t *testing.T) {
	reg := setupDiscovery(t)

	tools, err := reg.List(&registry.Filter{CallableBy: "alpha"})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "beta", tools[0].Name)

	tools, err = reg.List(&registry.Filter{CallableBy: "gamma"})
	require.NoError(t, err)
	assert.Len(t, tools, 3, "wildcard caller reaches everything")
}

func TestCapabilityMatrixExpandsWildcard(t *testing.T) {
	reg := setupDiscovery(t)
	matrix := reg.CapabilityMatrix()

	assert.Equal(t, []string{"beta"}, matrix["alpha"])
	assert.Empty(t, matrix["beta"])
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, matrix["gamma"])
}

func TestInvokableTools(t *testing.T) {
	reg := setupDiscovery(t)

	names, err := reg.InvokableTools("gamma")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)

	_, err = reg.InvokableTools("missing")
	assert.True(t, errors.Is(err, registry.ErrToolNotFound))
}

func TestClear(t *testing.T) {
	reg := setupDiscovery(t)
	reg.Clear()

	tools, err := reg.List(nil)
	require.NoError(t, err)
	assert.Empty(t, tools)
}
