package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainplane/chainplane/internal/chain"
	"github.com/chainplane/chainplane/internal/registry"
	"github.com/chainplane/chainplane/internal/tools"
)

func newToolRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, tools.Register(reg))
	return reg
}

func TestRegisterIsIdempotentOnlyOnce(t *testing.T) {
	reg := newToolRegistry(t)
	assert.Error(t, tools.Register(reg), "second registration hits duplicate names")
}

func TestEcho(t *testing.T) {
	reg := newToolRegistry(t)

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"message": "hi"}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, "hi", data["message"])
}

func TestEchoRejectsMissingMessage(t *testing.T) {
	reg := newToolRegistry(t)

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "input validation failed")
}

func TestWordstats(t *testing.T) {
	reg := newToolRegistry(t)

	res, err := reg.Invoke(context.Background(), "wordstats", map[string]any{"text": "one two\nthree"}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, 3, data["words"])
	assert.Equal(t, 13, data["chars"])
	assert.Equal(t, 2, data["lines"])
}

func TestRender(t *testing.T) {
	reg := newToolRegistry(t)

	res, err := reg.Invoke(context.Background(), "render", map[string]any{
		"template": "hello {{name}}",
		"values":   map[string]any{"name": "world"},
	}, nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, "hello world", data["rendered"])
}

func TestAnalyzeChainsNestedCalls(t *testing.T) {
	reg := newToolRegistry(t)

	cc := chain.NewRootContext("", nil)
	res, err := reg.Invoke(context.Background(), "analyze", map[string]any{"text": "alpha beta gamma"}, cc)
	require.NoError(t, err)
	require.True(t, res.Success)

	data := res.Data.(map[string]any)
	assert.Equal(t, "3 words, 16 chars, 1 lines", data["summary"])

	// One entry per call: wordstats, render (nested), then analyze itself.
	entries := cc.LogEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "wordstats", entries[0].ToolName)
	assert.Equal(t, "analyze", entries[0].ParentTool)
	assert.Equal(t, 1, entries[0].Depth)
	assert.Equal(t, "render", entries[1].ToolName)
	assert.Equal(t, "analyze", entries[2].ToolName)
	assert.Equal(t, 0, entries[2].Depth)
}

func TestAnalyzeAllowlistIsClosed(t *testing.T) {
	reg := newToolRegistry(t)

	names, err := reg.InvokableTools("analyze")
	require.NoError(t, err)
	assert.Equal(t, []string{"render", "wordstats"}, names)

	names, err = reg.InvokableTools("echo")
	require.NoError(t, err)
	assert.Empty(t, names)
}
