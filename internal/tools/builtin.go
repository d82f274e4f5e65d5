// Package tools provides the built-in glue tools registered by the server
// host. They are deliberately simple text transformations; their value here
// is exercising the dispatch path, including nested invocation under the
// allowlist.
package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chainplane/chainplane/internal/chain"
	"github.com/chainplane/chainplane/internal/registry"
)

// Register adds the built-in tools to a registry.
func Register(reg *registry.Registry) error {
	builtins := []struct {
		desc    registry.Descriptor
		handler registry.Handler
	}{
		{echoDescriptor(), echoHandler},
		{wordstatsDescriptor(), wordstatsHandler},
		{renderDescriptor(), renderHandler},
		{analyzeDescriptor(), analyzeHandler(reg)},
	}
	for _, b := range builtins {
		if err := reg.Register(b.desc, b.handler); err != nil {
			return fmt.Errorf("register builtin %q: %w", b.desc.Name, err)
		}
	}
	return nil
}

// ── echo ────────────────────────────────────────────────────

func echoDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        "echo",
		Description: "Returns its input message unchanged.",
		InputSchema: registry.MustCompileSchema(map[string]any{
			"type":       "object",
			"required":   []any{"message"},
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
		}),
		CanInvoke: []string{},
		Tags:      []string{"builtin", "debug"},
	}
}

func echoHandler(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
	return map[string]any{"message": args["message"]}, nil
}

// ── wordstats ───────────────────────────────────────────────

func wordstatsDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        "wordstats",
		Description: "Counts words, characters, and lines in a text.",
		InputSchema: registry.MustCompileSchema(map[string]any{
			"type":       "object",
			"required":   []any{"text"},
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		}),
		OutputSchema: registry.MustCompileSchema(map[string]any{
			"type":     "object",
			"required": []any{"words", "chars", "lines"},
			"properties": map[string]any{
				"words": map[string]any{"type": "integer"},
				"chars": map[string]any{"type": "integer"},
				"lines": map[string]any{"type": "integer"},
			},
		}),
		CanInvoke: []string{},
		Tags:      []string{"builtin", "text"},
	}
}

func wordstatsHandler(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
	text, _ := args["text"].(string)
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
	}
	return map[string]any{
		"words": len(strings.Fields(text)),
		"chars": utf8.RuneCountInString(text),
		"lines": lines,
	}, nil
}

// ── render ──────────────────────────────────────────────────

func renderDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        "render",
		Description: "Substitutes {{key}} placeholders in a template with provided values.",
		InputSchema: registry.MustCompileSchema(map[string]any{
			"type":     "object",
			"required": []any{"template"},
			"properties": map[string]any{
				"template": map[string]any{"type": "string"},
				"values":   map[string]any{"type": "object"},
			},
		}),
		CanInvoke: []string{},
		Tags:      []string{"builtin", "text"},
	}
}

func renderHandler(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
	template, _ := args["template"].(string)
	out := template
	if values, ok := args["values"].(map[string]any); ok {
		for k, v := range values {
			out = strings.ReplaceAll(out, "{{"+k+"}}", fmt.Sprintf("%v", v))
		}
	}
	return map[string]any{"rendered": out}, nil
}

// ── analyze ─────────────────────────────────────────────────

func analyzeDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:        "analyze",
		Description: "Summarizes a text by delegating to wordstats and render.",
		InputSchema: registry.MustCompileSchema(map[string]any{
			"type":       "object",
			"required":   []any{"text"},
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		}),
		CanInvoke: []string{"wordstats", "render"},
		Tags:      []string{"builtin", "text"},
	}
}

// analyzeHandler calls wordstats and render as nested invocations through
// the registry, using the chain context it was handed.
func analyzeHandler(reg *registry.Registry) registry.Handler {
	return func(ctx context.Context, args map[string]any, cc *chain.Context) (any, error) {
		stats, err := reg.Invoke(ctx, "wordstats", map[string]any{"text": args["text"]}, cc)
		if err != nil {
			return nil, fmt.Errorf("wordstats: %w", err)
		}
		if !stats.Success {
			return nil, fmt.Errorf("wordstats: %s", stats.Error)
		}

		statsData, _ := stats.Data.(map[string]any)
		rendered, err := reg.Invoke(ctx, "render", map[string]any{
			"template": "{{words}} words, {{chars}} chars, {{lines}} lines",
			"values":   statsData,
		}, cc)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		if !rendered.Success {
			return nil, fmt.Errorf("render: %s", rendered.Error)
		}

		renderedData, _ := rendered.Data.(map[string]any)
		return map[string]any{
			"stats":   statsData,
			"summary": renderedData["rendered"],
		}, nil
	}
}
