// Package markdown renders markdown to HTML, for agents that produce
// formatted reports consumed by web frontends.
package markdown

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	alloy "github.com/alloyhq/alloy"
)

// Tool converts markdown text to HTML (GFM tables and strikethrough
// enabled).
type Tool struct {
	md goldmark.Markdown
}

// New creates a markdown rendering tool.
func New() *Tool {
	return &Tool{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (t *Tool) Definition() alloy.ToolDefinition {
	return alloy.ToolDefinition{
		Name:        "markdown_render",
		Description: "Render markdown text to HTML. Supports GitHub-flavored markdown (tables, strikethrough, task lists).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"markdown": map[string]any{"type": "string", "description": "Markdown source to render"},
			},
			"required": []any{"markdown"},
		},
	}
}

func (t *Tool) Execute(_ context.Context, input map[string]any, _ alloy.ToolContext) (string, error) {
	source, _ := input["markdown"].(string)
	if source == "" {
		return "", fmt.Errorf("markdown is required")
	}
	var buf bytes.Buffer
	if err := t.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return buf.String(), nil
}

// compile-time check
var _ alloy.Tool = (*Tool)(nil)
