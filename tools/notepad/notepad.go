// Package notepad exposes the agent's scratchpad as tools, letting the
// model persist and recall notes across turns and runs.
package notepad

import (
	"context"
	"fmt"
	"strings"

	alloy "github.com/alloyhq/alloy"
)

// Tools returns the notepad tool set. The tools operate on the scratchpad
// the agent owns (ToolContext.Scratchpad); agents without one get an error
// result.
func Tools() []alloy.Tool {
	return []alloy.Tool{
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "notepad_write",
			Description: "Save a note under a key. Overwrites any existing note with the same key. Use to remember facts, decisions, or intermediate results.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string", "description": "Note key"},
					"value": map[string]any{"type": "string", "description": "Note content"},
				},
				"required": []any{"key", "value"},
			},
		}, write),
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "notepad_read",
			Description: "Read a previously saved note by key.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key": map[string]any{"type": "string", "description": "Note key"},
				},
				"required": []any{"key"},
			},
		}, read),
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "notepad_list",
			Description: "List the keys of all saved notes.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		}, list),
	}
}

func write(ctx context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	if tc.Scratchpad == nil {
		return "", fmt.Errorf("no scratchpad configured for this agent")
	}
	key, _ := input["key"].(string)
	value, _ := input["value"].(string)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if err := tc.Scratchpad.Put(ctx, key, value); err != nil {
		return "", err
	}
	return "saved note " + key, nil
}

func read(ctx context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	if tc.Scratchpad == nil {
		return "", fmt.Errorf("no scratchpad configured for this agent")
	}
	key, _ := input["key"].(string)
	value, ok, err := tc.Scratchpad.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no note under key %q", key)
	}
	return value, nil
}

func list(ctx context.Context, _ map[string]any, tc alloy.ToolContext) (string, error) {
	if tc.Scratchpad == nil {
		return "", fmt.Errorf("no scratchpad configured for this agent")
	}
	keys, err := tc.Scratchpad.Keys(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "(no notes)", nil
	}
	return strings.Join(keys, "\n"), nil
}
