// Package file provides file operations jailed to the agent's working
// directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	alloy "github.com/alloyhq/alloy"
)

const maxReadChars = 8000

// Tools returns the file tool set. Paths resolve against the agent's
// working directory (ToolContext.WorkDir), falling back to workspace.
func Tools(workspace string) []alloy.Tool {
	t := &toolset{workspace: workspace}
	return []alloy.Tool{
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "file_read",
			Description: "Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
			InputSchema: pathSchema("File path relative to workspace", true),
		}, t.read),
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "file_write",
			Description: "Write content to a file in the workspace. Creates parent directories if needed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "File path relative to workspace"},
					"content": map[string]any{"type": "string", "description": "Content to write"},
				},
				"required": []any{"path", "content"},
			},
		}, t.write),
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "file_list",
			Description: "List files and directories in a workspace directory. Returns one entry per line with type prefix (file/dir) and name.",
			InputSchema: pathSchema("Directory path relative to workspace (empty or '.' for root)", false),
		}, t.list),
		alloy.ToolFunc(alloy.ToolDefinition{
			Name:        "file_delete",
			Description: "Delete a file or empty directory from the workspace.",
			InputSchema: pathSchema("File or directory path relative to workspace", true),
		}, t.remove),
	}
}

func pathSchema(desc string, required bool) map[string]any {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": desc},
		},
	}
	if required {
		schema["required"] = []any{"path"}
	}
	return schema
}

type toolset struct {
	workspace string
}

// resolve jails path inside the effective workspace: no absolute paths, no
// traversal above the root.
func (t *toolset) resolve(tc alloy.ToolContext, path string) (string, error) {
	root := tc.WorkDir
	if root == "" {
		root = t.workspace
	}
	if root == "" {
		root = "."
	}
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	resolved := filepath.Join(root, path)
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolvedAbs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	if resolvedAbs != rootAbs && !strings.HasPrefix(resolvedAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func (t *toolset) read(_ context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	path, err := t.resolve(tc, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return content, nil
}

func (t *toolset) write(_ context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	path, err := t.resolve(tc, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	content := stringArg(input, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), stringArg(input, "path")), nil
}

func (t *toolset) list(_ context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	path, err := t.resolve(tc, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}
	if len(entries) == 0 {
		return "(empty)", nil
	}
	var sb strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&sb, "%s %s\n", kind, e.Name())
	}
	return sb.String(), nil
}

func (t *toolset) remove(_ context.Context, input map[string]any, tc alloy.ToolContext) (string, error) {
	path, err := t.resolve(tc, stringArg(input, "path"))
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	return "deleted " + stringArg(input, "path"), nil
}
