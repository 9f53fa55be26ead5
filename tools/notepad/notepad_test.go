package notepad

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	alloy "github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/scratchpad"
)

func toolByName(t *testing.T, name string) alloy.Tool {
	t.Helper()
	for _, tool := range Tools() {
		if tool.Definition().Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func testContext(t *testing.T) alloy.ToolContext {
	t.Helper()
	pad, err := scratchpad.Open(filepath.Join(t.TempDir(), "pad.db"))
	if err != nil {
		t.Fatalf("scratchpad: %v", err)
	}
	t.Cleanup(func() { pad.Close() })
	return alloy.ToolContext{Scratchpad: pad}
}

func TestWriteReadList(t *testing.T) {
	tc := testContext(t)
	ctx := context.Background()

	if _, err := toolByName(t, "notepad_write").Execute(ctx,
		map[string]any{"key": "plan", "value": "ship it"}, tc); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := toolByName(t, "notepad_read").Execute(ctx, map[string]any{"key": "plan"}, tc)
	if err != nil || out != "ship it" {
		t.Errorf("read = %q, %v", out, err)
	}

	out, err = toolByName(t, "notepad_list").Execute(ctx, nil, tc)
	if err != nil || !strings.Contains(out, "plan") {
		t.Errorf("list = %q, %v", out, err)
	}
}

func TestReadMissingNote(t *testing.T) {
	tc := testContext(t)
	if _, err := toolByName(t, "notepad_read").Execute(context.Background(),
		map[string]any{"key": "ghost"}, tc); err == nil {
		t.Error("missing note read succeeded")
	}
}

func TestNoScratchpadConfigured(t *testing.T) {
	if _, err := toolByName(t, "notepad_write").Execute(context.Background(),
		map[string]any{"key": "k", "value": "v"}, alloy.ToolContext{}); err == nil {
		t.Error("write without scratchpad succeeded")
	}
}
