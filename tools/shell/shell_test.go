package shell

import (
	"context"
	"strings"
	"testing"
	"time"

	alloy "github.com/alloyhq/alloy"
)

func TestExecuteEchoesOutput(t *testing.T) {
	tool := New(t.TempDir())
	out, err := tool.Execute(context.Background(),
		map[string]any{"command": "echo $((40+2))"}, alloy.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteRunsInWorkdir(t *testing.T) {
	workspace := t.TempDir()
	tool := New(workspace)
	out, err := tool.Execute(context.Background(),
		map[string]any{"command": "pwd"}, alloy.ToolContext{WorkDir: workspace})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, workspace) {
		t.Errorf("pwd = %q, want %q", out, workspace)
	}
}

func TestExecuteBlocklist(t *testing.T) {
	tool := New(t.TempDir())
	_, err := tool.Execute(context.Background(),
		map[string]any{"command": "sudo reboot"}, alloy.ToolContext{})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("err = %v, want blocked", err)
	}
}

func TestExecuteMissingCommand(t *testing.T) {
	tool := New(t.TempDir())
	if _, err := tool.Execute(context.Background(), map[string]any{}, alloy.ToolContext{}); err == nil {
		t.Error("missing command accepted")
	}
}

func TestExecuteTimeout(t *testing.T) {
	tool := New(t.TempDir(), DefaultTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := tool.Execute(context.Background(),
		map[string]any{"command": "sleep 5"}, alloy.ToolContext{})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestFailingCommandReturnsOutput(t *testing.T) {
	tool := New(t.TempDir())
	_, err := tool.Execute(context.Background(),
		map[string]any{"command": "echo oops >&2; exit 3"}, alloy.ToolContext{})
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Errorf("err = %v, want stderr echoed", err)
	}
}
