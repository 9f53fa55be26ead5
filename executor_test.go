package alloy

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestExecutor(tools ...Tool) *toolExecutor {
	registry := NewToolRegistry()
	for _, t := range tools {
		registry.Add(t)
	}
	return newToolExecutor(registry, nopLogger, nil)
}

func execState(mws ...Middleware) *State {
	return &State{
		Config:  &AgentConfig{Middleware: mws},
		Context: map[string]any{},
	}
}

func TestExecutorPreservesDeclaredOrder(t *testing.T) {
	// slow finishes last but is declared first.
	exec := newTestExecutor(slowTool("slow", 50*time.Millisecond), echoTool())
	uses := []ContentBlock{
		ToolUseBlock("t1", "slow", nil),
		ToolUseBlock("t2", "echo", map[string]any{"text": "fast"}),
	}

	msg, d := exec.execute(context.Background(), execState(), uses, ToolContext{}, time.Time{})
	if d.Halted {
		t.Fatalf("unexpected halt: %+v", d)
	}
	if len(msg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(msg.Blocks))
	}
	if msg.Blocks[0].ToolUseID != "t1" || msg.Blocks[1].ToolUseID != "t2" {
		t.Errorf("order = %s, %s; want t1, t2", msg.Blocks[0].ToolUseID, msg.Blocks[1].ToolUseID)
	}
	if msg.Blocks[0].Content != "slow done" || msg.Blocks[1].Content != "Echo: fast" {
		t.Errorf("contents = %q, %q", msg.Blocks[0].Content, msg.Blocks[1].Content)
	}
	if msg.Role != RoleUser {
		t.Errorf("role = %s, want user", msg.Role)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	exec := newTestExecutor(echoTool())
	uses := []ContentBlock{ToolUseBlock("t9", "nope", nil)}

	msg, _ := exec.execute(context.Background(), execState(), uses, ToolContext{}, time.Time{})
	b := msg.Blocks[0]
	if !b.IsError || b.ToolUseID != "t9" {
		t.Errorf("block = %+v", b)
	}
	if b.Content != "Unknown tool: nope" {
		t.Errorf("content = %q", b.Content)
	}
}

func TestExecutorPanicKeepsToolUseID(t *testing.T) {
	panicky := ToolFunc(ToolDefinition{Name: "boom"}, func(context.Context, map[string]any, ToolContext) (string, error) {
		panic("kaboom")
	})
	exec := newTestExecutor(panicky)
	uses := []ContentBlock{ToolUseBlock("t42", "boom", nil)}

	msg, _ := exec.execute(context.Background(), execState(), uses, ToolContext{}, time.Time{})
	b := msg.Blocks[0]
	if b.ToolUseID != "t42" {
		t.Errorf("tool_use_id = %q, want t42 even on panic", b.ToolUseID)
	}
	if !b.IsError || !strings.Contains(b.Content, "kaboom") {
		t.Errorf("block = %+v", b)
	}
}

func TestExecutorTimeoutKeepsToolUseID(t *testing.T) {
	exec := newTestExecutor(slowTool("sleepy", time.Second))
	uses := []ContentBlock{ToolUseBlock("t7", "sleepy", nil)}

	deadline := time.Now().Add(30 * time.Millisecond)
	msg, _ := exec.execute(context.Background(), execState(), uses, ToolContext{}, deadline)
	b := msg.Blocks[0]
	if b.ToolUseID != "t7" {
		t.Errorf("tool_use_id = %q, want t7 even on timeout", b.ToolUseID)
	}
	if !b.IsError {
		t.Errorf("block = %+v, want is_error", b)
	}
}

func TestExecutorToolErrorBecomesErrorResult(t *testing.T) {
	failing := ToolFunc(ToolDefinition{Name: "fail"}, func(context.Context, map[string]any, ToolContext) (string, error) {
		return "", context.DeadlineExceeded
	})
	exec := newTestExecutor(failing)
	uses := []ContentBlock{ToolUseBlock("t1", "fail", nil)}

	msg, _ := exec.execute(context.Background(), execState(), uses, ToolContext{}, time.Time{})
	if !msg.Blocks[0].IsError {
		t.Errorf("block = %+v", msg.Blocks[0])
	}
}

func TestExecutorBlockSynthesizesErrorResult(t *testing.T) {
	blockEcho := MiddlewareFunc(func(_ context.Context, hook Hook, st *State) Decision {
		if hook == HookBeforeToolCall && st.ToolCall != nil && st.ToolCall.Name == "echo" {
			return Block("echo is off limits")
		}
		return Continue()
	})
	exec := newTestExecutor(echoTool(), slowTool("ok", time.Millisecond))
	uses := []ContentBlock{
		ToolUseBlock("t1", "echo", map[string]any{"text": "x"}),
		ToolUseBlock("t2", "ok", nil),
	}

	msg, d := exec.execute(context.Background(), execState(blockEcho), uses, ToolContext{}, time.Time{})
	if d.Halted {
		t.Fatalf("block must not halt: %+v", d)
	}
	if !msg.Blocks[0].IsError || msg.Blocks[0].Content != "echo is off limits" || msg.Blocks[0].ToolUseID != "t1" {
		t.Errorf("blocked result = %+v", msg.Blocks[0])
	}
	if msg.Blocks[1].IsError {
		t.Errorf("unblocked tool failed: %+v", msg.Blocks[1])
	}
}

func TestExecutorHaltAbortsImmediately(t *testing.T) {
	ran := false
	observer := ToolFunc(ToolDefinition{Name: "observer"}, func(context.Context, map[string]any, ToolContext) (string, error) {
		ran = true
		return "ok", nil
	})
	halter := MiddlewareFunc(func(_ context.Context, hook Hook, _ *State) Decision {
		if hook == HookBeforeToolCall {
			return Halt("stop everything")
		}
		return Continue()
	})
	exec := newTestExecutor(observer)
	uses := []ContentBlock{ToolUseBlock("t1", "observer", nil)}

	_, d := exec.execute(context.Background(), execState(halter), uses, ToolContext{}, time.Time{})
	if !d.Halted || d.Reason != "stop everything" {
		t.Fatalf("decision = %+v", d)
	}
	if ran {
		t.Error("tool must not run after halt")
	}
}

func TestExecutorSchemaValidation(t *testing.T) {
	exec := newTestExecutor(echoTool())
	// echo requires a string "text"; send a number instead.
	uses := []ContentBlock{ToolUseBlock("t1", "echo", map[string]any{"text": 42.0})}

	msg, _ := exec.execute(context.Background(), execState(), uses, ToolContext{}, time.Time{})
	b := msg.Blocks[0]
	if !b.IsError || !strings.Contains(b.Content, "invalid input") {
		t.Errorf("block = %+v, want schema validation error", b)
	}
	if b.ToolUseID != "t1" {
		t.Errorf("tool_use_id = %q", b.ToolUseID)
	}
}
