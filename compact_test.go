package alloy

import (
	"context"
	"strings"
	"testing"
)

func testLoop(provider Provider) *turnLoop {
	cfg := buildAgentConfig(provider, nil)
	return newTurnLoop(cfg, "test-agent", newToolExecutor(NewToolRegistry(), nopLogger, nil))
}

func TestEstimateTokensCharsOverFour(t *testing.T) {
	messages := []Message{
		UserMessage(strings.Repeat("a", 100)),
		AssistantMessage(strings.Repeat("b", 100)),
	}
	if got := estimateTokens(messages); got != 50 {
		t.Errorf("estimateTokens = %d, want 50", got)
	}
}

func TestOverBudgetThreshold(t *testing.T) {
	messages := []Message{UserMessage(strings.Repeat("a", 400))} // ~100 tokens
	tests := []struct {
		maxTokens int
		compactAt float64
		want      bool
	}{
		{0, 0.9, false},    // budget disabled
		{1000, 0.9, false}, // 100 < 900
		{111, 0.9, true},   // 100 >= 99.9
		{100, 0.9, true},
		{112, 0.9, false}, // 100 < 100.8
	}
	for _, tt := range tests {
		if got := overBudget(messages, tt.maxTokens, tt.compactAt); got != tt.want {
			t.Errorf("overBudget(max=%d, at=%.2f) = %v, want %v", tt.maxTokens, tt.compactAt, got, tt.want)
		}
	}
}

func TestCompactBoundaryNeverSplitsToolPair(t *testing.T) {
	messages := []Message{
		UserMessage("old question"),
		AssistantMessage("old answer"),
		UserMessage("latest question"),
		{Role: RoleAssistant, Blocks: []ContentBlock{ToolUseBlock("t1", "echo", nil)}},
		ToolResultMessage(ToolResultBlock("t1", "result", false)),
	}
	keepFrom := compactBoundary(messages)
	// The retained suffix must include the latest user message (index 2)
	// and the final assistant+tool_result pair intact.
	if keepFrom > 2 {
		t.Errorf("keepFrom = %d, drops the latest user message", keepFrom)
	}
	if keepFrom > 0 && isToolResultMessage(messages[keepFrom]) {
		t.Errorf("keepFrom = %d lands on a tool_result, splitting the pair", keepFrom)
	}
}

func TestCompactBoundaryShortConversation(t *testing.T) {
	messages := []Message{UserMessage("hi"), AssistantMessage("hello")}
	if got := compactBoundary(messages); got != 0 {
		t.Errorf("compactBoundary = %d, want 0 for short conversations", got)
	}
}

func TestCompactMessagesSummarizesPrefix(t *testing.T) {
	provider := newScriptProvider(textResponse("summary of the early exchange"))
	l := testLoop(provider)

	messages := []Message{
		UserMessage(strings.Repeat("first question ", 50)),
		AssistantMessage(strings.Repeat("first answer ", 50)),
		UserMessage(strings.Repeat("second question ", 50)),
		AssistantMessage(strings.Repeat("second answer ", 50)),
		UserMessage("latest question"),
		AssistantMessage("latest answer"),
	}

	compacted := l.compactMessages(context.Background(), messages)
	if len(compacted) >= len(messages) {
		t.Fatalf("compaction did not shrink: %d -> %d", len(messages), len(compacted))
	}
	first := compacted[0]
	if first.Role != RoleAssistant || !strings.HasPrefix(first.Text(), summaryMarker) {
		t.Errorf("first message = %+v, want summary assistant message", first)
	}
	last := compacted[len(compacted)-1]
	if last.Text() != "latest answer" {
		t.Errorf("tail lost: last = %q", last.Text())
	}
	// The retained latest user message is still present.
	var sawLatest bool
	for _, m := range compacted {
		if m.Role == RoleUser && m.Text() == "latest question" {
			sawLatest = true
		}
	}
	if !sawLatest {
		t.Error("latest user message was summarized away")
	}
}

func TestCompactMessagesDegradesOnProviderError(t *testing.T) {
	provider := newScriptProvider(errStep("HTTP 500: summarizer down"))
	l := testLoop(provider)

	messages := []Message{
		UserMessage("one"), AssistantMessage("two"),
		UserMessage("three"), AssistantMessage("four"),
	}
	got := l.compactMessages(context.Background(), messages)
	if len(got) != len(messages) {
		t.Errorf("failed compaction must leave messages untouched: %d -> %d", len(messages), len(got))
	}
}

func TestCompactionIdempotentUnderThreshold(t *testing.T) {
	// Small conversation, generous budget: loop must not call the
	// summarizer at all.
	provider := newScriptProvider(textResponse("done"))
	res, err := Run(context.Background(), provider, "hi", WithMaxTokens(100000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if provider.consumed() != 1 {
		t.Errorf("script consumed = %d, want 1 (no compaction call)", provider.consumed())
	}
}
