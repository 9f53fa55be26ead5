package alloy

import (
	"context"
	"strings"
)

// summaryMarker prefixes the assistant message a compaction pass produces,
// so successive passes fold earlier summaries together.
const summaryMarker = "[Conversation summary]\n"

// estimateTokens approximates the token count of a conversation as total
// characters divided by four. Deliberately cheap; billing-accurate
// tokenization is out of scope.
func estimateTokens(messages []Message) int {
	var chars int
	for _, m := range messages {
		chars += m.chars()
	}
	return chars / 4
}

// overBudget reports whether the conversation estimate has reached the
// compaction threshold.
func overBudget(messages []Message, maxTokens int, compactAt float64) bool {
	if maxTokens <= 0 {
		return false
	}
	return float64(estimateTokens(messages)) >= compactAt*float64(maxTokens)
}

// compactMessages summarizes the oldest contiguous prefix of the
// conversation into a single assistant message. The most recent user
// message and the final assistant+tool_result pair are always retained
// intact, and a tool_use/tool_result pair is never split across the
// boundary. Returns the original slice on summarization failure (degrade,
// don't die). Idempotent once the estimate is back under the threshold.
func (l *turnLoop) compactMessages(ctx context.Context, messages []Message) []Message {
	keepFrom := compactBoundary(messages)
	if keepFrom <= 0 {
		return messages
	}

	if l.cfg.Tracer != nil {
		var span Span
		ctx, span = l.cfg.Tracer.Start(ctx, "agent.compact",
			IntAttr("messages_summarized", keepFrom),
			IntAttr("estimated_tokens", estimateTokens(messages)))
		defer span.End()
	}

	var transcript strings.Builder
	for _, m := range messages[:keepFrom] {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(renderForSummary(m))
		transcript.WriteString("\n---\n")
	}

	sumCfg := l.cfg.ProviderConfig
	sumCfg.System = "Summarize the conversation so far concisely. Preserve key facts, data values, decisions, tool outcomes, and errors. Omit redundant details."
	res, err := l.cfg.Provider.Complete(ctx, []Message{UserMessage(transcript.String())}, nil, sumCfg)
	if err != nil {
		l.cfg.Logger.Warn("compaction failed, continuing uncompacted", "error", err)
		return messages
	}
	var summary string
	for _, m := range res.Messages {
		summary += m.Text()
	}

	compacted := make([]Message, 0, 1+len(messages)-keepFrom)
	compacted = append(compacted, AssistantMessage(summaryMarker+summary))
	compacted = append(compacted, messages[keepFrom:]...)

	l.cfg.Logger.Info("context compacted",
		"messages_before", len(messages),
		"messages_after", len(compacted),
		"tokens_before", estimateTokens(messages),
		"tokens_after", estimateTokens(compacted))
	return compacted
}

// compactBoundary returns the index of the first message to retain. Walks
// back from the tail to cover the final assistant message, its tool_result
// reply if any, and the most recent real user message; then widens further
// so the boundary never lands between a tool_result message and the
// assistant that issued the tool_use.
func compactBoundary(messages []Message) int {
	if len(messages) < 3 {
		return 0
	}

	keepFrom := len(messages)
	// Final assistant message and, if it follows one, its tool_result reply.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			keepFrom = i
			break
		}
	}
	// Most recent user message carrying actual user text.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == RoleUser && !isToolResultMessage(m) {
			if i < keepFrom {
				keepFrom = i
			}
			break
		}
	}
	// Never split a tool_use/tool_result pair.
	for keepFrom > 0 && isToolResultMessage(messages[keepFrom]) {
		keepFrom--
	}
	return keepFrom
}

func isToolResultMessage(m Message) bool {
	if m.Role != RoleUser || len(m.Blocks) == 0 {
		return false
	}
	for _, b := range m.Blocks {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// renderForSummary flattens a message's blocks into text for the
// summarization prompt.
func renderForSummary(m Message) string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			sb.WriteString(b.Text)
		case BlockToolUse:
			sb.WriteString("[called tool " + b.Name + "]")
		case BlockToolResult:
			sb.WriteString("[tool result] " + b.Content)
		case BlockThinking:
			// Opaque reasoning stays out of summaries.
		default:
			sb.WriteString("[" + string(b.Type) + " content]")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
