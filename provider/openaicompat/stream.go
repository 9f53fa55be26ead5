package openaicompat

import (
	"encoding/json"
	"io"
	"strings"

	alloy "github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/provider/sse"
)

// partialToolCall accumulates one streamed tool call. Arguments arrive as
// string fragments keyed by index.
type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// foldStream consumes the SSE stream and accumulates the full response:
// text deltas go to onChunk, reasoning deltas to onEvent, indexed tool
// calls assemble across chunks, and usage may arrive in a trailing chunk
// with no choices. The [DONE] sentinel ends the stream.
func foldStream(body io.Reader, onChunk alloy.ChunkFunc, onEvent alloy.EventFunc) (alloy.CompleteResult, error) {
	scanner := sse.NewScanner(body)

	var content, reasoning strings.Builder
	var toolCalls []*partialToolCall
	var usage alloy.Usage
	finishReason := ""

	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return alloy.CompleteResult{}, wireErr(err)
		}
		if ev.Data == sse.Done {
			break
		}

		var chunk chatResponse
		if jsonErr := json.Unmarshal([]byte(ev.Data), &chunk); jsonErr != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			usage = decodeUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			// Usage-only chunk.
			continue
		}

		ch := chunk.Choices[0]
		if ch.FinishReason != "" {
			finishReason = ch.FinishReason
		}
		delta := ch.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content)
			}
		}
		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			if onEvent != nil {
				onEvent(alloy.Event{Type: alloy.EventThinkingDelta, Text: delta.ReasoningContent})
			}
		}

		for _, tc := range delta.ToolCalls {
			for len(toolCalls) <= tc.Index {
				toolCalls = append(toolCalls, &partialToolCall{})
			}
			acc := toolCalls[tc.Index]
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}

	var blocks []alloy.ContentBlock
	if reasoning.Len() > 0 {
		blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockThinking, Thinking: reasoning.String()})
	}
	if content.Len() > 0 {
		blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockText, Text: content.String()})
	}
	for _, acc := range toolCalls {
		block, err := decodeToolCall(acc.id, acc.name, acc.args.String())
		if err != nil {
			return alloy.CompleteResult{}, err
		}
		blocks = append(blocks, block)
	}

	stopReason := alloy.StopEndTurn
	if len(toolCalls) > 0 || finishReason == "tool_calls" {
		stopReason = alloy.StopToolUse
	}

	return alloy.CompleteResult{
		StopReason: stopReason,
		Messages:   []alloy.Message{{Role: alloy.RoleAssistant, Blocks: blocks}},
		Usage:      usage,
	}, nil
}
