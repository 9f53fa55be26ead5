package openaicompat

import (
	"encoding/json"

	alloy "github.com/alloyhq/alloy"
)

// parseResponse converts a full chat-completions response into the
// normalized result. Tool-call arguments arrive as JSON strings and are
// decoded with a fallible decoder: malformed model output surfaces as a
// provider-level error rather than crashing the agent.
func parseResponse(resp chatResponse) (alloy.CompleteResult, error) {
	var out alloy.CompleteResult
	out.StopReason = alloy.StopEndTurn

	if resp.Usage != nil {
		out.Usage = decodeUsage(resp.Usage)
	}
	if len(resp.Choices) == 0 {
		out.Messages = []alloy.Message{{Role: alloy.RoleAssistant}}
		return out, nil
	}

	ch := resp.Choices[0]
	msg := ch.Message
	if msg == nil {
		out.Messages = []alloy.Message{{Role: alloy.RoleAssistant}}
		return out, nil
	}

	var blocks []alloy.ContentBlock
	if msg.ReasoningContent != "" {
		blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockThinking, Thinking: msg.ReasoningContent})
	}
	if msg.Content != "" {
		blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockText, Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		block, err := decodeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return alloy.CompleteResult{}, err
		}
		blocks = append(blocks, block)
	}

	if len(msg.ToolCalls) > 0 || ch.FinishReason == "tool_calls" {
		out.StopReason = alloy.StopToolUse
	}
	out.Messages = []alloy.Message{{Role: alloy.RoleAssistant, Blocks: blocks}}
	return out, nil
}

func decodeToolCall(id, name, arguments string) (alloy.ContentBlock, error) {
	input := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &input); err != nil {
			return alloy.ContentBlock{}, &alloy.ProviderError{
				Provider: "openai",
				Message:  "malformed tool arguments for " + name + ": " + err.Error(),
			}
		}
	}
	return alloy.ContentBlock{Type: alloy.BlockToolUse, ID: id, Name: name, Input: input}, nil
}

func decodeUsage(u *usageWire) alloy.Usage {
	usage := alloy.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		usage.CacheReadInputTokens = u.PromptTokensDetails.CachedTokens
	}
	return usage
}
