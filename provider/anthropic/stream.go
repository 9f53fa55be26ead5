package anthropic

import (
	"encoding/json"
	"io"
	"strings"

	alloy "github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/provider/sse"
)

// streamEvent is the union of the Messages API streaming payloads.
type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *wireBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage"`
}

// blockAccumulator assembles one content block across start/delta/stop.
type blockAccumulator struct {
	kind      string
	id        string
	name      string
	text      strings.Builder
	argsJSON  strings.Builder
	thinking  strings.Builder
	signature strings.Builder
}

// foldStream consumes the SSE stream and reconstructs the assistant message
// exactly as Complete would have returned it: text, tool_use (with parsed
// input), and thinking blocks with their signatures, in block-index order.
func foldStream(body io.Reader, onChunk alloy.ChunkFunc, onEvent alloy.EventFunc) (alloy.CompleteResult, error) {
	scanner := sse.NewScanner(body)

	var usage wireUsage
	stopReason := "end_turn"
	blocks := map[int]*blockAccumulator{}
	var order []int

	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return alloy.CompleteResult{}, wireErr(err)
		}

		var payload streamEvent
		if jsonErr := json.Unmarshal([]byte(ev.Data), &payload); jsonErr != nil {
			// Keepalive pings and unknown frames are skipped, not fatal.
			continue
		}

		switch payload.Type {
		case "message_start":
			if payload.Message != nil {
				usage.InputTokens = payload.Message.Usage.InputTokens
				usage.CacheCreationInputTokens = payload.Message.Usage.CacheCreationInputTokens
				usage.CacheReadInputTokens = payload.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			if payload.ContentBlock == nil {
				continue
			}
			acc := &blockAccumulator{
				kind: payload.ContentBlock.Type,
				id:   payload.ContentBlock.ID,
				name: payload.ContentBlock.Name,
			}
			acc.text.WriteString(payload.ContentBlock.Text)
			acc.thinking.WriteString(payload.ContentBlock.Thinking)
			blocks[payload.Index] = acc
			order = append(order, payload.Index)

		case "content_block_delta":
			acc := blocks[payload.Index]
			if payload.Delta == nil || acc == nil {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				acc.text.WriteString(payload.Delta.Text)
				if onChunk != nil && payload.Delta.Text != "" {
					onChunk(payload.Delta.Text)
				}
			case "thinking_delta":
				acc.thinking.WriteString(payload.Delta.Thinking)
				if onEvent != nil && payload.Delta.Thinking != "" {
					onEvent(alloy.Event{Type: alloy.EventThinkingDelta, Text: payload.Delta.Thinking})
				}
			case "input_json_delta":
				acc.argsJSON.WriteString(payload.Delta.PartialJSON)
			case "signature_delta":
				acc.signature.WriteString(payload.Delta.Signature)
			}

		case "message_delta":
			if payload.Delta != nil && payload.Delta.StopReason != "" {
				stopReason = payload.Delta.StopReason
			}
			if payload.Usage != nil && payload.Usage.OutputTokens > 0 {
				usage.OutputTokens = payload.Usage.OutputTokens
			}

		case "message_stop":
			// Terminal frame; the scanner drains to EOF next.
		}
	}

	var out []alloy.ContentBlock
	for _, idx := range order {
		acc := blocks[idx]
		switch acc.kind {
		case "text":
			out = append(out, alloy.ContentBlock{Type: alloy.BlockText, Text: acc.text.String()})
		case "thinking":
			out = append(out, alloy.ContentBlock{
				Type:      alloy.BlockThinking,
				Thinking:  acc.thinking.String(),
				Signature: acc.signature.String(),
			})
		case "redacted_thinking":
			out = append(out, alloy.ContentBlock{Type: alloy.BlockThinking, Signature: acc.signature.String()})
		case "tool_use":
			input := map[string]any{}
			if raw := acc.argsJSON.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return alloy.CompleteResult{}, &alloy.ProviderError{
						Provider: "anthropic",
						Message:  "malformed tool arguments for " + acc.name + ": " + err.Error(),
					}
				}
			}
			out = append(out, alloy.ContentBlock{Type: alloy.BlockToolUse, ID: acc.id, Name: acc.name, Input: input})
		}
	}

	return alloy.CompleteResult{
		StopReason: decodeStopReason(stopReason),
		Messages:   []alloy.Message{{Role: alloy.RoleAssistant, Blocks: out}},
		Usage:      decodeUsage(usage),
	}, nil
}
