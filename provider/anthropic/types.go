package anthropic

import (
	"fmt"

	alloy "github.com/alloyhq/alloy"
)

// --- wire types ---

type request struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
	Thinking  *thinkingOpt  `json:"thinking,omitempty"`
}

type thinkingOpt struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	Source *mediaSource `json:"source,omitempty"`
}

type mediaSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type response struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// --- conversion ---

// encodeMessages translates normalized messages to the wire format. Text,
// tool_use, tool_result, and thinking blocks map losslessly; thinking
// blocks are re-submitted verbatim with their signatures. Inline images map
// to base64 sources; other media degrades to a text notice.
func encodeMessages(messages []alloy.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role)}
		for _, b := range m.Blocks {
			wm.Content = append(wm.Content, encodeBlock(b))
		}
		out = append(out, wm)
	}
	return out
}

func encodeBlock(b alloy.ContentBlock) wireBlock {
	switch b.Type {
	case alloy.BlockText:
		return wireBlock{Type: "text", Text: b.Text}
	case alloy.BlockToolUse:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return wireBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input}
	case alloy.BlockToolResult:
		return wireBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
	case alloy.BlockThinking:
		return wireBlock{Type: "thinking", Thinking: b.Thinking, Signature: b.Signature}
	case alloy.BlockImage:
		return wireBlock{Type: "image", Source: &mediaSource{Type: "base64", MediaType: b.MimeType, Data: b.Data}}
	default:
		// Audio, video, and referenced documents have no wire equivalent
		// here; degrade to a notice rather than dropping the block.
		return wireBlock{Type: "text", Text: fmt.Sprintf("[unsupported %s content: %s]", b.Type, b.MimeType)}
	}
}

func decodeBlocks(blocks []wireBlock) []alloy.ContentBlock {
	out := make([]alloy.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, alloy.ContentBlock{Type: alloy.BlockText, Text: b.Text})
		case "tool_use":
			out = append(out, alloy.ContentBlock{Type: alloy.BlockToolUse, ID: b.ID, Name: b.Name, Input: b.Input})
		case "thinking":
			out = append(out, alloy.ContentBlock{Type: alloy.BlockThinking, Thinking: b.Thinking, Signature: b.Signature})
		case "redacted_thinking":
			// Preserve opaque redacted reasoning in the signature slot so it
			// round-trips on the next turn.
			out = append(out, alloy.ContentBlock{Type: alloy.BlockThinking, Signature: b.Signature})
		}
	}
	return out
}

func decodeUsage(u wireUsage) alloy.Usage {
	return alloy.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

func decodeStopReason(s string) alloy.StopReason {
	if s == "tool_use" {
		return alloy.StopToolUse
	}
	return alloy.StopEndTurn
}

func encodeTools(tools []alloy.ToolDefinition) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}
