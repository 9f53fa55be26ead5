package openaicompat

import (
	"encoding/json"
	"fmt"

	alloy "github.com/alloyhq/alloy"
)

// buildRequest translates normalized messages to the chat-completions
// shape. The system prompt becomes a leading system message; tool_result
// blocks become role "tool" messages keyed by tool_call_id; thinking maps
// to reasoning_content (the convention reasoning-capable compatible
// servers use — signatures have no wire slot here). Media degrades to a
// text notice.
func buildRequest(messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig, stream bool) request {
	var wire []wireMessage
	if cfg.System != "" {
		wire = append(wire, wireMessage{Role: "system", Content: cfg.System})
	}

	for _, m := range messages {
		switch m.Role {
		case alloy.RoleAssistant:
			wm := wireMessage{Role: "assistant"}
			for _, b := range m.Blocks {
				switch b.Type {
				case alloy.BlockText:
					wm.Content += b.Text
				case alloy.BlockThinking:
					wm.ReasoningContent += b.Thinking
				case alloy.BlockToolUse:
					args, err := json.Marshal(b.Input)
					if err != nil {
						args = []byte("{}")
					}
					wm.ToolCalls = append(wm.ToolCalls, toolCallWire{
						ID:       b.ID,
						Type:     "function",
						Function: funcWire{Name: b.Name, Arguments: string(args)},
					})
				default:
					wm.Content += mediaNotice(b)
				}
			}
			wire = append(wire, wm)

		case alloy.RoleUser:
			var user wireMessage
			user.Role = "user"
			hasUserContent := false
			for _, b := range m.Blocks {
				switch b.Type {
				case alloy.BlockToolResult:
					content := b.Content
					if b.IsError {
						content = "error: " + content
					}
					wire = append(wire, wireMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: content})
				case alloy.BlockText:
					user.Content += b.Text
					hasUserContent = true
				default:
					user.Content += mediaNotice(b)
					hasUserContent = true
				}
			}
			if hasUserContent {
				wire = append(wire, user)
			}
		}
	}

	return request{
		Model:     cfg.Model,
		Messages:  wire,
		Tools:     encodeTools(tools),
		MaxTokens: cfg.MaxTokens,
		Stream:    stream,
	}
}

func encodeTools(tools []alloy.ToolDefinition) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out = append(out, wireTool{
			Type:     "function",
			Function: funcDefWire{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return out
}

func mediaNotice(b alloy.ContentBlock) string {
	return fmt.Sprintf("[unsupported %s content: %s]", b.Type, b.MimeType)
}
