package openaicompat

import (
	"strings"
	"testing"

	alloy "github.com/alloyhq/alloy"
)

func TestParseResponseTextAndUsage(t *testing.T) {
	resp := chatResponse{
		Choices: []choice{{
			Message:      &wireMessage{Role: "assistant", Content: "Hello!"},
			FinishReason: "stop",
		}},
		Usage: &usageWire{PromptTokens: 12, CompletionTokens: 5},
	}
	res, err := parseResponse(resp)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if res.StopReason != alloy.StopEndTurn {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	if res.Messages[0].Text() != "Hello!" {
		t.Errorf("text = %q", res.Messages[0].Text())
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestParseResponseToolCalls(t *testing.T) {
	resp := chatResponse{
		Choices: []choice{{
			Message: &wireMessage{
				Role: "assistant",
				ToolCalls: []toolCallWire{{
					ID:       "call_1",
					Type:     "function",
					Function: funcWire{Name: "echo", Arguments: `{"text":"world"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
	res, err := parseResponse(resp)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if res.StopReason != alloy.StopToolUse {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	b := res.Messages[0].Blocks[0]
	if b.Type != alloy.BlockToolUse || b.ID != "call_1" || b.Name != "echo" || b.Input["text"] != "world" {
		t.Errorf("block = %+v", b)
	}
}

func TestParseResponseMalformedArguments(t *testing.T) {
	resp := chatResponse{
		Choices: []choice{{
			Message: &wireMessage{
				Role: "assistant",
				ToolCalls: []toolCallWire{{
					ID:       "call_1",
					Function: funcWire{Name: "echo", Arguments: `{"text": unterminated`},
				}},
			},
		}},
	}
	_, err := parseResponse(resp)
	if err == nil {
		t.Fatal("malformed arguments must error")
	}
	if alloy.Retryable(err) {
		t.Errorf("malformed model output must be non-retryable: %v", err)
	}
}

func TestParseResponseReasoningContent(t *testing.T) {
	resp := chatResponse{
		Choices: []choice{{
			Message: &wireMessage{Role: "assistant", Content: "answer", ReasoningContent: "step by step"},
		}},
	}
	res, err := parseResponse(resp)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	blocks := res.Messages[0].Blocks
	if blocks[0].Type != alloy.BlockThinking || blocks[0].Thinking != "step by step" {
		t.Errorf("thinking = %+v", blocks[0])
	}
	if blocks[1].Text != "answer" {
		t.Errorf("text = %+v", blocks[1])
	}
}

func TestBuildRequestShapes(t *testing.T) {
	messages := []alloy.Message{
		alloy.UserMessage("hi"),
		{Role: alloy.RoleAssistant, Blocks: []alloy.ContentBlock{
			alloy.TextBlock("calling a tool"),
			alloy.ToolUseBlock("call_1", "echo", map[string]any{"text": "x"}),
		}},
		alloy.ToolResultMessage(alloy.ToolResultBlock("call_1", "Echo: x", false)),
		alloy.UserMessage("thanks"),
	}
	req := buildRequest(messages, []alloy.ToolDefinition{{Name: "echo", InputSchema: map[string]any{"type": "object"}}},
		alloy.ProviderConfig{Model: "gpt-4o", System: "be nice"}, false)

	if req.Messages[0].Role != "system" || req.Messages[0].Content != "be nice" {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "user" {
		t.Errorf("user message = %+v", req.Messages[1])
	}

	asst := req.Messages[2]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", asst)
	}
	if asst.ToolCalls[0].ID != "call_1" || !strings.Contains(asst.ToolCalls[0].Function.Arguments, `"text":"x"`) {
		t.Errorf("tool call = %+v", asst.ToolCalls[0])
	}

	toolMsg := req.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "Echo: x" {
		t.Errorf("tool message = %+v", toolMsg)
	}

	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "echo" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestBuildRequestErrorToolResult(t *testing.T) {
	messages := []alloy.Message{
		alloy.ToolResultMessage(alloy.ToolResultBlock("call_9", "boom", true)),
	}
	req := buildRequest(messages, nil, alloy.ProviderConfig{Model: "m"}, false)
	if req.Messages[0].Content != "error: boom" {
		t.Errorf("error result content = %q", req.Messages[0].Content)
	}
}
