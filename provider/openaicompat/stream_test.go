package openaicompat

import (
	"strings"
	"testing"

	alloy "github.com/alloyhq/alloy"
)

func TestFoldStreamTextAndToolCalls(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"echo","arguments":"{\"te"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"xt\":\"w\"}"}}]},"finish_reason":"tool_calls"}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":8,"completion_tokens":4,"prompt_tokens_details":{"cached_tokens":2}}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var chunks []string
	res, err := foldStream(strings.NewReader(stream), func(text string) {
		chunks = append(chunks, text)
	}, nil)
	if err != nil {
		t.Fatalf("foldStream: %v", err)
	}

	if strings.Join(chunks, "") != "Hello" {
		t.Errorf("chunks = %v", chunks)
	}
	if res.StopReason != alloy.StopToolUse {
		t.Errorf("stop reason = %s", res.StopReason)
	}

	blocks := res.Messages[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].Text != "Hello" {
		t.Errorf("text = %+v", blocks[0])
	}
	if blocks[1].ID != "call_1" || blocks[1].Name != "echo" || blocks[1].Input["text"] != "w" {
		t.Errorf("tool call = %+v", blocks[1])
	}

	// Usage arrives in a trailing chunk with no choices.
	if res.Usage.InputTokens != 8 || res.Usage.OutputTokens != 4 || res.Usage.CacheReadInputTokens != 2 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestFoldStreamReasoningDeltas(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"reasoning_content":"think"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"answer"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var thinking []string
	res, err := foldStream(strings.NewReader(stream), nil, func(ev alloy.Event) {
		if ev.Type == alloy.EventThinkingDelta {
			thinking = append(thinking, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("foldStream: %v", err)
	}
	if strings.Join(thinking, "") != "think" {
		t.Errorf("thinking = %v", thinking)
	}
	blocks := res.Messages[0].Blocks
	if blocks[0].Type != alloy.BlockThinking || blocks[0].Thinking != "think" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestFoldStreamMalformedChunkSkipped(t *testing.T) {
	stream := strings.Join([]string{
		`data: {broken json`,
		``,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	res, err := foldStream(strings.NewReader(stream), nil, nil)
	if err != nil {
		t.Fatalf("foldStream: %v", err)
	}
	if res.Messages[0].Text() != "ok" {
		t.Errorf("text = %q", res.Messages[0].Text())
	}
}
