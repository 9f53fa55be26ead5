package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	alloy "github.com/alloyhq/alloy"
)

func testConfig(baseURL string) alloy.ProviderConfig {
	return alloy.ProviderConfig{Model: "claude-sonnet-4-5", APIKey: "sk-test", BaseURL: baseURL}
}

func TestCompleteRoundTrip(t *testing.T) {
	var captured request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "thinking", "thinking": "pondering...", "signature": "sig-abc"},
				{"type": "text", "text": "Hello!"}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 7, "cache_read_input_tokens": 3}
		}`)
	}))
	defer server.Close()

	p := New()
	messages := []alloy.Message{
		alloy.UserMessage("hi"),
		{Role: alloy.RoleAssistant, Blocks: []alloy.ContentBlock{
			{Type: alloy.BlockThinking, Thinking: "earlier thoughts", Signature: "sig-earlier"},
			alloy.TextBlock("previous reply"),
		}},
		alloy.UserMessage("again"),
	}
	res, err := p.Complete(context.Background(), messages, nil, testConfig(server.URL))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Thinking blocks re-submit verbatim with their signatures.
	sent := captured.Messages[1].Content[0]
	if sent.Type != "thinking" || sent.Thinking != "earlier thoughts" || sent.Signature != "sig-earlier" {
		t.Errorf("thinking not round-tripped: %+v", sent)
	}

	if res.StopReason != alloy.StopEndTurn {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	blocks := res.Messages[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	if blocks[0].Type != alloy.BlockThinking || blocks[0].Thinking != "pondering..." || blocks[0].Signature != "sig-abc" {
		t.Errorf("thinking block = %+v", blocks[0])
	}
	if blocks[1].Text != "Hello!" {
		t.Errorf("text block = %+v", blocks[1])
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 7 || res.Usage.CacheReadInputTokens != 3 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestCompleteToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{
			"content": [{"type": "tool_use", "id": "toolu_1", "name": "echo", "input": {"text": "world"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 5, "output_tokens": 2}
		}`)
	}))
	defer server.Close()

	p := New()
	res, err := p.Complete(context.Background(), []alloy.Message{alloy.UserMessage("go")}, nil, testConfig(server.URL))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.StopReason != alloy.StopToolUse {
		t.Errorf("stop reason = %s", res.StopReason)
	}
	b := res.Messages[0].Blocks[0]
	if b.Type != alloy.BlockToolUse || b.ID != "toolu_1" || b.Name != "echo" || b.Input["text"] != "world" {
		t.Errorf("block = %+v", b)
	}
}

func TestCompleteHTTPErrorIsKindPrefixed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(429)
		io.WriteString(w, `{"error":{"type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	p := New()
	_, err := p.Complete(context.Background(), []alloy.Message{alloy.UserMessage("hi")}, nil, testConfig(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 429") {
		t.Errorf("error = %q, want HTTP 429 prefix", err)
	}
	if !alloy.Retryable(err) {
		t.Error("429 must classify as retryable")
	}
}

func TestStreamFoldsEvents(t *testing.T) {
	stream := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":9}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me think"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-1"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_9","name":"echo"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"text\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"world\"}"}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":21}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, stream)
	}))
	defer server.Close()

	p := New()
	var chunks []string
	var thinking []string
	res, err := p.Stream(context.Background(), []alloy.Message{alloy.UserMessage("go")}, nil, testConfig(server.URL),
		func(text string) { chunks = append(chunks, text) },
		func(ev alloy.Event) {
			if ev.Type == alloy.EventThinkingDelta {
				thinking = append(thinking, ev.Text)
			}
		})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if strings.Join(chunks, "") != "Hello" {
		t.Errorf("chunks = %v", chunks)
	}
	if strings.Join(thinking, "") != "let me think" {
		t.Errorf("thinking deltas = %v", thinking)
	}
	if res.StopReason != alloy.StopToolUse {
		t.Errorf("stop reason = %s", res.StopReason)
	}

	blocks := res.Messages[0].Blocks
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Type != alloy.BlockThinking || blocks[0].Thinking != "let me think" || blocks[0].Signature != "sig-1" {
		t.Errorf("thinking = %+v", blocks[0])
	}
	if blocks[1].Text != "Hello" {
		t.Errorf("text = %+v", blocks[1])
	}
	if blocks[2].ID != "toolu_9" || blocks[2].Input["text"] != "world" {
		t.Errorf("tool_use = %+v", blocks[2])
	}
	if res.Usage.InputTokens != 9 || res.Usage.OutputTokens != 21 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestStreamMalformedToolArguments(t *testing.T) {
	stream := strings.Join([]string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"echo"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{not json"}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, stream)
	}))
	defer server.Close()

	p := New()
	_, err := p.Stream(context.Background(), []alloy.Message{alloy.UserMessage("go")}, nil, testConfig(server.URL), nil, nil)
	if err == nil {
		t.Fatal("malformed tool JSON must surface as an error")
	}
	if alloy.Retryable(err) {
		t.Errorf("malformed model output must be non-retryable: %v", err)
	}
}

func TestMediaDowngradesToNotice(t *testing.T) {
	wb := encodeBlock(alloy.ContentBlock{Type: alloy.BlockAudio, MimeType: "audio/mp3", Data: "AAA"})
	if wb.Type != "text" || !strings.Contains(wb.Text, "audio") {
		t.Errorf("audio downgrade = %+v", wb)
	}
	img := encodeBlock(alloy.ContentBlock{Type: alloy.BlockImage, MimeType: "image/png", Data: "AAA"})
	if img.Type != "image" || img.Source == nil || img.Source.Data != "AAA" {
		t.Errorf("image encode = %+v", img)
	}
}
