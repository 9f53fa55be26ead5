// Package gemini implements the Google generative-language provider:
// generateContent completion and streamGenerateContent streaming with
// function calling.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	alloy "github.com/alloyhq/alloy"
	"github.com/alloyhq/alloy/provider/sse"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider implements alloy.Provider for Gemini models.
// It never retries; the turn loop owns retries.
type Provider struct {
	client *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// HTTPClient replaces the default HTTP client.
func HTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{client: &http.Client{Timeout: 10 * time.Minute}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func init() {
	alloy.RegisterProvider("gemini", func(_ alloy.ProviderConfig) (alloy.Provider, error) {
		return New(), nil
	})
}

func (p *Provider) Name() string { return "gemini" }

// Complete sends the conversation and returns the full response.
func (p *Provider) Complete(ctx context.Context, messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig) (alloy.CompleteResult, error) {
	body, err := p.do(ctx, cfg, "generateContent", buildRequest(messages, tools, cfg))
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return alloy.CompleteResult{}, wireErr(err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return alloy.CompleteResult{}, &alloy.ProviderError{Provider: "gemini", Message: "malformed response body: " + err.Error()}
	}
	if len(resp.Candidates) == 0 {
		return alloy.CompleteResult{
			StopReason: alloy.StopEndTurn,
			Messages:   []alloy.Message{{Role: alloy.RoleAssistant}},
			Usage:      decodeUsage(resp.UsageMetadata),
		}, nil
	}

	callSeq := 0
	blocks, err := decodeParts(resp.Candidates[0].Content.Parts, &callSeq)
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	return alloy.CompleteResult{
		StopReason: stopReasonOf(blocks),
		Messages:   []alloy.Message{{Role: alloy.RoleAssistant, Blocks: blocks}},
		Usage:      decodeUsage(resp.UsageMetadata),
	}, nil
}

// Stream folds streamGenerateContent events. This wire format sends
// cumulative snapshots rather than deltas, so each event's text is emitted
// as the suffix beyond the previously seen length — O(1) per event.
func (p *Provider) Stream(ctx context.Context, messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig, onChunk alloy.ChunkFunc, onEvent alloy.EventFunc) (alloy.CompleteResult, error) {
	body, err := p.do(ctx, cfg, "streamGenerateContent?alt=sse", buildRequest(messages, tools, cfg))
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	defer body.Close()

	scanner := sse.NewScanner(body)

	var emittedLen int
	var lastText string
	var toolParts []part
	var usage alloy.Usage

	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return alloy.CompleteResult{}, wireErr(err)
		}

		var snap response
		if jsonErr := json.Unmarshal([]byte(ev.Data), &snap); jsonErr != nil {
			continue
		}
		if snap.UsageMetadata != nil {
			usage = decodeUsage(snap.UsageMetadata)
		}
		if len(snap.Candidates) == 0 {
			continue
		}

		var text strings.Builder
		var fcalls []part
		for _, pt := range snap.Candidates[0].Content.Parts {
			if pt.FunctionCall != nil {
				fcalls = append(fcalls, pt)
			}
			text.WriteString(pt.Text)
		}
		// Snapshots repeat every functionCall seen so far; a snapshot
		// carrying at least as many calls supersedes the previous set. A
		// shorter event is a true delta and extends it.
		if len(fcalls) >= len(toolParts) {
			toolParts = fcalls
		} else {
			toolParts = append(toolParts, fcalls...)
		}

		snapshot := text.String()
		if len(snapshot) > emittedLen {
			delta := snapshot[emittedLen:]
			emittedLen = len(snapshot)
			lastText = snapshot
			if onChunk != nil {
				onChunk(delta)
			}
		} else if snapshot != "" && len(snapshot) < emittedLen {
			// An endpoint that streams true deltas instead of snapshots:
			// treat each event as an extension.
			lastText += snapshot
			emittedLen = len(lastText)
			if onChunk != nil {
				onChunk(snapshot)
			}
		}
	}
	_ = onEvent // no provider-specific events on this wire format

	var blocks []alloy.ContentBlock
	if lastText != "" {
		blocks = append(blocks, alloy.ContentBlock{Type: alloy.BlockText, Text: lastText})
	}
	callSeq := 0
	toolBlocks, err := decodeParts(toolParts, &callSeq)
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	blocks = append(blocks, toolBlocks...)

	return alloy.CompleteResult{
		StopReason: stopReasonOf(blocks),
		Messages:   []alloy.Message{{Role: alloy.RoleAssistant, Blocks: blocks}},
		Usage:      usage,
	}, nil
}

func (p *Provider) do(ctx context.Context, cfg alloy.ProviderConfig, method string, req request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &alloy.ProviderError{Provider: "gemini", Message: "encode request: " + err.Error()}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	sep := "?"
	if strings.Contains(method, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s/models/%s:%s%skey=%s", baseURL, cfg.Model, method, sep, cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, wireErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wireErr(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &alloy.ProviderError{Provider: "gemini", Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, raw)}
	}
	return resp.Body, nil
}

func buildRequest(messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig) request {
	req := request{
		Contents: encodeContents(messages),
		Tools:    encodeTools(tools),
	}
	if cfg.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: cfg.System}}}
	}
	if cfg.MaxTokens > 0 {
		req.GenerationConfig = &generationConf{MaxOutputTokens: cfg.MaxTokens}
	}
	return req
}

func stopReasonOf(blocks []alloy.ContentBlock) alloy.StopReason {
	for _, b := range blocks {
		if b.Type == alloy.BlockToolUse {
			return alloy.StopToolUse
		}
	}
	return alloy.StopEndTurn
}

func wireErr(err error) error {
	return &alloy.ProviderError{Provider: "gemini", Message: err.Error()}
}

// compile-time check
var _ alloy.Provider = (*Provider)(nil)
