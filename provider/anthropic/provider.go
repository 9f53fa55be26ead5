// Package anthropic implements the Anthropic Messages API provider:
// completion and streaming with tool use, prompt caching accounting, and
// extended-thinking round-trips.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	alloy "github.com/alloyhq/alloy"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements alloy.Provider against the Anthropic Messages API.
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

// New creates an Anthropic provider.
func New(opts ...Option) *Provider {
	p := &Provider{client: &http.Client{Timeout: 10 * time.Minute}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func init() {
	alloy.RegisterProvider("anthropic", func(_ alloy.ProviderConfig) (alloy.Provider, error) {
		return New(), nil
	})
}

func (p *Provider) Name() string { return "anthropic" }

// Complete sends the conversation and returns the full response.
func (p *Provider) Complete(ctx context.Context, messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig) (alloy.CompleteResult, error) {
	body, err := p.do(ctx, cfg, buildRequest(messages, tools, cfg, false))
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
		return alloy.CompleteResult{}, &alloy.ProviderError{Provider: "anthropic", Message: "malformed response body: " + err.Error()}
	}

	return alloy.CompleteResult{
		StopReason: decodeStopReason(resp.StopReason),
		Messages:   []alloy.Message{{Role: alloy.RoleAssistant, Blocks: decodeBlocks(resp.Content)}},
		Usage:      decodeUsage(resp.Usage),
	}, nil
}

// Stream sends the conversation with stream=true and folds the SSE events
// into the same result shape as Complete, delivering text deltas to
// onChunk and thinking deltas to onEvent as they arrive.
func (p *Provider) Stream(ctx context.Context, messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig, onChunk alloy.ChunkFunc, onEvent alloy.EventFunc) (alloy.CompleteResult, error) {
	body, err := p.do(ctx, cfg, buildRequest(messages, tools, cfg, true))
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	defer body.Close()

	return foldStream(body, onChunk, onEvent)
}

// do posts the request and returns the response body, translating HTTP and
// transport failures into kind-prefixed provider errors.
func (p *Provider) do(ctx context.Context, cfg alloy.ProviderConfig, req request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &alloy.ProviderError{Provider: "anthropic", Message: "encode request: " + err.Error()}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, wireErr(err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("x-api-key", cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wireErr(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &alloy.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, raw)}
	}
	return resp.Body, nil
}

func buildRequest(messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig, stream bool) request {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := request{
		Model:     cfg.Model,
		MaxTokens: maxTokens,
		System:    cfg.System,
		Messages:  encodeMessages(messages),
		Tools:     encodeTools(tools),
		Stream:    stream,
	}
	if cfg.ThinkingBudget > 0 {
		req.Thinking = &thinkingOpt{Type: "enabled", BudgetTokens: cfg.ThinkingBudget}
		// Extended thinking needs headroom for the reasoning plus the reply.
		if req.MaxTokens <= cfg.ThinkingBudget {
			req.MaxTokens = cfg.ThinkingBudget + defaultMaxTokens
		}
	}
	return req
}

func wireErr(err error) error {
	return &alloy.ProviderError{Provider: "anthropic", Message: err.Error()}
}

// compile-time check
var _ alloy.Provider = (*Provider)(nil)
