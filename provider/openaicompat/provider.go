// Package openaicompat implements an OpenAI-compatible chat-completions
// provider. It works against any endpoint speaking that wire format
// (OpenAI, DeepSeek, vLLM, llama.cpp servers, OpenRouter, …).
package openaicompat

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

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements alloy.Provider for OpenAI-compatible endpoints.
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

// New creates an OpenAI-compatible provider.
func New(opts ...Option) *Provider {
	p := &Provider{client: &http.Client{Timeout: 10 * time.Minute}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func init() {
	alloy.RegisterProvider("openai", func(_ alloy.ProviderConfig) (alloy.Provider, error) {
		return New(), nil
	})
}

func (p *Provider) Name() string { return "openai" }

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
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return alloy.CompleteResult{}, &alloy.ProviderError{Provider: "openai", Message: "malformed response body: " + err.Error()}
	}
	return parseResponse(resp)
}

// Stream sends the conversation with stream=true and folds the delta
// chunks into the same result shape as Complete.
func (p *Provider) Stream(ctx context.Context, messages []alloy.Message, tools []alloy.ToolDefinition, cfg alloy.ProviderConfig, onChunk alloy.ChunkFunc, onEvent alloy.EventFunc) (alloy.CompleteResult, error) {
	req := buildRequest(messages, tools, cfg, true)
	req.StreamOptions = &streamOpts{IncludeUsage: true}
	body, err := p.do(ctx, cfg, req)
	if err != nil {
		return alloy.CompleteResult{}, err
	}
	defer body.Close()

	return foldStream(body, onChunk, onEvent)
}

func (p *Provider) do(ctx context.Context, cfg alloy.ProviderConfig, req request) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &alloy.ProviderError{Provider: "openai", Message: "encode request: " + err.Error()}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, wireErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wireErr(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &alloy.ProviderError{Provider: "openai", Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, raw)}
	}
	return resp.Body, nil
}

func wireErr(err error) error {
	return &alloy.ProviderError{Provider: "openai", Message: err.Error()}
}

// compile-time check
var _ alloy.Provider = (*Provider)(nil)
