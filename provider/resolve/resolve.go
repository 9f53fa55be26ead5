// Package resolve creates providers from a single "provider/model"
// identifier, so callers configure agents with one string instead of
// importing provider packages.
package resolve

import (
	"fmt"
	"strings"

	alloy "github.com/alloyhq/alloy"

	// Register the built-in providers.
	_ "github.com/alloyhq/alloy/provider/anthropic"
	_ "github.com/alloyhq/alloy/provider/gemini"
	_ "github.com/alloyhq/alloy/provider/openaicompat"
)

// compatBaseURLs maps vendor aliases of the OpenAI-compatible wire format
// to their default endpoints.
var compatBaseURLs = map[string]string{
	"groq":     "https://api.groq.com/openai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"together": "https://api.together.xyz/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"ollama":   "http://localhost:11434/v1",
}

// Model resolves a "provider/model" identifier (e.g.
// "anthropic/claude-sonnet-4-5", "deepseek/deepseek-chat") into a Provider
// and the ProviderConfig to drive it with. The remaining cfg fields
// (APIKey, MaxTokens, System, …) are carried through.
func Model(id string, cfg alloy.ProviderConfig) (alloy.Provider, alloy.ProviderConfig, error) {
	vendor, model, ok := strings.Cut(id, "/")
	if !ok || vendor == "" || model == "" {
		return nil, cfg, fmt.Errorf("resolve: identifier %q is not provider/model", id)
	}
	cfg.Model = model

	name := vendor
	if _, compat := compatBaseURLs[vendor]; compat {
		name = "openai"
		if cfg.BaseURL == "" {
			cfg.BaseURL = compatBaseURLs[vendor]
		}
	}

	p, err := alloy.NewProvider(name, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}
