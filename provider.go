package alloy

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig holds provider-specific completion options. Model is
// required; the rest default per provider.
type ProviderConfig struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	System    string `json:"system,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	APIKey    string `json:"-"`

	// ThinkingBudget enables extended thinking with the given token budget
	// on providers that support it.
	ThinkingBudget int `json:"thinking_budget,omitempty"`

	// Extra carries provider-specific flags that have no common field.
	Extra map[string]any `json:"extra,omitempty"`
}

// CompleteResult is a provider's answer to one completion call.
type CompleteResult struct {
	StopReason StopReason
	Messages   []Message // assistant messages with ContentBlock bodies
	Usage      Usage
}

// Provider abstracts an LLM backend. Implementations translate between the
// normalized Message/ContentBlock model and their wire format losslessly for
// text, tool_use, tool_result, and thinking blocks; other media blocks may
// be downgraded to a text notice.
//
// Implementations must not retry failed calls; the turn loop owns retries.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
	// Complete sends the conversation and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition, cfg ProviderConfig) (CompleteResult, error)
	// Stream behaves like Complete but delivers text deltas to onChunk and
	// provider-specific events (e.g. thinking deltas) to onEvent as they
	// arrive. Either callback may be nil. The returned result is the fold
	// of the streamed events.
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition, cfg ProviderConfig, onChunk ChunkFunc, onEvent EventFunc) (CompleteResult, error)
}

// --- Provider registry ---
// Providers register a factory under a name so callers can construct them
// from configuration without the core importing provider packages.

// ProviderFactory builds a Provider from its config.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

var (
	providerMu        sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProvider registers a factory under name. Called from init() in
// provider sub-packages; later registrations under the same name win, which
// lets tests install stubs.
func RegisterProvider(name string, factory ProviderFactory) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerFactories[name] = factory
}

// NewProvider constructs a registered provider by name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	providerMu.RLock()
	factory, ok := providerFactories[name]
	providerMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, RegisteredProviders())
	}
	return factory(cfg)
}

// RegisteredProviders returns the sorted names of all registered factories.
func RegisteredProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
