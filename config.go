package alloy

import (
	"context"
	"log/slog"
	"time"
)

// Defaults applied by New when the corresponding option is unset.
const (
	defaultMaxTurns     = 10
	defaultRetryBackoff = 500 * time.Millisecond
	defaultMaxPending   = 16
	defaultCompactAt    = 0.90
)

// CostFunc converts a model name and per-call usage into estimated cost in
// cents. The observer package provides a pricing-table implementation.
type CostFunc func(model string, usage Usage) int

// Scratchpad is a durable per-agent notepad resource. The agent owns it:
// its lifetime equals the agent's and Stop releases it.
type Scratchpad interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// AgentConfig is the full configuration of an Agent. Construct via New and
// AgentOption helpers; zero fields take the package defaults.
type AgentConfig struct {
	Provider       Provider
	ProviderConfig ProviderConfig
	Tools          []Tool
	SystemPrompt   string

	// MaxTurns bounds the number of provider round-trips per run.
	MaxTurns int
	// MaxTokens is the context token budget that triggers compaction.
	// Zero disables compaction.
	MaxTokens int
	// CompactAt is the fraction of MaxTokens at which compaction triggers
	// (default 0.90).
	CompactAt float64

	Middleware []Middleware
	WorkDir    string
	// Context is an arbitrary mapping exposed to tools and middleware.
	// The "session_id" entry, when present, overrides the session id used
	// for export and the outbox topic.
	Context map[string]any

	// MaxRetries bounds retry attempts per provider call; RetryBackoff is
	// the base delay, doubled on each attempt.
	MaxRetries   int
	RetryBackoff time.Duration
	// Timeout bounds a whole run; zero means no deadline.
	Timeout time.Duration

	// OnShutdown receives the exported session when the agent stops.
	// Panics inside it are swallowed so termination always completes.
	OnShutdown func(Session)

	PubSub    PubSub
	Subscribe []string
	// MaxPending bounds the asynchronous request queue.
	MaxPending int

	Scratchpad Scratchpad
	Logger     *slog.Logger
	Tracer     Tracer
	// Cost estimates per-call cost folded into Usage; nil disables.
	Cost CostFunc
}

// AgentOption configures an Agent at construction.
type AgentOption func(*AgentConfig)

// WithProviderConfig sets the provider options (model, max tokens, system…).
func WithProviderConfig(pc ProviderConfig) AgentOption {
	return func(c *AgentConfig) { c.ProviderConfig = pc }
}

// WithTools adds tools to the agent.
func WithTools(tools ...Tool) AgentOption {
	return func(c *AgentConfig) { c.Tools = append(c.Tools, tools...) }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(s string) AgentOption {
	return func(c *AgentConfig) { c.SystemPrompt = s }
}

// WithMaxTurns sets the maximum provider round-trips per run.
func WithMaxTurns(n int) AgentOption {
	return func(c *AgentConfig) { c.MaxTurns = n }
}

// WithMaxTokens sets the context token budget that triggers compaction.
func WithMaxTokens(n int) AgentOption {
	return func(c *AgentConfig) { c.MaxTokens = n }
}

// WithCompactAt sets the fraction of the token budget at which compaction
// triggers.
func WithCompactAt(f float64) AgentOption {
	return func(c *AgentConfig) { c.CompactAt = f }
}

// WithMiddleware appends middleware in invocation order.
func WithMiddleware(mws ...Middleware) AgentOption {
	return func(c *AgentConfig) { c.Middleware = append(c.Middleware, mws...) }
}

// WithWorkDir sets the agent's working directory, exposed to tools.
func WithWorkDir(dir string) AgentOption {
	return func(c *AgentConfig) { c.WorkDir = dir }
}

// WithContext merges entries into the agent's context mapping.
func WithContext(ctx map[string]any) AgentOption {
	return func(c *AgentConfig) {
		if c.Context == nil {
			c.Context = make(map[string]any, len(ctx))
		}
		for k, v := range ctx {
			c.Context[k] = v
		}
	}
}

// WithRetry sets the retry budget and base backoff for provider calls.
func WithRetry(maxRetries int, backoff time.Duration) AgentOption {
	return func(c *AgentConfig) {
		c.MaxRetries = maxRetries
		c.RetryBackoff = backoff
	}
}

// WithTimeout bounds each run with a deadline.
func WithTimeout(d time.Duration) AgentOption {
	return func(c *AgentConfig) { c.Timeout = d }
}

// WithOnShutdown sets the shutdown callback receiving the exported session.
func WithOnShutdown(fn func(Session)) AgentOption {
	return func(c *AgentConfig) { c.OnShutdown = fn }
}

// WithPubSub wires the outbox and event subscriptions to ps, subscribing to
// the given topics.
func WithPubSub(ps PubSub, topics ...string) AgentOption {
	return func(c *AgentConfig) {
		c.PubSub = ps
		c.Subscribe = append(c.Subscribe, topics...)
	}
}

// WithMaxPending bounds the asynchronous request queue.
func WithMaxPending(n int) AgentOption {
	return func(c *AgentConfig) { c.MaxPending = n }
}

// WithScratchpad attaches a scratchpad resource owned by the agent.
func WithScratchpad(s Scratchpad) AgentOption {
	return func(c *AgentConfig) { c.Scratchpad = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *AgentConfig) { c.Logger = l }
}

// WithTracer enables span creation for runs, turns, and tool calls.
func WithTracer(t Tracer) AgentOption {
	return func(c *AgentConfig) { c.Tracer = t }
}

// WithCost sets the cost estimator folded into usage accounting.
func WithCost(fn CostFunc) AgentOption {
	return func(c *AgentConfig) { c.Cost = fn }
}

func buildAgentConfig(provider Provider, opts []AgentOption) AgentConfig {
	cfg := AgentConfig{Provider: provider}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.CompactAt <= 0 || cfg.CompactAt > 1 {
		cfg.CompactAt = defaultCompactAt
	}
	if cfg.Context == nil {
		cfg.Context = map[string]any{}
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger
	}
	return cfg
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
