package alloy

import (
	"context"
	"sync"
	"time"
)

// --- scripted provider ---

// scriptStep is one provider response in a scripted sequence.
type scriptStep struct {
	res CompleteResult
	err error
	// emitBeforeError streams this text before returning err, to exercise
	// the no-retry-after-emission guard.
	emitBeforeError string
}

// scriptProvider replays a fixed sequence of responses. Safe for
// concurrent use; each call consumes one step. Calls past the end of the
// script return an exhausted-script error so tests catch over-consumption.
type scriptProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	idx   int
	delay time.Duration
}

func newScriptProvider(steps ...scriptStep) *scriptProvider {
	return &scriptProvider{steps: steps}
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) next() scriptStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.steps) {
		return scriptStep{err: &ProviderError{Provider: "script", Message: "HTTP 400: script exhausted"}}
	}
	step := p.steps[p.idx]
	p.idx++
	return step
}

// consumed reports how many script steps have been used.
func (p *scriptProvider) consumed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}

func (p *scriptProvider) wait(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *scriptProvider) Complete(ctx context.Context, _ []Message, _ []ToolDefinition, _ ProviderConfig) (CompleteResult, error) {
	if err := p.wait(ctx); err != nil {
		return CompleteResult{}, &ProviderError{Provider: "script", Message: err.Error()}
	}
	step := p.next()
	return step.res, step.err
}

func (p *scriptProvider) Stream(ctx context.Context, _ []Message, _ []ToolDefinition, _ ProviderConfig, onChunk ChunkFunc, _ EventFunc) (CompleteResult, error) {
	if err := p.wait(ctx); err != nil {
		return CompleteResult{}, &ProviderError{Provider: "script", Message: err.Error()}
	}
	step := p.next()
	if step.emitBeforeError != "" && onChunk != nil {
		onChunk(step.emitBeforeError)
	}
	if step.err != nil {
		return CompleteResult{}, step.err
	}
	if onChunk != nil {
		for _, m := range step.res.Messages {
			if t := m.Text(); t != "" {
				onChunk(t)
			}
		}
	}
	return step.res, nil
}

// --- script step constructors ---

func textResponse(text string) scriptStep {
	return scriptStep{res: CompleteResult{
		StopReason: StopEndTurn,
		Messages:   []Message{AssistantMessage(text)},
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}}
}

func toolUseResponse(blocks ...ContentBlock) scriptStep {
	return scriptStep{res: CompleteResult{
		StopReason: StopToolUse,
		Messages:   []Message{{Role: RoleAssistant, Blocks: blocks}},
		Usage:      Usage{InputTokens: 10, OutputTokens: 5},
	}}
}

func errStep(msg string) scriptStep {
	return scriptStep{err: &ProviderError{Provider: "script", Message: msg}}
}

// --- tools ---

// echoTool replies "Echo: <text>".
func echoTool() Tool {
	return ToolFunc(ToolDefinition{
		Name:        "echo",
		Description: "Echo the input text",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}, func(_ context.Context, input map[string]any, _ ToolContext) (string, error) {
		text, _ := input["text"].(string)
		return "Echo: " + text, nil
	})
}

// slowTool sleeps for d before answering.
func slowTool(name string, d time.Duration) Tool {
	return ToolFunc(ToolDefinition{Name: name, Description: "slow"}, func(ctx context.Context, _ map[string]any, _ ToolContext) (string, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return name + " done", nil
		}
	})
}

// hookRecorder records every hook invocation in order.
type hookRecorder struct {
	mu    sync.Mutex
	hooks []Hook
}

func (r *hookRecorder) Handle(_ context.Context, hook Hook, _ *State) Decision {
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
	return Continue()
}

func (r *hookRecorder) seen() []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Hook(nil), r.hooks...)
}

func countHook(hooks []Hook, h Hook) int {
	n := 0
	for _, x := range hooks {
		if x == h {
			n++
		}
	}
	return n
}

// collectResponses drains outbox messages until n responses arrive or the
// timeout passes.
func collectResponses(ch <-chan any, n int, timeout time.Duration) []Result {
	var out []Result
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case msg := <-ch:
			if resp, ok := msg.(AgentResponse); ok {
				out = append(out, resp.Result)
			}
		case <-deadline:
			return out
		}
	}
	return out
}
