package alloy

import "context"

// Run is the one-shot entry point: it starts an agent, runs a single
// conversation for prompt, stops the agent, and returns the result.
//
// Outcome convention: completed and max_turns return a nil error (hitting
// the turn budget is a bounded success, not a failure); halted and error
// outcomes return the result alongside a non-nil error.
func Run(ctx context.Context, provider Provider, prompt string, opts ...AgentOption) (Result, error) {
	agent := New(provider, opts...)
	defer agent.Stop()
	return agent.Chat(ctx, prompt)
}
