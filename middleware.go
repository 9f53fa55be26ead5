package alloy

import (
	"context"
	"fmt"
)

// Hook names the points in a run where middleware is invoked.
type Hook string

const (
	HookSessionStart       Hook = "session_start"
	HookBeforeCompletion   Hook = "before_completion"
	HookAfterCompletion    Hook = "after_completion"
	HookBeforeToolCall     Hook = "before_tool_call"
	HookAfterToolExecution Hook = "after_tool_execution"
	HookOnError            Hook = "on_error"
	HookSessionEnd         Hook = "session_end"
)

// State is the run state a middleware sees and may mutate. Each middleware
// in the chain observes the mutations of its predecessors.
type State struct {
	// Config is the agent configuration for this run. Middleware may rewrite
	// it at session_start; notably Subscribe topics are read from the
	// post-session_start config.
	Config *AgentConfig
	// Messages is the conversation so far, in generation order.
	Messages []Message
	Usage    Usage
	Status   Status
	Turn     int
	// Err carries the error or halt reason once Status is error or halted.
	Err string
	// Context is the agent's arbitrary context mapping.
	Context map[string]any

	// ToolCall is the pending tool_use block during before_tool_call, nil at
	// every other hook.
	ToolCall *ContentBlock
	// Response is the provider result during after_completion, nil elsewhere.
	Response *CompleteResult
}

// Decision is a middleware's verdict. The zero value continues the chain.
type Decision struct {
	Blocked bool
	Halted  bool
	Reason  string
}

// Continue lets the chain proceed.
func Continue() Decision { return Decision{} }

// Block rejects the pending tool call with a reason. Valid only at
// before_tool_call; the executor synthesizes an error tool_result and moves
// on to the next call.
func Block(reason string) Decision { return Decision{Blocked: true, Reason: reason} }

// Halt stops the run immediately with a reason. Valid at any hook; the turn
// loop transitions to StatusHalted and still runs session_end.
func Halt(reason string) Decision { return Decision{Halted: true, Reason: reason} }

// Middleware observes and steers a run at each hook point.
// Implementations must be safe for concurrent use across agents.
type Middleware interface {
	Handle(ctx context.Context, hook Hook, st *State) Decision
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, hook Hook, st *State) Decision

func (f MiddlewareFunc) Handle(ctx context.Context, hook Hook, st *State) Decision {
	return f(ctx, hook, st)
}

// runHooks invokes each middleware in declared order. The first Halt stops
// the chain and is returned. A Block is returned only from before_tool_call;
// anywhere else it is a programming error and panics.
func runHooks(ctx context.Context, mws []Middleware, hook Hook, st *State) Decision {
	for _, mw := range mws {
		d := mw.Handle(ctx, hook, st)
		if d.Halted {
			return d
		}
		if d.Blocked {
			if hook != HookBeforeToolCall {
				panic(fmt.Sprintf("alloy: middleware %T returned Block at %s; Block is only valid at %s", mw, hook, HookBeforeToolCall))
			}
			return d
		}
	}
	return Decision{}
}
