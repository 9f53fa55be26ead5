// Package alloy is a model-agnostic harness for LLM agents: it sends
// conversation state to a provider, receives text and tool-call
// instructions, dispatches tool executions, folds results back into the
// conversation, and repeats until the model signals completion, a turn
// budget is reached, a policy halts it, or an error is unrecoverable.
//
// The Agent is the unit of supervision: it owns its conversation, its usage
// counters, its middleware pipeline, and its outbox for asynchronous
// replies. Teams coordinate named child agents; the Scheduler runs agents
// periodically.
package alloy
