package alloy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// turnLoop drives one run of an agent: repeated provider round-trips with
// middleware hooks, tool execution, retry, compaction, and halt semantics.
// It mutates a local State and returns it; it never panics outward —
// failures become status transitions.
type turnLoop struct {
	cfg      AgentConfig
	agentID  string
	executor *toolExecutor
}

func newTurnLoop(cfg AgentConfig, agentID string, executor *toolExecutor) *turnLoop {
	return &turnLoop{cfg: cfg, agentID: agentID, executor: executor}
}

// run executes the loop: session_start → iterate → session_end. The
// returned state carries a terminal status. onChunk/onEvent enable
// streaming; both may be nil.
func (l *turnLoop) run(ctx context.Context, st *State, onChunk ChunkFunc, onEvent EventFunc) *State {
	start := time.Now()
	var deadline time.Time
	if l.cfg.Timeout > 0 {
		deadline = start.Add(l.cfg.Timeout)
	}

	if l.cfg.Tracer != nil {
		var span Span
		ctx, span = l.cfg.Tracer.Start(ctx, "agent.run",
			StringAttr("agent_id", l.agentID),
			BoolAttr("streaming", onChunk != nil || onEvent != nil))
		defer span.End()
	}

	st.Status = StatusRunning
	if d := runHooks(ctx, st.Config.Middleware, HookSessionStart, st); d.Halted {
		st.Status = StatusHalted
		st.Err = d.Reason
		return l.finish(ctx, st)
	}

	toolCtx := ToolContext{
		AgentID:    l.agentID,
		WorkDir:    l.cfg.WorkDir,
		Context:    st.Context,
		Scratchpad: l.cfg.Scratchpad,
	}

	for {
		if st.Turn >= l.cfg.MaxTurns {
			st.Status = StatusMaxTurns
			break
		}

		if overBudget(st.Messages, l.cfg.MaxTokens, l.cfg.CompactAt) {
			st.Messages = l.compactMessages(ctx, st.Messages)
		}

		st.Turn++

		if d := runHooks(ctx, st.Config.Middleware, HookBeforeCompletion, st); d.Halted {
			st.Status = StatusHalted
			st.Err = d.Reason
			break
		}

		res, err := l.callProvider(ctx, st, deadline, onChunk, onEvent)
		if err != nil {
			st.Status = StatusError
			st.Err = err.Error()
			l.cfg.Logger.Warn("provider failed", "agent_id", l.agentID, "turn", st.Turn, "error", err)
			runHooks(ctx, st.Config.Middleware, HookOnError, st)
			break
		}

		usage := res.Usage
		if l.cfg.Cost != nil {
			usage.EstimatedCostCents += l.cfg.Cost(l.cfg.ProviderConfig.Model, usage)
		}
		st.Usage = st.Usage.Merge(usage)
		st.Messages = append(st.Messages, res.Messages...)

		st.Response = &res
		d := runHooks(ctx, st.Config.Middleware, HookAfterCompletion, st)
		st.Response = nil
		if d.Halted {
			st.Status = StatusHalted
			st.Err = d.Reason
			break
		}

		if res.StopReason != StopToolUse {
			st.Status = StatusCompleted
			break
		}

		uses := toolUsesOf(res.Messages)
		if len(uses) == 0 {
			// Provider claimed tool_use but sent no tool_use blocks; there
			// is nothing to execute, so treat the turn as final.
			st.Status = StatusCompleted
			break
		}

		resultMsg, d := l.executor.execute(ctx, st, uses, toolCtx, deadline)
		if d.Halted {
			st.Status = StatusHalted
			st.Err = d.Reason
			break
		}
		st.Messages = append(st.Messages, resultMsg)

		if d := runHooks(ctx, st.Config.Middleware, HookAfterToolExecution, st); d.Halted {
			st.Status = StatusHalted
			st.Err = d.Reason
			break
		}
	}

	return l.finish(ctx, st)
}

// finish always runs session_end. A halt from session_end itself is
// discarded: the status and error the loop ended with are preserved.
func (l *turnLoop) finish(ctx context.Context, st *State) *State {
	runHooks(ctx, st.Config.Middleware, HookSessionEnd, st)
	return st
}

// callProvider performs one provider call with retry. Retries apply only to
// transient errors, never after any chunk or event has been emitted on a
// stream, and never past the run deadline. Backoff doubles per attempt from
// the configured base.
func (l *turnLoop) callProvider(ctx context.Context, st *State, deadline time.Time, onChunk ChunkFunc, onEvent EventFunc) (CompleteResult, error) {
	streaming := onChunk != nil || onEvent != nil

	// The streaming wrapper emits a text_delta event for every chunk so the
	// event stream is uniform across providers; providers themselves only
	// emit provider-specific events such as thinking_delta.
	var emitted atomic.Bool
	wrapChunk := func(text string) {
		emitted.Store(true)
		if onChunk != nil {
			onChunk(text)
		}
		if onEvent != nil {
			onEvent(Event{Type: EventTextDelta, Text: text})
		}
	}
	wrapEvent := func(ev Event) {
		emitted.Store(true)
		if onEvent != nil {
			onEvent(ev)
		}
	}

	tools := l.executor.registry.Definitions()

	// The agent-level system prompt wins over the provider config's, and
	// survives SetModel swapping the provider config out.
	pc := l.cfg.ProviderConfig
	if l.cfg.SystemPrompt != "" {
		pc.System = l.cfg.SystemPrompt
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			if lastErr != nil {
				return CompleteResult{}, lastErr
			}
			return CompleteResult{}, errors.New("run deadline exceeded before provider call")
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if !deadline.IsZero() {
			callCtx, cancel = context.WithDeadline(ctx, deadline)
		}

		var res CompleteResult
		var err error
		if streaming {
			res, err = l.cfg.Provider.Stream(callCtx, st.Messages, tools, pc, wrapChunk, wrapEvent)
		} else {
			res, err = l.cfg.Provider.Complete(callCtx, st.Messages, tools, pc)
		}
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err

		// A transient error after emission must not be retried: replayed
		// deltas would corrupt the consumer's view of the stream.
		if !Retryable(err) || emitted.Load() || l.cfg.MaxRetries == 0 || attempt >= l.cfg.MaxRetries {
			return CompleteResult{}, err
		}

		delay := l.cfg.RetryBackoff << (attempt - 1)
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			return CompleteResult{}, err
		}
		l.cfg.Logger.Warn("provider transient error, retrying",
			"agent_id", l.agentID, "attempt", attempt, "max_retries", l.cfg.MaxRetries,
			"delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return CompleteResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// toolUsesOf collects the tool_use blocks of the returned assistant
// messages in declared order.
func toolUsesOf(messages []Message) []ContentBlock {
	var uses []ContentBlock
	for _, m := range messages {
		uses = append(uses, m.ToolUses()...)
	}
	return uses
}
