package alloy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// coordinationBuffer is added on top of a child's own deadline for the
// coordinator-side wait, so agent-level timeouts always fire first.
const coordinationBuffer = time.Second

// Team coordinates a dynamic set of named child agents. The Team owns its
// children: Stop stops them all, and a child that stops on its own is
// silently removed (no restart at this layer). Children communicate with
// the Team by message passing only; the shared context mapping is
// serialized through the Team.
type Team struct {
	logger *slog.Logger

	mu      sync.Mutex
	agents  map[string]*Agent
	context map[string]any
	stopped bool
}

// BroadcastEntry is one child's outcome in a Broadcast.
type BroadcastEntry struct {
	Result Result
	Err    error
}

// TeamOption configures a Team.
type TeamOption func(*Team)

// TeamLogger sets the structured logger for the coordinator.
func TeamLogger(l *slog.Logger) TeamOption {
	return func(t *Team) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTeam creates an empty Team.
func NewTeam(opts ...TeamOption) *Team {
	t := &Team{
		logger:  nopLogger,
		agents:  make(map[string]*Agent),
		context: make(map[string]any),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddAgent registers a child under name, replacing any previous holder of
// the name. The Team takes ownership of the agent's lifetime and removes it
// from the registry if it stops on its own.
func (t *Team) AddAgent(name string, agent *Agent) {
	t.mu.Lock()
	t.agents[name] = agent
	t.mu.Unlock()

	go func() {
		<-agent.Done()
		t.mu.Lock()
		if t.agents[name] == agent {
			delete(t.agents, name)
		}
		t.mu.Unlock()
		t.logger.Debug("team child removed", "name", name, "agent_id", agent.ID())
	}()
}

// RemoveAgent removes and stops the named child. Unknown names are a no-op.
func (t *Team) RemoveAgent(name string) {
	t.mu.Lock()
	agent := t.agents[name]
	delete(t.agents, name)
	t.mu.Unlock()
	if agent != nil {
		agent.Stop()
	}
}

// GetAgent resolves a child by name.
func (t *Team) GetAgent(name string) (*Agent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.agents[name]
	return a, ok
}

// PutContext stores a value in the Team's shared context mapping.
func (t *Team) PutContext(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.context[key] = value
}

// GetContext reads a value from the Team's shared context mapping.
func (t *Team) GetContext(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.context[key]
	return v, ok
}

// Delegate sends message to the named child and returns its result. The
// call runs on a reply task, so the coordinator stays responsive to other
// operations while the child works.
func (t *Team) Delegate(ctx context.Context, name, message string) (Result, error) {
	agent, ok := t.GetAgent(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return t.callChild(ctx, agent, message)
}

// Broadcast fans message out to every child in parallel and returns each
// child's outcome keyed by name. A failing child yields an error entry for
// that name, never a coordinator failure.
func (t *Team) Broadcast(ctx context.Context, message string) map[string]BroadcastEntry {
	t.mu.Lock()
	children := make(map[string]*Agent, len(t.agents))
	for name, agent := range t.agents {
		children[name] = agent
	}
	t.mu.Unlock()

	type reply struct {
		name  string
		entry BroadcastEntry
	}
	replies := make(chan reply, len(children))
	for name, agent := range children {
		go func() {
			res, err := t.callChild(ctx, agent, message)
			replies <- reply{name: name, entry: BroadcastEntry{Result: res, Err: err}}
		}()
	}

	out := make(map[string]BroadcastEntry, len(children))
	for range children {
		r := <-replies
		out[r.name] = r.entry
	}
	return out
}

// Handoff chains the named children: each child's text output becomes the
// next child's input. Stops at the first error. An empty list makes no call
// and returns an empty result.
func (t *Team) Handoff(ctx context.Context, names []string, initial string) (Result, error) {
	var last Result
	input := initial
	for _, name := range names {
		agent, ok := t.GetAgent(name)
		if !ok {
			return last, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
		}
		res, err := t.callChild(ctx, agent, input)
		if err != nil {
			return res, fmt.Errorf("handoff at %q: %w", name, err)
		}
		last = res
		input = res.Text
	}
	return last, nil
}

// Stop stops every child and clears the registry.
func (t *Team) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	children := make([]*Agent, 0, len(t.agents))
	for _, agent := range t.agents {
		children = append(children, agent)
	}
	t.agents = make(map[string]*Agent)
	t.mu.Unlock()

	for _, agent := range children {
		agent.Stop()
	}
}

// callChild runs one child Chat on a reply task with panic isolation. The
// coordinator-side wait is the child's own deadline plus a coordination
// buffer; a child without a deadline is waited on indefinitely.
func (t *Team) callChild(ctx context.Context, agent *Agent, message string) (Result, error) {
	waitCtx := ctx
	if d := agent.Timeout(); d > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d+coordinationBuffer)
		defer cancel()
	}

	type reply struct {
		result Result
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- reply{err: fmt.Errorf("agent exit: %v", p)}
			}
		}()
		res, err := agent.Chat(waitCtx, message)
		ch <- reply{result: res, err: err}
	}()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-waitCtx.Done():
		return Result{}, waitCtx.Err()
	}
}
