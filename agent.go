package alloy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Agent is a supervised actor that owns one conversation, its usage
// counters, its middleware pipeline, and its outbox. All calls are
// serialized through the actor; asynchronous turns run on a separate worker
// so reads and cancellation stay responsive while a turn is in flight.
type Agent struct {
	id   string
	cfg  AgentConfig
	cmds chan any

	stopOnce sync.Once
	ready    chan struct{} // closed once subscriptions are established
	stopping chan struct{} // closed once Stop begins; unblocks callers
	done     chan struct{} // closed when the actor has exited
}

// Health is a bounded-time snapshot of an agent's state.
type Health struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	Turns     int    `json:"turns"`
	Messages  int    `json:"messages"`
	Usage     Usage  `json:"usage"`
	Pending   int    `json:"pending"`
	Running   bool   `json:"running"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	StartedAt int64  `json:"started_at"`
}

// --- actor commands ---

type chatCmd struct {
	ctx     context.Context
	message string
	onChunk ChunkFunc
	onEvent EventFunc
	reply   chan chatReply
}

type chatReply struct {
	result Result
	err    error
}

type sendCmd struct {
	message string
	reply   chan sendReply
}

type sendReply struct {
	requestID string
	err       error
}

type cancelCmd struct {
	requestID string
	reply     chan error
}

type resetCmd struct{ reply chan error }

type setModelCmd struct {
	provider Provider
	pc       ProviderConfig
	reply    chan error
}

type messagesCmd struct{ reply chan []Message }
type usageCmd struct{ reply chan Usage }
type healthCmd struct{ reply chan Health }
type exportCmd struct{ reply chan Session }
type stopCmd struct{ reply chan struct{} }

type eventCmd struct{ message string }

type workerDone struct {
	requestID string
	state     *State
	panicked  any
}

// --- construction ---

// New creates and starts an Agent. The actor subscribes to the configured
// pubsub topics (as rewritten by session_start middleware) and is ready for
// calls when New returns. Stop releases it.
func New(provider Provider, opts ...AgentOption) *Agent {
	cfg := buildAgentConfig(provider, opts)
	a := &Agent{
		id:       NewID(),
		cfg:      cfg,
		cmds:     make(chan any, 64),
		ready:    make(chan struct{}),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go a.loop()
	select {
	case <-a.ready:
	case <-a.done:
	}
	return a
}

// ID returns the agent's stable identifier.
func (a *Agent) ID() string { return a.id }

// Done is closed when the agent's actor has exited.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Timeout returns the configured per-run deadline (zero = none).
func (a *Agent) Timeout() time.Duration { return a.cfg.Timeout }

// --- public call surface ---

// Chat runs a full turn loop synchronously and returns the final result.
// Rejects with ErrBusy while an asynchronous request is running. A call
// that arrives during an event-driven turn is not rejected: it waits until
// that turn has finished and then runs. The returned error is non-nil for
// error and halted outcomes; max_turns counts as success.
func (a *Agent) Chat(ctx context.Context, message string) (Result, error) {
	return a.chat(ctx, message, nil, nil)
}

// StreamChat is Chat with streaming callbacks: onChunk receives text
// deltas, onEvent (optional) receives typed events including a text_delta
// mirror of every chunk.
func (a *Agent) StreamChat(ctx context.Context, message string, onChunk ChunkFunc, onEvent EventFunc) (Result, error) {
	return a.chat(ctx, message, onChunk, onEvent)
}

func (a *Agent) chat(ctx context.Context, message string, onChunk ChunkFunc, onEvent EventFunc) (Result, error) {
	reply := make(chan chatReply, 1)
	if err := a.submit(ctx, chatCmd{ctx: ctx, message: message, onChunk: onChunk, onEvent: onEvent, reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-a.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// SendMessage enqueues an asynchronous turn and returns its request id
// immediately. The result is broadcast on the outbox topic. Rejects with
// ErrQueueFull when MaxPending requests are already queued and with
// ErrNoPubSub when no PubSub is configured.
func (a *Agent) SendMessage(ctx context.Context, message string) (string, error) {
	reply := make(chan sendReply, 1)
	if err := a.submit(ctx, sendCmd{message: message, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.requestID, r.err
	case <-a.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelRequest cancels a queued or running asynchronous request. A queued
// request is removed without ever running; a running request's worker is
// terminated and the next queued request starts. Either way exactly one
// response with error "cancelled" is broadcast for the request id.
func (a *Agent) CancelRequest(ctx context.Context, requestID string) error {
	reply := make(chan error, 1)
	if err := a.submit(ctx, cancelCmd{requestID: requestID, reply: reply}); err != nil {
		return err
	}
	return a.awaitErr(ctx, reply)
}

// Reset clears the conversation and usage counters. Busy-rejecting.
func (a *Agent) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.submit(ctx, resetCmd{reply: reply}); err != nil {
		return err
	}
	return a.awaitErr(ctx, reply)
}

// SetModel swaps the provider and its config, preserving messages, usage,
// and the rest of the configuration. Busy-rejecting.
func (a *Agent) SetModel(ctx context.Context, provider Provider, pc ProviderConfig) error {
	reply := make(chan error, 1)
	if err := a.submit(ctx, setModelCmd{provider: provider, pc: pc, reply: reply}); err != nil {
		return err
	}
	return a.awaitErr(ctx, reply)
}

// Messages returns a snapshot of the conversation. Answers in bounded time
// even while an asynchronous turn is in flight.
func (a *Agent) Messages(ctx context.Context) ([]Message, error) {
	reply := make(chan []Message, 1)
	if err := a.submit(ctx, messagesCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case msgs := <-reply:
		return msgs, nil
	case <-a.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UsageTotals returns accumulated usage. Bounded-time read.
func (a *Agent) UsageTotals(ctx context.Context) (Usage, error) {
	reply := make(chan Usage, 1)
	if err := a.submit(ctx, usageCmd{reply: reply}); err != nil {
		return Usage{}, err
	}
	select {
	case u := <-reply:
		return u, nil
	case <-a.done:
		return Usage{}, ErrStopped
	case <-ctx.Done():
		return Usage{}, ctx.Err()
	}
}

// Health returns a snapshot of the agent's status. Bounded-time read.
func (a *Agent) Health(ctx context.Context) (Health, error) {
	reply := make(chan Health, 1)
	if err := a.submit(ctx, healthCmd{reply: reply}); err != nil {
		return Health{}, err
	}
	select {
	case h := <-reply:
		return h, nil
	case <-a.done:
		return Health{}, ErrStopped
	case <-ctx.Done():
		return Health{}, ctx.Err()
	}
}

// ExportSession returns the conversation as an exportable session snapshot.
// Bounded-time read.
func (a *Agent) ExportSession(ctx context.Context) (Session, error) {
	reply := make(chan Session, 1)
	if err := a.submit(ctx, exportCmd{reply: reply}); err != nil {
		return Session{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-a.done:
		return Session{}, ErrStopped
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Stop shuts the agent down: the running worker (if any) is cancelled, the
// scratchpad is released, session_end middleware runs, and OnShutdown
// receives the exported post-middleware session. Panics in OnShutdown are
// swallowed so termination always completes. Idempotent.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopping)
		reply := make(chan struct{}, 1)
		select {
		case a.cmds <- stopCmd{reply: reply}:
			<-a.done
		case <-a.done:
		}
	})
	<-a.done
}

func (a *Agent) submit(ctx context.Context, cmd any) error {
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) awaitErr(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- actor internals ---

type runningRequest struct {
	requestID string
	cancel    context.CancelFunc
}

type pendingRequest struct {
	requestID string
	message   string
}

type actorState struct {
	messages    []Message
	usage       Usage
	status      Status
	lastTurns   int
	lastError   string
	createdAt   int64
	updatedAt   int64
	sessionID   string
	outboxTopic string

	running *runningRequest
	pending []pendingRequest

	subCancels []func()
}

// loop is the actor goroutine: it serializes access to the agent's state.
// Synchronous turns run here; asynchronous turns run on a worker and report
// back through workerDone messages.
func (a *Agent) loop() {
	defer close(a.done)

	st := &actorState{
		status:    StatusIdle,
		createdAt: NowUnix(),
		updatedAt: NowUnix(),
	}

	// session_start middleware is the canonical place to rewrite the
	// context and subscription topics, so run it once over the startup
	// state and read both from the result.
	startup := a.freshState(nil)
	runHooks(context.Background(), a.cfg.Middleware, HookSessionStart, startup)
	a.cfg = *startup.Config
	st.sessionID = a.effectiveSessionID()
	st.outboxTopic = OutboxTopic(st.sessionID)

	if a.cfg.PubSub != nil {
		for _, topic := range a.cfg.Subscribe {
			ch, cancel := a.cfg.PubSub.Subscribe(topic)
			st.subCancels = append(st.subCancels, cancel)
			go a.forwardEvents(ch)
		}
	}
	close(a.ready)

	for cmd := range a.cmds {
		switch c := cmd.(type) {
		case chatCmd:
			a.handleChat(st, c)
		case sendCmd:
			a.handleSend(st, c)
		case cancelCmd:
			c.reply <- a.handleCancel(st, c.requestID)
		case resetCmd:
			if st.running != nil {
				c.reply <- ErrBusy
				break
			}
			st.messages = nil
			st.usage = Usage{}
			st.status = StatusIdle
			st.lastTurns = 0
			st.lastError = ""
			st.updatedAt = NowUnix()
			c.reply <- nil
		case setModelCmd:
			if st.running != nil {
				c.reply <- ErrBusy
				break
			}
			a.cfg.Provider = c.provider
			a.cfg.ProviderConfig = c.pc
			c.reply <- nil
		case messagesCmd:
			c.reply <- append([]Message(nil), st.messages...)
		case usageCmd:
			c.reply <- st.usage
		case healthCmd:
			c.reply <- a.health(st)
		case exportCmd:
			c.reply <- a.exportSession(st)
		case eventCmd:
			a.handleEvent(st, c)
		case workerDone:
			a.handleWorkerDone(st, c)
		case stopCmd:
			a.terminate(st)
			c.reply <- struct{}{}
			return
		}
	}
}

func (a *Agent) effectiveSessionID() string {
	if sid, ok := a.cfg.Context["session_id"].(string); ok && sid != "" {
		return sid
	}
	return a.id
}

// freshState builds the turn-loop state for one run. The config is copied
// so per-run middleware mutations never leak across runs.
func (a *Agent) freshState(messages []Message) *State {
	cfg := a.cfg
	return &State{
		Config:   &cfg,
		Messages: append([]Message(nil), messages...),
		Status:   StatusIdle,
		Context:  a.cfg.Context,
	}
}

func (a *Agent) newTurnLoop() *turnLoop {
	registry := NewToolRegistry()
	for _, t := range a.cfg.Tools {
		registry.Add(t)
	}
	executor := newToolExecutor(registry, a.cfg.Logger, a.cfg.Tracer)
	return newTurnLoop(a.cfg, a.id, executor)
}

// handleChat runs a synchronous turn on the actor goroutine.
func (a *Agent) handleChat(st *actorState, c chatCmd) {
	if st.running != nil {
		c.reply <- chatReply{err: ErrBusy}
		return
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	run := a.freshState(append(st.messages, UserMessage(c.message)))
	before := len(run.Messages)
	st.status = StatusRunning
	final := a.runGuarded(ctx, run, c.onChunk, c.onEvent)
	a.absorb(st, final)
	result := resultFromState(final, before, "")

	// A finished synchronous call leaves room for the next request.
	st.status = StatusIdle
	c.reply <- chatReply{result: result, err: runError(final)}
}

// runGuarded runs a turn loop on the actor goroutine, converting a panic
// (a crashing provider, most likely) into an error state so it cannot take
// the actor down. Worker-path runs have their own recovery that reports the
// crash through workerDone instead.
func (a *Agent) runGuarded(ctx context.Context, run *State, onChunk ChunkFunc, onEvent EventFunc) (final *State) {
	defer func() {
		if p := recover(); p != nil {
			a.cfg.Logger.Error("run panicked", "agent_id", a.id, "panic", p)
			run.Status = StatusError
			run.Err = fmt.Sprintf("run panic: %v", p)
			final = run
		}
	}()
	return a.newTurnLoop().run(ctx, run, onChunk, onEvent)
}

// handleSend accepts or enqueues an asynchronous request.
func (a *Agent) handleSend(st *actorState, c sendCmd) {
	if a.cfg.PubSub == nil {
		c.reply <- sendReply{err: ErrNoPubSub}
		return
	}
	requestID := NewID()
	if st.running != nil {
		if len(st.pending) >= a.cfg.MaxPending {
			c.reply <- sendReply{err: ErrQueueFull}
			return
		}
		st.pending = append(st.pending, pendingRequest{requestID: requestID, message: c.message})
		c.reply <- sendReply{requestID: requestID}
		return
	}
	a.startWorker(st, pendingRequest{requestID: requestID, message: c.message})
	c.reply <- sendReply{requestID: requestID}
}

// startWorker spawns the single active worker for an async request.
func (a *Agent) startWorker(st *actorState, req pendingRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	st.running = &runningRequest{requestID: req.requestID, cancel: cancel}
	st.status = StatusRunning

	run := a.freshState(append(st.messages, UserMessage(req.message)))
	loop := a.newTurnLoop()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				a.deliver(workerDone{requestID: req.requestID, panicked: p})
			}
		}()
		final := loop.run(ctx, run, nil, nil)
		a.deliver(workerDone{requestID: req.requestID, state: final})
	}()
}

// handleWorkerDone folds a worker's final state into the agent and
// broadcasts the result on the outbox, then starts the next queued request.
func (a *Agent) handleWorkerDone(st *actorState, c workerDone) {
	if st.running == nil || st.running.requestID != c.requestID {
		// Stale completion from a cancelled worker.
		return
	}
	st.running.cancel()
	st.running = nil

	var result Result
	if c.panicked != nil {
		a.cfg.Logger.Error("worker crashed", "agent_id", a.id, "request_id", c.requestID, "panic", c.panicked)
		result = Result{
			RequestID: c.requestID,
			Status:    StatusError,
			Error:     fmt.Sprintf("worker crashed: %v", c.panicked),
		}
		st.status = StatusIdle
	} else {
		before := len(st.messages) + 1 // the request's user message
		a.absorb(st, c.state)
		result = resultFromState(c.state, before, c.requestID)
		result.RequestID = c.requestID
		st.status = StatusIdle
	}

	a.broadcast(st, result)
	a.startNext(st)
}

// deliver hands a worker completion to the actor, giving up if the actor
// has already exited.
func (a *Agent) deliver(msg workerDone) {
	select {
	case a.cmds <- msg:
	case <-a.done:
	}
}

func (a *Agent) startNext(st *actorState) {
	if len(st.pending) == 0 {
		return
	}
	next := st.pending[0]
	st.pending = st.pending[1:]
	a.startWorker(st, next)
}

// handleCancel cancels a queued or running request.
func (a *Agent) handleCancel(st *actorState, requestID string) error {
	if st.running != nil && st.running.requestID == requestID {
		st.running.cancel()
		st.running = nil
		st.status = StatusIdle
		a.broadcast(st, cancelledResult(requestID))
		// The worker is terminating; its late completion no longer matches
		// the running request and is dropped. Move on right away.
		a.startNext(st)
		return nil
	}
	for i, p := range st.pending {
		if p.requestID == requestID {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			a.broadcast(st, cancelledResult(requestID))
			return nil
		}
	}
	return ErrUnknownRequest
}

// handleEvent runs an event-driven turn synchronously when idle; a busy
// agent drops the event — the async and event-driven paths are mutually
// exclusive.
func (a *Agent) handleEvent(st *actorState, c eventCmd) {
	if st.running != nil {
		a.cfg.Logger.Debug("event dropped, agent busy", "agent_id", a.id)
		return
	}
	run := a.freshState(append(st.messages, UserMessage(c.message)))
	before := len(run.Messages)
	st.status = StatusRunning
	final := a.runGuarded(context.Background(), run, nil, nil)
	a.absorb(st, final)
	result := resultFromState(final, before, NewID())
	st.status = StatusIdle
	a.broadcast(st, result)
}

// absorb replaces the actor's conversation with the run's final state and
// merges its usage.
func (a *Agent) absorb(st *actorState, final *State) {
	st.messages = final.Messages
	st.usage = st.usage.Merge(final.Usage)
	st.lastTurns = final.Turn
	st.lastError = final.Err
	st.updatedAt = NowUnix()
}

func (a *Agent) broadcast(st *actorState, result Result) {
	if a.cfg.PubSub == nil {
		return
	}
	a.cfg.PubSub.Publish(st.outboxTopic, AgentResponse{Result: result})
}

func (a *Agent) forwardEvents(ch <-chan any) {
	for msg := range ch {
		ev, ok := msg.(AgentEvent)
		if !ok {
			continue
		}
		select {
		case a.cmds <- eventCmd{message: ev.Message}:
		case <-a.done:
			return
		}
	}
}

func (a *Agent) health(st *actorState) Health {
	h := Health{
		AgentID:   a.id,
		SessionID: st.sessionID,
		Status:    st.status,
		Turns:     st.lastTurns,
		Messages:  len(st.messages),
		Usage:     st.usage,
		Pending:   len(st.pending),
		Error:     st.lastError,
		StartedAt: st.createdAt,
	}
	if st.running != nil {
		h.Running = true
		h.RequestID = st.running.requestID
	}
	return h
}

func (a *Agent) exportSession(st *actorState) Session {
	return Session{
		ID:       st.sessionID,
		Messages: append([]Message(nil), st.messages...),
		Usage:    st.usage,
		Metadata: map[string]string{
			"status":   string(st.status),
			"agent_id": a.id,
		},
		CreatedAt: st.createdAt,
		UpdatedAt: st.updatedAt,
	}
}

// terminate is the guaranteed-cleanup path: cancel the worker, drop the
// queue (each with a cancelled broadcast), unsubscribe, release the
// scratchpad, run session_end middleware, and hand the exported session to
// OnShutdown behind a catch-all.
func (a *Agent) terminate(st *actorState) {
	if st.running != nil {
		st.running.cancel()
		a.broadcast(st, cancelledResult(st.running.requestID))
		st.running = nil
	}
	for _, p := range st.pending {
		a.broadcast(st, cancelledResult(p.requestID))
	}
	st.pending = nil

	for _, cancel := range st.subCancels {
		cancel()
	}
	st.subCancels = nil

	if a.cfg.Scratchpad != nil {
		if err := a.cfg.Scratchpad.Close(); err != nil {
			a.cfg.Logger.Warn("scratchpad close failed", "agent_id", a.id, "error", err)
		}
	}

	// Export reflects the post-session_end-middleware state.
	endState := a.freshState(st.messages)
	endState.Usage = st.usage
	endState.Status = st.status
	runHooks(context.Background(), a.cfg.Middleware, HookSessionEnd, endState)
	st.messages = endState.Messages
	session := a.exportSession(st)

	if a.cfg.OnShutdown != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					a.cfg.Logger.Error("on_shutdown panicked", "agent_id", a.id, "panic", p)
				}
			}()
			a.cfg.OnShutdown(session)
		}()
	}
	a.cfg.Logger.Info("agent stopped", "agent_id", a.id)
}

// --- result assembly ---

func cancelledResult(requestID string) Result {
	return Result{
		RequestID: requestID,
		Status:    StatusError,
		Error:     ErrCancelled.Error(),
	}
}

// resultFromState builds a Result from a finished run. newFrom is the index
// in the final conversation where this run's messages begin (after the
// request's user message).
func resultFromState(final *State, newFrom int, requestID string) Result {
	var text string
	for i := len(final.Messages) - 1; i >= 0; i-- {
		if final.Messages[i].Role == RoleAssistant {
			if t := final.Messages[i].Text(); t != "" {
				text = t
				break
			}
		}
	}

	var toolCalls []ContentBlock
	if newFrom < len(final.Messages) {
		toolCalls = toolUsesOf(final.Messages[newFrom:])
	}

	return Result{
		RequestID: requestID,
		Text:      text,
		Messages:  final.Messages,
		Usage:     final.Usage,
		ToolCalls: toolCalls,
		Status:    final.Status,
		Turns:     final.Turn,
		Error:     final.Err,
	}
}

// runError converts a terminal state to the call-level error convention:
// completed and max_turns are success; halted and error surface as errors.
func runError(final *State) error {
	switch final.Status {
	case StatusHalted:
		return &HaltError{Reason: final.Err}
	case StatusError:
		if final.Err == "" {
			return errors.New("agent error")
		}
		return errors.New(final.Err)
	}
	return nil
}
