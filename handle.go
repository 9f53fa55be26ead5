package alloy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunState is the execution state of a spawned one-shot run.
type RunState int32

const (
	// RunPending indicates the run has been spawned but not started.
	RunPending RunState = iota
	// RunRunning indicates the run is in progress.
	RunRunning
	// RunCompleted indicates the run finished successfully.
	RunCompleted
	// RunFailed indicates the run returned an error.
	RunFailed
	// RunCancelled indicates the run was cancelled via Cancel() or the
	// parent context.
	RunCancelled
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// SpawnOption configures a Spawn call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for spawn lifecycle events.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// RunHandle tracks a background one-shot run.
// All methods are safe for concurrent use.
type RunHandle struct {
	id     string
	state  atomic.Int32
	result Result
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Spawn launches Run(ctx, provider, prompt, opts...) in a background
// goroutine and returns immediately with a handle for tracking, awaiting,
// and cancelling. The parent ctx controls the run's lifetime.
func Spawn(ctx context.Context, provider Provider, prompt string, agentOpts []AgentOption, opts ...SpawnOption) *RunHandle {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &RunHandle{
		id:     NewID(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(RunPending))

	logger.Info("run spawned", "handle_id", h.id)

	go func() {
		defer cancel() // release context resources on completion
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned run panic", "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.result = Result{}
				h.err = fmt.Errorf("run panic: %v", p)
				h.state.Store(int32(RunFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(RunRunning))
		start := time.Now()
		result, err := Run(ctx, provider, prompt, agentOpts...)

		// Write result/err before close(done). The channel close is the
		// happens-before barrier: all readers (<-h.done in Await, State,
		// Result) are guaranteed to see these writes after the close.
		h.result = result
		h.err = err
		switch {
		case ctx.Err() != nil && err != nil:
			h.state.Store(int32(RunCancelled))
			logger.Info("spawned run cancelled", "handle_id", h.id, "duration", time.Since(start))
		case err != nil:
			h.state.Store(int32(RunFailed))
			logger.Error("spawned run failed", "handle_id", h.id, "error", err, "duration", time.Since(start))
		default:
			h.state.Store(int32(RunCompleted))
			logger.Info("spawned run completed", "handle_id", h.id,
				"duration", time.Since(start),
				"tokens.input", result.Usage.InputTokens,
				"tokens.output", result.Usage.OutputTokens)
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique execution identifier (time-sortable).
func (h *RunHandle) ID() string { return h.id }

// State returns the current execution state. If the state is terminal,
// State blocks until Done() is closed to guarantee that Result() returns
// valid data when State().Terminal() is true.
func (h *RunHandle) State() RunState {
	s := RunState(h.state.Load())
	if s.Terminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when execution finishes. Composable with
// select for multiplexing multiple handles.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the run completes or ctx is cancelled.
func (h *RunHandle) Await(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result and error. Only meaningful after Done() is
// closed; before completion it returns a zero Result and nil error.
func (h *RunHandle) Result() (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return Result{}, nil
	}
}

// Cancel requests cancellation. Non-blocking. The run receives a cancelled
// context and transitions to RunCancelled once it returns.
func (h *RunHandle) Cancel() { h.cancel() }
