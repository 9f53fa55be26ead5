package alloy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxParallelTools caps the number of concurrent tool-call goroutines so a
// single turn cannot overwhelm external services.
const maxParallelTools = 10

// toolExecutor turns an assistant message's tool_use blocks into one user
// message of tool_result blocks, in declared order.
type toolExecutor struct {
	registry *ToolRegistry
	logger   *slog.Logger
	tracer   Tracer

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema // compiled InputSchema by tool name
}

func newToolExecutor(registry *ToolRegistry, logger *slog.Logger, tracer Tracer) *toolExecutor {
	if logger == nil {
		logger = nopLogger
	}
	return &toolExecutor{
		registry: registry,
		logger:   logger,
		tracer:   tracer,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// execute gates each tool_use through before_tool_call middleware, dispatches
// the survivors in parallel, and assembles tool_result blocks in the declared
// order. Halted is non-zero when middleware halted the run; the partial
// results are discarded by the caller in that case.
func (e *toolExecutor) execute(ctx context.Context, st *State, uses []ContentBlock, tc ToolContext, deadline time.Time) (Message, Decision) {
	results := make([]ContentBlock, len(uses))
	var dispatch []int

	for i := range uses {
		use := uses[i]
		st.ToolCall = &use
		d := runHooks(ctx, st.Config.Middleware, HookBeforeToolCall, st)
		st.ToolCall = nil
		if d.Halted {
			return Message{}, d
		}
		if d.Blocked {
			results[i] = ToolResultBlock(use.ID, d.Reason, true)
			continue
		}
		dispatch = append(dispatch, i)
	}

	e.dispatchParallel(ctx, uses, dispatch, results, tc, deadline)
	return ToolResultMessage(results...), Decision{}
}

// dispatchParallel runs the tool calls at the given indices concurrently via
// a bounded worker pool and writes each result into its declared slot, so
// completion order never reorders results.
func (e *toolExecutor) dispatchParallel(ctx context.Context, uses []ContentBlock, indices []int, results []ContentBlock, tc ToolContext, deadline time.Time) {
	if len(indices) == 0 {
		return
	}
	// Fast path: single call, no goroutine needed.
	if len(indices) == 1 {
		i := indices[0]
		results[i] = e.runOne(ctx, uses[i], tc, deadline)
		return
	}

	work := make(chan int, len(indices))
	for _, i := range indices {
		work <- i
	}
	close(work)

	numWorkers := min(len(indices), maxParallelTools)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for i := range work {
				if err := ctx.Err(); err != nil {
					results[i] = ToolResultBlock(uses[i].ID, "tool call aborted: "+err.Error(), true)
					continue
				}
				results[i] = e.runOne(ctx, uses[i], tc, deadline)
			}
		}()
	}
	wg.Wait()
}

// runOne executes a single tool_use block and converts the outcome to a
// tool_result. The result always carries the original tool_use id — the
// provider protocol requires tool_result ids to match even on timeout,
// panic, or unknown tool.
func (e *toolExecutor) runOne(ctx context.Context, use ContentBlock, tc ToolContext, deadline time.Time) (out ContentBlock) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panic", "tool", use.Name, "panic", p)
			out = ToolResultBlock(use.ID, fmt.Sprintf("tool %q panic: %v", use.Name, p), true)
		}
	}()

	tool, ok := e.registry.Get(use.Name)
	if !ok {
		return ToolResultBlock(use.ID, "Unknown tool: "+use.Name, true)
	}

	if err := e.validateInput(tool, use.Input); err != nil {
		return ToolResultBlock(use.ID, fmt.Sprintf("invalid input for tool %q: %v", use.Name, err), true)
	}

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if e.tracer != nil {
		var span Span
		callCtx, span = e.tracer.Start(callCtx, "agent.tool",
			StringAttr("tool", use.Name), StringAttr("tool_use_id", use.ID))
		defer span.End()
	}

	start := time.Now()
	content, err := tool.Execute(callCtx, use.Input, tc)
	if err != nil {
		e.logger.Warn("tool failed", "tool", use.Name, "error", err, "duration", time.Since(start))
		return ToolResultBlock(use.ID, err.Error(), true)
	}
	e.logger.Debug("tool done", "tool", use.Name, "duration", time.Since(start))
	return ToolResultBlock(use.ID, content, false)
}

// validateInput checks the call input against the tool's InputSchema.
// Tools without a schema, and schemas that fail to compile, skip validation.
func (e *toolExecutor) validateInput(tool Tool, input map[string]any) error {
	def := tool.Definition()
	if len(def.InputSchema) == 0 {
		return nil
	}

	e.mu.Lock()
	sch, cached := e.schemas[def.Name]
	e.mu.Unlock()
	if !cached {
		compiler := jsonschema.NewCompiler()
		url := "alloy:///tools/" + def.Name + ".json"
		if err := compiler.AddResource(url, toSchemaDoc(def.InputSchema)); err != nil {
			e.logger.Warn("tool schema rejected, skipping validation", "tool", def.Name, "error", err)
		} else if compiled, err := compiler.Compile(url); err != nil {
			e.logger.Warn("tool schema rejected, skipping validation", "tool", def.Name, "error", err)
		} else {
			sch = compiled
		}
		e.mu.Lock()
		e.schemas[def.Name] = sch
		e.mu.Unlock()
	}
	if sch == nil {
		return nil
	}

	doc := make(map[string]any, len(input))
	for k, v := range input {
		doc[k] = v
	}
	return sch.Validate(doc)
}

// toSchemaDoc canonicalizes the schema through a JSON round trip so the
// compiler sees plain JSON types regardless of how the schema literal was
// written (ints vs floats, typed slices), and never aliases a tool's live
// definition.
func toSchemaDoc(schema map[string]any) any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return schema
	}
	return doc
}
