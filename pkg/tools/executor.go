package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"salon/pkg/effect"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/proto"
)

// SendFunc re-enters a message into the runtime.
type SendFunc func(to proto.Address, msg proto.Message)

// Executor runs the tool effect category. A batch runs its calls sequentially
// on one goroutine and delivers every result in a single ToolResultMsg; a
// cancelled batch delivers nothing.
type Executor struct {
	registry       *Registry
	send           SendFunc
	workspacesRoot string
	logger         *logx.Logger

	// Metrics, when set, records per-tool run outcomes.
	Metrics *metrics.Recorder

	mu      sync.Mutex
	pending map[proto.ReplyTag]context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor builds the tool executor. workspacesRoot is where per-agent
// workspace directories live.
func NewExecutor(registry *Registry, send SendFunc, workspacesRoot string) *Executor {
	return &Executor{
		registry:       registry,
		send:           send,
		workspacesRoot: workspacesRoot,
		logger:         logx.NewLogger("tools"),
		pending:        make(map[proto.ReplyTag]context.CancelFunc),
	}
}

// Execute runs one tool effect.
func (e *Executor) Execute(ctx context.Context, eff effect.Effect) error {
	switch ef := eff.(type) {
	case effect.ExecuteTool:
		e.startBatch(ctx, effect.ExecuteToolsBatch{
			AgentID: ef.AgentID,
			Tag:     ef.Tag,
			Calls:   []proto.ContentBlock{ef.Call},
			Ctx:     ef.Ctx,
		})
		return nil
	case effect.ExecuteToolsBatch:
		e.startBatch(ctx, ef)
		return nil
	case effect.CancelToolExecution:
		e.cancel(ef.Tag)
		return nil
	default:
		return fmt.Errorf("unknown tool effect: %s", eff.EffectKind())
	}
}

func (e *Executor) startBatch(parent context.Context, ef effect.ExecuteToolsBatch) {
	batchCtx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	if old, ok := e.pending[ef.Tag]; ok {
		old()
	}
	e.pending[ef.Tag] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.forget(ef.Tag)

		tctx, err := e.resolveContext(ef.Ctx)
		results := make([]proto.ToolResultItem, 0, len(ef.Calls))
		for i := range ef.Calls {
			call := &ef.Calls[i]
			if batchCtx.Err() != nil {
				e.logger.Debug("batch %s cancelled after %d of %d calls", ef.Tag, i, len(ef.Calls))
				return
			}
			if err != nil {
				results = append(results, errorResult(call.ID, err))
				continue
			}
			results = append(results, e.runCall(batchCtx, tctx, call))
		}

		if batchCtx.Err() != nil {
			e.logger.Debug("batch %s cancelled before delivery", ef.Tag)
			return
		}
		e.send(proto.AgentAddress(ef.AgentID), &proto.ToolResultMsg{Results: results, Tag: ef.Tag})
	}()
}

// resolveContext fills in the workspace directory, creating it on first use.
func (e *Executor) resolveContext(tctx proto.ToolContext) (proto.ToolContext, error) {
	if tctx.Workspace != "" {
		return tctx, nil
	}
	if e.workspacesRoot == "" || tctx.AgentID == "" {
		return tctx, nil
	}
	dir := filepath.Join(e.workspacesRoot, string(tctx.AgentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tctx, fmt.Errorf("cannot create workspace for %s: %w", tctx.AgentID, err)
	}
	tctx.Workspace = dir
	return tctx, nil
}

func (e *Executor) runCall(ctx context.Context, tctx proto.ToolContext, call *proto.ContentBlock) proto.ToolResultItem {
	result := e.runCallInner(ctx, tctx, call)
	if e.Metrics != nil {
		e.Metrics.ObserveToolRun(call.Name, result.IsError)
	}
	return result
}

func (e *Executor) runCallInner(ctx context.Context, tctx proto.ToolContext, call *proto.ContentBlock) proto.ToolResultItem {
	tool, err := e.registry.Get(call.Name)
	if err != nil {
		return errorResult(call.ID, err)
	}

	content, err := tool.Exec(ctx, tctx, call.Input)
	if err != nil {
		e.logger.Debug("tool %s failed for %s: %v", call.Name, tctx.AgentID, err)
		if content != "" {
			// Keep partial output alongside the error, bash exit codes
			// come through this path.
			return proto.ToolResultItem{
				ToolUseID: call.ID,
				Content:   fmt.Sprintf("%s\nError: %v", content, err),
				IsError:   true,
			}
		}
		return errorResult(call.ID, err)
	}
	return proto.ToolResultItem{ToolUseID: call.ID, Content: content}
}

func errorResult(toolUseID string, err error) proto.ToolResultItem {
	return proto.ToolResultItem{ToolUseID: toolUseID, Content: "Error: " + err.Error(), IsError: true}
}

func (e *Executor) cancel(tag proto.ReplyTag) {
	e.mu.Lock()
	cancelFn, ok := e.pending[tag]
	delete(e.pending, tag)
	e.mu.Unlock()
	if ok {
		cancelFn()
	}
}

func (e *Executor) forget(tag proto.ReplyTag) {
	e.mu.Lock()
	if cancelFn, ok := e.pending[tag]; ok {
		delete(e.pending, tag)
		cancelFn()
	}
	e.mu.Unlock()
}

// PendingBatches reports how many batches are in flight.
func (e *Executor) PendingBatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown cancels every in-flight batch and waits for the goroutines.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for tag, cancelFn := range e.pending {
		cancelFn()
		delete(e.pending, tag)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("tool executor shutdown timed out")
	}
}
