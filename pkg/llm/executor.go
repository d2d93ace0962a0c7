package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"salon/pkg/effect"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/proto"
)

// SendFunc re-enters a message into the runtime.
type SendFunc func(to proto.Address, msg proto.Message)

// Executor runs the LLM effect category. Each call runs on its own goroutine;
// the pending map correlates reply tags with cancellation handles so a
// superseding message can abort the underlying HTTPS request.
type Executor struct {
	completer Completer
	send      SendFunc
	logger    *logx.Logger

	// Metrics, when set, records call outcomes and token usage.
	Metrics *metrics.Recorder

	mu      sync.Mutex
	pending map[proto.ReplyTag]context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor builds the LLM executor.
func NewExecutor(completer Completer, send SendFunc) *Executor {
	return &Executor{
		completer: completer,
		send:      send,
		logger:    logx.NewLogger("llm"),
		pending:   make(map[proto.ReplyTag]context.CancelFunc),
	}
}

// Execute runs one LLM effect. CallAnthropic returns immediately; the result
// re-enters the runtime as APIResponse or APIError on the agent's address.
func (e *Executor) Execute(ctx context.Context, eff effect.Effect) error {
	switch ef := eff.(type) {
	case effect.CallAnthropic:
		e.startCall(ctx, ef)
		return nil
	case effect.CancelAPICall:
		e.cancel(ef.Tag)
		return nil
	default:
		return fmt.Errorf("unknown llm effect: %s", eff.EffectKind())
	}
}

func (e *Executor) startCall(parent context.Context, ef effect.CallAnthropic) {
	callCtx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	if old, ok := e.pending[ef.Tag]; ok {
		// Duplicate tag should not happen; abort the older call.
		old()
	}
	e.pending[ef.Tag] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.forget(ef.Tag)

		resp, err := e.completer.Complete(callCtx, ef.Request)
		to := proto.AgentAddress(ef.AgentID)

		if err != nil {
			classified := ClassifyError(err)
			if classified.Type == ErrorTypeCancelled {
				// Superseded; the agent's stale-tag check would drop the
				// reply anyway.
				e.logger.Debug("call %s cancelled", ef.Tag)
				return
			}
			e.logger.Warn("call %s failed: %v", ef.Tag, classified)
			if e.Metrics != nil {
				e.Metrics.ObserveLLMRequest(ef.Request.Model, 0, 0, classified.Type.String())
			}
			e.send(to, &proto.APIError{
				Err:       classified.Error(),
				Tag:       ef.Tag,
				Transient: classified.Type == ErrorTypeTransient || classified.Type == ErrorTypeEmptyResponse,
				RateLimit: classified.Type == ErrorTypeRateLimit,
			})
			return
		}

		e.logger.Debug("call %s done: stop=%s in=%d out=%d",
			ef.Tag, resp.StopReason, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if e.Metrics != nil {
			e.Metrics.ObserveLLMRequest(ef.Request.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, "")
		}
		e.send(to, &proto.APIResponse{Response: resp, Tag: ef.Tag})
	}()
}

// cancel aborts the in-flight call for a tag, if any.
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

// PendingCalls reports how many calls are in flight.
func (e *Executor) PendingCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown cancels every in-flight call and waits for the goroutines.
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
		return errors.New("llm executor shutdown timed out")
	}
}
