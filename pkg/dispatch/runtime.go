// Package dispatch is the actor runtime: the registry of live actors, the
// shared ready queue a worker pool drains, the delay scheduler, and the
// dispatcher that routes interpreter effects to their executors. The runtime
// owns all actor state; interpreters only ever see it by value.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"salon/pkg/effect"
	"salon/pkg/interp"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// Executor runs one effect category at the boundary.
type Executor interface {
	Execute(ctx context.Context, eff effect.Effect) error
}

// Options tunes the runtime.
type Options struct {
	Workers       int
	SchedulerTick time.Duration
	Interp        interp.Params
	Metrics       *metrics.Recorder

	// Trace, when set, observes every processed envelope and its effect
	// count. Used for the JSONL audit trail.
	Trace func(env *proto.Envelope, effects int)
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Workers:       4,
		SchedulerTick: 100 * time.Millisecond,
		Interp:        interp.DefaultParams(),
	}
}

// actorInstance pairs an address with its mailbox and its typed interpreter,
// erased behind closures. The scheduled flag is true from the moment the
// actor enters the ready queue until its current message is fully processed,
// which is what keeps each actor single-writer.
type actorInstance struct {
	addr      proto.Address
	mailbox   []*proto.Envelope
	scheduled bool
	handle    func(proto.Message) []effect.Effect
	snapshot  func() any
}

// Runtime is the actor system.
type Runtime struct {
	opts   Options
	logger *logx.Logger

	room     interp.Room
	agent    interp.Agent
	project  interp.Project
	director interp.Director

	mu     sync.Mutex
	cond   *sync.Cond
	actors map[proto.Address]*actorInstance
	ready  []*actorInstance
	seq    uint64
	closed bool

	executors map[effect.Category]Executor
	sched     *scheduler
	wg        sync.WaitGroup
}

// NewRuntime builds a runtime. Executors are attached before Start; the
// director actor exists from construction.
func NewRuntime(opts Options) *Runtime {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.SchedulerTick <= 0 {
		opts.SchedulerTick = DefaultOptions().SchedulerTick
	}

	rt := &Runtime{
		opts:      opts,
		logger:    logx.NewLogger("runtime"),
		room:      interp.Room{Params: opts.Interp},
		agent:     interp.Agent{Params: opts.Interp},
		project:   interp.Project{Params: opts.Interp},
		director:  interp.Director{Params: opts.Interp},
		actors:    make(map[proto.Address]*actorInstance),
		executors: make(map[effect.Category]Executor),
	}
	rt.cond = sync.NewCond(&rt.mu)
	rt.sched = newScheduler(rt.Send, opts.SchedulerTick)

	rt.registerActor(newActor(proto.DirectorAddress(), state.NewDirectorState(), rt.director.Interpret))
	return rt
}

// RegisterExecutor attaches the executor for one category. Actor-control
// effects are always handled in-runtime.
func (rt *Runtime) RegisterExecutor(cat effect.Category, ex Executor) {
	rt.executors[cat] = ex
}

// Start launches the worker pool and the scheduler.
func (rt *Runtime) Start(ctx context.Context) {
	rt.sched.start()
	for i := 0; i < rt.opts.Workers; i++ {
		rt.wg.Add(1)
		go rt.worker(ctx)
	}
	rt.logger.Info("runtime started with %d workers", rt.opts.Workers)
}

// Shutdown stops the scheduler, drains the workers, and returns when every
// in-flight message has finished or the context expires.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.sched.stop()

	rt.mu.Lock()
	rt.closed = true
	rt.mu.Unlock()
	rt.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		rt.logger.Info("runtime stopped")
		return nil
	case <-ctx.Done():
		return errors.New("runtime shutdown timed out")
	}
}

// Send stamps and enqueues a message. Unknown addresses drop the message with
// a log line; the sender may race a StopActor.
func (rt *Runtime) Send(to proto.Address, msg proto.Message) {
	if s, ok := msg.(proto.Stampable); ok {
		s.Stamp(time.Now().UnixMilli(), uuid.NewString())
	}
	env := proto.NewEnvelope(to, nil, msg)

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	a, ok := rt.actors[to]
	if !ok {
		rt.mu.Unlock()
		rt.logger.Warn("dropping %s for unknown actor %s", msg.MessageKind(), to)
		return
	}
	rt.seq++
	env.Seq = rt.seq
	a.mailbox = append(a.mailbox, env)
	if !a.scheduled {
		a.scheduled = true
		rt.ready = append(rt.ready, a)
	}
	depth := len(rt.ready)
	rt.mu.Unlock()
	rt.cond.Signal()

	if rt.opts.Metrics != nil {
		rt.opts.Metrics.SetQueueDepth(depth)
	}
}

// worker drains the ready queue. Each pass processes exactly one envelope for
// one actor, dispatches its effects, and only then lets the actor run again,
// preserving per-actor FIFO.
func (rt *Runtime) worker(ctx context.Context) {
	defer rt.wg.Done()
	for {
		rt.mu.Lock()
		for len(rt.ready) == 0 && !rt.closed {
			rt.cond.Wait()
		}
		if len(rt.ready) == 0 && rt.closed {
			rt.mu.Unlock()
			return
		}
		a := rt.ready[0]
		rt.ready = rt.ready[1:]
		if len(a.mailbox) == 0 {
			// Stopped while queued.
			a.scheduled = false
			rt.mu.Unlock()
			continue
		}
		env := a.mailbox[0]
		a.mailbox = a.mailbox[1:]
		rt.mu.Unlock()

		rt.process(ctx, a, env)

		rt.mu.Lock()
		if len(a.mailbox) > 0 {
			rt.ready = append(rt.ready, a)
			rt.mu.Unlock()
			rt.cond.Signal()
		} else {
			a.scheduled = false
			rt.mu.Unlock()
		}
	}
}

func (rt *Runtime) process(ctx context.Context, a *actorInstance, env *proto.Envelope) {
	started := time.Now()
	effects := a.handle(env.Msg)
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.ObserveMessage(string(a.addr.Kind), env.MsgKind, time.Since(started))
	}
	if rt.opts.Trace != nil {
		rt.opts.Trace(env, len(effects))
	}
	rt.dispatch(ctx, a.addr, effects)
}

// StateOf returns a snapshot of an actor's state, or nil if the address is
// not live. Used by status handlers and tests.
func (rt *Runtime) StateOf(addr proto.Address) any {
	rt.mu.Lock()
	a, ok := rt.actors[addr]
	rt.mu.Unlock()
	if !ok {
		return nil
	}
	return a.snapshot()
}

// Actors lists the live addresses.
func (rt *Runtime) Actors() []proto.Address {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]proto.Address, 0, len(rt.actors))
	for addr := range rt.actors {
		out = append(out, addr)
	}
	return out
}

func (rt *Runtime) registerActor(a *actorInstance) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.actors[a.addr]; exists {
		return false
	}
	rt.actors[a.addr] = a
	return true
}

func (rt *Runtime) stopActor(addr proto.Address) {
	rt.mu.Lock()
	a, ok := rt.actors[addr]
	if ok {
		delete(rt.actors, addr)
		// Drop the pending mailbox; the ready-queue entry, if any, still
		// points at the instance and drains harmlessly.
		a.mailbox = nil
	}
	rt.mu.Unlock()
	if ok {
		rt.logger.Info("stopped actor %s", addr)
	}
}

// newActor wraps a typed interpreter and its state behind the erased handle.
// The closure is only ever invoked by the single worker that holds the
// actor's turn, so the captured state needs no lock.
func newActor[S any](addr proto.Address, initial S, fn func(S, proto.Message) (S, []effect.Effect)) *actorInstance {
	st := initial
	var mu sync.Mutex
	return &actorInstance{
		addr: addr,
		handle: func(msg proto.Message) []effect.Effect {
			mu.Lock()
			defer mu.Unlock()
			next, effects := fn(st, msg)
			st = next
			return effects
		},
		snapshot: func() any {
			mu.Lock()
			defer mu.Unlock()
			return st
		},
	}
}
