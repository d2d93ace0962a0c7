package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// probeMsg is a minimal stampable message for runtime tests.
type probeMsg struct {
	proto.Meta
	N       int
	Effects []effect.Effect
}

func (*probeMsg) MessageKind() string { return "probe" }

// probeState records the order messages were processed in.
type probeState struct {
	seen []int
}

func probeAddr(id string) proto.Address {
	return proto.Address{Kind: proto.KindAgent, ID: id}
}

// startRuntime spins up a runtime with a no-op executor on every category.
func startRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	rt := NewRuntime(opts)
	noop := executorFunc(func(context.Context, effect.Effect) error { return nil })
	for _, cat := range []effect.Category{
		effect.CategoryPersist, effect.CategoryLLM, effect.CategoryTool, effect.CategoryBroadcast,
	} {
		rt.RegisterExecutor(cat, noop)
	}
	rt.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt
}

type executorFunc func(context.Context, effect.Effect) error

func (f executorFunc) Execute(ctx context.Context, eff effect.Effect) error { return f(ctx, eff) }

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// TestRuntime_PerActorFIFO verifies messages to one actor are processed in
// send order even with a multi-worker pool.
func TestRuntime_PerActorFIFO(t *testing.T) {
	opts := DefaultOptions()
	opts.Workers = 4
	rt := startRuntime(t, opts)

	addr := probeAddr("fifo")
	require.True(t, rt.registerActor(newActor(addr, probeState{},
		func(s probeState, msg proto.Message) (probeState, []effect.Effect) {
			s.seen = append(s.seen, msg.(*probeMsg).N)
			return s, nil
		})))

	const n = 200
	for i := 0; i < n; i++ {
		rt.Send(addr, &probeMsg{N: i})
	}

	waitUntil(t, func() bool { return len(rt.StateOf(addr).(probeState).seen) == n })
	seen := rt.StateOf(addr).(probeState).seen
	for i := 0; i < n; i++ {
		require.Equal(t, i, seen[i], "messages must arrive in send order")
	}
}

// TestRuntime_SingleWriterPerActor verifies one actor never runs on two
// workers at once while different actors do run concurrently.
func TestRuntime_SingleWriterPerActor(t *testing.T) {
	opts := DefaultOptions()
	opts.Workers = 4
	rt := startRuntime(t, opts)

	var inFlight, maxInFlight int32
	var processed int64
	slowActor := func(s probeState, _ proto.Message) (probeState, []effect.Effect) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt64(&processed, 1)
		return s, nil
	}

	addr := probeAddr("single")
	require.True(t, rt.registerActor(newActor(addr, probeState{}, slowActor)))
	for i := 0; i < 20; i++ {
		rt.Send(addr, &probeMsg{N: i})
	}
	waitUntil(t, func() bool { return atomic.LoadInt64(&processed) == 20 })
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "one actor must be single-writer")

	// Two distinct actors may overlap.
	atomic.StoreInt32(&maxInFlight, 0)
	atomic.StoreInt64(&processed, 0)
	a1, a2 := probeAddr("p1"), probeAddr("p2")
	require.True(t, rt.registerActor(newActor(a1, probeState{}, slowActor)))
	require.True(t, rt.registerActor(newActor(a2, probeState{}, slowActor)))
	for i := 0; i < 10; i++ {
		rt.Send(a1, &probeMsg{N: i})
		rt.Send(a2, &probeMsg{N: i})
	}
	waitUntil(t, func() bool { return atomic.LoadInt64(&processed) == 20 })
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2),
		"distinct actors should process concurrently")
}

// TestRuntime_MetaStamping verifies the runtime stamps time and a fresh id
// exactly once per message.
func TestRuntime_MetaStamping(t *testing.T) {
	rt := startRuntime(t, DefaultOptions())

	var mu sync.Mutex
	var stamps []proto.Meta
	addr := probeAddr("stamp")
	require.True(t, rt.registerActor(newActor(addr, probeState{},
		func(s probeState, msg proto.Message) (probeState, []effect.Effect) {
			mu.Lock()
			stamps = append(stamps, msg.(*probeMsg).Meta)
			mu.Unlock()
			return s, nil
		})))

	rt.Send(addr, &probeMsg{N: 1})
	rt.Send(addr, &probeMsg{N: 2})
	waitUntil(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(stamps) == 2 })

	mu.Lock()
	defer mu.Unlock()
	for _, s := range stamps {
		assert.NotZero(t, s.At)
		assert.NotEmpty(t, s.FreshID)
	}
	assert.NotEqual(t, stamps[0].FreshID, stamps[1].FreshID)
}

// TestRuntime_EffectGroupOrdering verifies persistence effects reach their
// executor before actor sends, LLM calls, and broadcasts from the same
// envelope.
func TestRuntime_EffectGroupOrdering(t *testing.T) {
	rt := NewRuntime(DefaultOptions())

	var mu sync.Mutex
	var order []string
	record := func(label string) executorFunc {
		return func(context.Context, effect.Effect) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}
	rt.RegisterExecutor(effect.CategoryPersist, record("persist"))
	rt.RegisterExecutor(effect.CategoryLLM, record("llm"))
	rt.RegisterExecutor(effect.CategoryTool, record("tool"))
	rt.RegisterExecutor(effect.CategoryBroadcast, record("broadcast"))
	rt.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	sink := probeAddr("sink")
	require.True(t, rt.registerActor(newActor(sink, probeState{},
		func(s probeState, _ proto.Message) (probeState, []effect.Effect) {
			return s, nil
		})))

	addr := probeAddr("emitter")
	require.True(t, rt.registerActor(newActor(addr, probeState{},
		func(s probeState, msg proto.Message) (probeState, []effect.Effect) {
			return s, msg.(*probeMsg).Effects
		})))

	rt.Send(addr, &probeMsg{Effects: []effect.Effect{
		effect.BroadcastToRoom{RoomID: "lobby", Event: proto.NewEvent("e", "lobby", nil)},
		effect.CallAnthropic{AgentID: "alice", Tag: "t1"},
		effect.SendToActor{To: sink, Msg: &probeMsg{N: 9}},
		effect.DBPersistMessage{},
	}})

	waitUntil(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(order) == 3 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"persist", "llm", "broadcast"}, order)
}

// TestRuntime_UnknownActorDrops verifies a send to a missing address is a
// logged no-op.
func TestRuntime_UnknownActorDrops(t *testing.T) {
	rt := startRuntime(t, DefaultOptions())
	rt.Send(probeAddr("ghost"), &probeMsg{N: 1})
	assert.Nil(t, rt.StateOf(probeAddr("ghost")))
}

// TestRuntime_SpawnAndStop verifies actor-control spawn effects create live
// actors and StopActor removes them.
func TestRuntime_SpawnAndStop(t *testing.T) {
	rt := startRuntime(t, DefaultOptions())

	addr := probeAddr("emit")
	require.True(t, rt.registerActor(newActor(addr, probeState{},
		func(s probeState, msg proto.Message) (probeState, []effect.Effect) {
			return s, msg.(*probeMsg).Effects
		})))

	roomCfg := proto.RoomConfig{ID: "lobby", Name: "Lobby"}
	rt.Send(addr, &probeMsg{Effects: []effect.Effect{effect.SpawnRoom{
		Config:  roomCfg,
		Members: []proto.AgentID{"alice"},
	}}})
	waitUntil(t, func() bool { return rt.StateOf(proto.RoomAddress("lobby")) != nil })

	// Recovered members are seated in the initial state.
	room := rt.StateOf(proto.RoomAddress("lobby")).(state.RoomState)
	assert.Contains(t, room.Members, proto.AgentID("alice"))
	assert.Equal(t, state.RoomActive, room.Phase)

	// Spawning again keeps the existing instance.
	rt.Send(addr, &probeMsg{Effects: []effect.Effect{effect.SpawnRoom{Config: roomCfg}}})
	time.Sleep(20 * time.Millisecond)
	assert.NotNil(t, rt.StateOf(proto.RoomAddress("lobby")))

	rt.Send(addr, &probeMsg{Effects: []effect.Effect{effect.StopActor{Addr: proto.RoomAddress("lobby")}}})
	waitUntil(t, func() bool { return rt.StateOf(proto.RoomAddress("lobby")) == nil })
}

// TestRuntime_DirectorIsLive verifies the director actor exists from
// construction.
func TestRuntime_DirectorIsLive(t *testing.T) {
	rt := startRuntime(t, DefaultOptions())
	assert.NotNil(t, rt.StateOf(proto.DirectorAddress()))
}
