package dispatch

import (
	"context"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// dispatch routes one interpreter call's effects. Groups run in a fixed
// order: persistence first so nothing derived outruns durability, then
// actor-control, then LLM and tool calls (their executors return
// immediately and complete on their own goroutines), broadcasts last.
// Clients therefore never see a message_added for a message that is not yet
// durable.
func (rt *Runtime) dispatch(ctx context.Context, from proto.Address, effects []effect.Effect) {
	if len(effects) == 0 {
		return
	}

	var persist, control, calls, casts []effect.Effect
	for _, eff := range effects {
		switch effect.CategoryOf(eff) {
		case effect.CategoryPersist:
			persist = append(persist, eff)
		case effect.CategoryActorControl:
			control = append(control, eff)
		case effect.CategoryLLM, effect.CategoryTool:
			calls = append(calls, eff)
		case effect.CategoryBroadcast:
			casts = append(casts, eff)
		default:
			rt.logger.Error("actor %s emitted unroutable effect %s", from, eff.EffectKind())
		}
	}

	for _, eff := range persist {
		rt.execute(ctx, from, eff)
	}
	for _, eff := range control {
		rt.executeControl(from, eff)
	}
	for _, eff := range calls {
		rt.execute(ctx, from, eff)
	}
	for _, eff := range casts {
		rt.execute(ctx, from, eff)
	}
}

// execute hands one effect to its category executor. Failures are logged;
// actor state is never rolled back on executor error.
func (rt *Runtime) execute(ctx context.Context, from proto.Address, eff effect.Effect) {
	cat := effect.CategoryOf(eff)
	ex, ok := rt.executors[cat]
	if !ok {
		rt.logger.Error("no executor for category %s (effect %s from %s)", cat, eff.EffectKind(), from)
		return
	}
	err := ex.Execute(ctx, eff)
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.ObserveEffect(cat.String(), err)
	}
	if err != nil {
		rt.logger.Error("effect %s from %s failed: %v", eff.EffectKind(), from, err)
	}
}

// executeControl runs the actor-control category in-runtime.
func (rt *Runtime) executeControl(from proto.Address, eff effect.Effect) {
	switch ef := eff.(type) {
	case effect.SendToActor:
		rt.Send(ef.To, ef.Msg)
	case effect.Schedule:
		rt.sched.add(ef)
	case effect.CancelScheduled:
		rt.sched.cancel(ef.ScheduleID)
	case effect.SpawnRoom:
		addr := proto.RoomAddress(ef.Config.ID)
		initial := state.NewRoomState(ef.Config)
		// Recovered members are pre-seated by id; their names and tendencies
		// arrive when each agent re-announces itself.
		for _, id := range ef.Members {
			initial.Members[id] = ""
		}
		if len(ef.Members) > 0 {
			initial.Phase = state.RoomActive
		}
		if rt.registerActor(newActor(addr, initial, rt.room.Interpret)) {
			rt.logger.Info("spawned room %s", ef.Config.ID)
		}
	case effect.SpawnAgent:
		addr := proto.AgentAddress(ef.Config.ID)
		if rt.registerActor(newActor(addr, state.NewAgentState(ef.Config), rt.agent.Interpret)) {
			rt.logger.Info("spawned agent %s", ef.Config.ID)
		}
	case effect.SpawnProject:
		addr := proto.ProjectAddress(ef.ProjectID)
		initial := state.ProjectState{
			ID:       ef.ProjectID,
			Name:     ef.Name,
			Goal:     ef.Goal,
			RoomID:   ef.RoomID,
			MaxTurns: ef.MaxTurns,
			Phase:    state.ProjectIdle,
		}
		if rt.registerActor(newActor(addr, initial, rt.project.Interpret)) {
			rt.logger.Info("spawned project %s in room %s", ef.ProjectID, ef.RoomID)
		}
	case effect.StopActor:
		rt.stopActor(ef.Addr)
	default:
		rt.logger.Error("unknown actor-control effect %s from %s", eff.EffectKind(), from)
	}
}
