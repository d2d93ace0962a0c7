package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

func testDirector() Director {
	return Director{Params: DefaultParams()}
}

// TestDirector_CreateRoom_SpawnsOnce verifies a room is registered, persisted
// and spawned exactly once.
func TestDirector_CreateRoom_SpawnsOnce(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()

	create := &proto.CreateRoom{
		Meta:   proto.Meta{At: 100, FreshID: "f1"},
		Config: proto.RoomConfig{ID: "lobby", Name: "Lobby"},
	}
	next, effects := d.Interpret(s, create)

	require.Contains(t, next.Rooms, proto.RoomID("lobby"))
	assert.Equal(t, int64(100), next.Rooms["lobby"].Config.CreatedAt)
	assert.Len(t, effectsOfKind(effects, effect.KindDBUpsertRoom), 1)
	assert.Len(t, effectsOfKind(effects, effect.KindSpawnRoom), 1)

	ticks := effectsOfKind(effects, effect.KindSchedule)
	require.Len(t, ticks, 1)
	tick := ticks[0].(effect.Schedule)
	assert.Equal(t, "room-tick:lobby", tick.ScheduleID)
	assert.Equal(t, proto.RoomAddress("lobby"), tick.To)
	assert.NotZero(t, tick.Every)

	// Same id again is a no-op.
	_, effects = d.Interpret(next, create)
	assert.Empty(t, effects)
}

// TestDirector_DeleteRoom_EvictsMembers verifies members are told to leave
// before the actor stops.
func TestDirector_DeleteRoom_EvictsMembers(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()
	s.Rooms["lobby"] = state.RoomInfo{
		Config:  proto.RoomConfig{ID: "lobby", Name: "Lobby"},
		Members: []proto.AgentID{"alice", "bob"},
	}

	next, effects := d.Interpret(s, &proto.DeleteRoom{Meta: proto.Meta{At: 100, FreshID: "f1"}, RoomID: "lobby"})

	assert.NotContains(t, next.Rooms, proto.RoomID("lobby"))

	var leaves int
	for _, e := range effectsOfKind(effects, effect.KindSendToActor) {
		if _, ok := e.(effect.SendToActor).Msg.(*proto.LeaveRoom); ok {
			leaves++
		}
	}
	assert.Equal(t, 2, leaves)
	require.Len(t, effectsOfKind(effects, effect.KindStopActor), 1)

	cancels := effectsOfKind(effects, effect.KindCancelScheduled)
	require.Len(t, cancels, 1)
	assert.Equal(t, "room-tick:lobby", cancels[0].(effect.CancelScheduled).ScheduleID)
}

// TestDirector_MoveAgent_SingleRoomMembership verifies moving an agent drops
// it from the old room's registry entry.
func TestDirector_MoveAgent_SingleRoomMembership(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()
	s.Agents["alice"] = proto.AgentConfig{ID: "alice", Name: "Alice"}
	s.Rooms["lobby"] = state.RoomInfo{Config: proto.RoomConfig{ID: "lobby"}, Members: []proto.AgentID{"alice"}}
	s.Rooms["dev"] = state.RoomInfo{Config: proto.RoomConfig{ID: "dev"}}

	next, effects := d.Interpret(s, &proto.MoveAgentToRoom{
		Meta: proto.Meta{At: 100, FreshID: "f1"}, AgentID: "alice", RoomID: "dev",
	})

	assert.Empty(t, next.Rooms["lobby"].Members)
	assert.Equal(t, []proto.AgentID{"alice"}, next.Rooms["dev"].Members)

	sends := effectsOfKind(effects, effect.KindSendToActor)
	require.Len(t, sends, 1)
	join, ok := sends[0].(effect.SendToActor).Msg.(*proto.JoinRoom)
	require.True(t, ok)
	assert.Equal(t, proto.RoomID("dev"), join.RoomID)
}

// TestDirector_StartProject_CapturesBuilders verifies the project starts with
// the room's current members as builders.
func TestDirector_StartProject_CapturesBuilders(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()
	s.Rooms["lobby"] = state.RoomInfo{
		Config:  proto.RoomConfig{ID: "lobby"},
		Members: []proto.AgentID{"alice", "bob"},
	}

	next, effects := d.Interpret(s, &proto.StartNewProject{
		Meta: proto.Meta{At: 100, FreshID: "fresh-p"},
		Name: "docs", Goal: "ship", RoomID: "lobby", MaxTurns: 10,
	})

	require.Contains(t, next.Projects, proto.ProjectID("fresh-p"))

	spawns := effectsOfKind(effects, effect.KindSpawnProject)
	require.Len(t, spawns, 1)
	assert.Equal(t, proto.ProjectID("fresh-p"), spawns[0].(effect.SpawnProject).ProjectID)

	sends := effectsOfKind(effects, effect.KindSendToActor)
	require.Len(t, sends, 1)
	start, ok := sends[0].(effect.SendToActor).Msg.(*proto.StartProject)
	require.True(t, ok)
	assert.Equal(t, []proto.AgentID{"alice", "bob"}, start.Builders)
	assert.Equal(t, 10, start.MaxTurns)

	ticks := effectsOfKind(effects, effect.KindSchedule)
	require.Len(t, ticks, 1)
	tick := ticks[0].(effect.Schedule)
	assert.Equal(t, "project-tick:fresh-p", tick.ScheduleID)
	assert.Equal(t, proto.ProjectAddress("fresh-p"), tick.To)
	assert.NotZero(t, tick.Every)

	// Stopping the project disarms its tick.
	next, effects = d.Interpret(next, &proto.StopProject{
		Meta: proto.Meta{At: 200, FreshID: "f2"}, ProjectID: "fresh-p",
	})
	assert.NotContains(t, next.Projects, proto.ProjectID("fresh-p"))
	cancels := effectsOfKind(effects, effect.KindCancelScheduled)
	require.Len(t, cancels, 1)
	assert.Equal(t, "project-tick:fresh-p", cancels[0].(effect.CancelScheduled).ScheduleID)
}

// TestDirector_StartProject_UnknownRoom verifies a project cannot start
// against a room the director does not know.
func TestDirector_StartProject_UnknownRoom(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()

	next, effects := d.Interpret(s, &proto.StartNewProject{
		Meta: proto.Meta{At: 100, FreshID: "f1"}, Name: "docs", RoomID: "ghost",
	})
	assert.Empty(t, effects)
	assert.Empty(t, next.Projects)
}

// TestDirector_Recovery_RespawnsAndReloads verifies loaded rooms spawn, ask
// for their history, and re-seat their members.
func TestDirector_Recovery_RespawnsAndReloads(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()

	s, _ = d.Interpret(s, &proto.AgentsLoaded{
		Meta:    proto.Meta{At: 100, FreshID: "f1"},
		Configs: []proto.AgentConfig{{ID: "alice", Name: "Alice"}},
	})
	require.Contains(t, s.Agents, proto.AgentID("alice"))

	next, effects := d.Interpret(s, &proto.RoomsLoaded{
		Meta:    proto.Meta{At: 200, FreshID: "f2"},
		Rooms:   []proto.RoomConfig{{ID: "lobby", Name: "Lobby"}},
		Members: map[proto.RoomID][]proto.AgentID{"lobby": {"alice"}},
	})

	require.Contains(t, next.Rooms, proto.RoomID("lobby"))
	assert.Len(t, effectsOfKind(effects, effect.KindSpawnRoom), 1)
	assert.Len(t, effectsOfKind(effects, effect.KindSchedule), 1)

	loads := effectsOfKind(effects, effect.KindDBLoadRoomMessages)
	require.Len(t, loads, 1)
	load := loads[0].(effect.DBLoadRoomMessages)
	assert.Equal(t, proto.RoomAddress("lobby"), load.ReplyTo)
	assert.Equal(t, state.MaxRoomMessages, load.Limit)

	var joins int
	for _, e := range effectsOfKind(effects, effect.KindSendToActor) {
		if _, ok := e.(effect.SendToActor).Msg.(*proto.JoinRoom); ok {
			joins++
		}
	}
	assert.Equal(t, 1, joins)
}

// TestDirector_GetStatus_RepliesOnTag verifies the snapshot is routed to the
// transient client registered under the reply tag.
func TestDirector_GetStatus_RepliesOnTag(t *testing.T) {
	d := testDirector()
	s := state.NewDirectorState()
	s.Rooms["lobby"] = state.RoomInfo{Config: proto.RoomConfig{ID: "lobby", Name: "Lobby"}}
	s.Agents["alice"] = proto.AgentConfig{ID: "alice", Name: "Alice"}

	_, effects := d.Interpret(s, &proto.GetStatus{Meta: proto.Meta{At: 100, FreshID: "f1"}, Tag: "req-42"})

	require.Len(t, effects, 1)
	send := effects[0].(effect.SendToClient)
	assert.Equal(t, proto.ClientID("req-42"), send.ClientID)
	assert.Equal(t, "status", send.Event.Type)

	rooms, ok := send.Event.Payload["rooms"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Lobby", rooms[0]["name"])
}
