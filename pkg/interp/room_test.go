package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
	"salon/pkg/testkit"
)

func testRoom() Room {
	return Room{Params: DefaultParams()}
}

func testRoomState() state.RoomState {
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby", Name: "Lobby", Topic: "general chat"})
	s.Members["alice"] = "Alice"
	s.Members["bob"] = "Bob"
	s.Members["carol"] = "Carol"
	s.Tendency["alice"] = 0.9
	s.Tendency["bob"] = 0.5
	s.Tendency["carol"] = 0.1
	s.Phase = state.RoomActive
	return s
}

func userLine(id, content string) proto.ChatMessage {
	return proto.ChatMessage{
		ID:         proto.MessageID(id),
		RoomID:     "lobby",
		Sender:     proto.UserSender("u1"),
		SenderName: "dan",
		Content:    content,
		Type:       proto.MessageChat,
		Timestamp:  1000,
	}
}

func effectsOfKind(effects []effect.Effect, kind effect.Kind) []effect.Effect {
	return testkit.EffectsOfKind(effects, kind)
}

// TestRoom_UserMessage_PersistsBeforeBroadcast verifies the observable order:
// the database write precedes the client broadcast, which precedes agent sends.
func TestRoom_UserMessage_PersistsBeforeBroadcast(t *testing.T) {
	r := testRoom()
	s := testRoomState()

	msg := &proto.UserMessage{Meta: proto.Meta{At: 1000, FreshID: "f1"}, Message: userLine("m1", "hello all")}
	next, effects := r.Interpret(s, msg)

	require.NotEmpty(t, effects)
	assert.Equal(t, effect.KindDBPersistMessage, effects[0].EffectKind())
	assert.Equal(t, effect.KindBroadcastToRoom, effects[1].EffectKind())
	for _, e := range effects[2:] {
		assert.Equal(t, effect.KindSendToActor, e.EffectKind())
	}

	assert.Len(t, next.Messages, 1)
	assert.Equal(t, state.RoomProcessing, next.Phase)
	assert.NotEmpty(t, next.PendingResponders)
}

// TestRoom_UserMessage_MentionsWin verifies mentioned agents respond
// regardless of tendency.
func TestRoom_UserMessage_MentionsWin(t *testing.T) {
	r := testRoom()
	s := testRoomState()

	msg := &proto.UserMessage{
		Meta:      proto.Meta{At: 1000, FreshID: "f1"},
		Message:   userLine("m1", "@carol what do you think?"),
		Mentioned: []proto.AgentID{"carol"},
	}
	next, effects := r.Interpret(s, msg)

	sends := effectsOfKind(effects, effect.KindSendToActor)
	require.Len(t, sends, 1)
	send := sends[0].(effect.SendToActor)
	assert.Equal(t, proto.AgentAddress("carol"), send.To)

	respond, ok := send.Msg.(*proto.RespondToMessage)
	require.True(t, ok)
	assert.Equal(t, proto.RoomID("lobby"), respond.RoomID)
	assert.Equal(t, "general chat", respond.Topic)
	assert.Equal(t, proto.MessageID("m1"), respond.Trigger.ID)

	require.Len(t, next.PendingResponders, 1)
	assert.Equal(t, proto.AgentID("carol"), next.PendingResponders[0].AgentID)
	assert.Equal(t, int64(1000), next.PendingResponders[0].WaitingSince)
}

// TestRoom_UserMessage_Deterministic verifies the same message always selects
// the same responders.
func TestRoom_UserMessage_Deterministic(t *testing.T) {
	r := testRoom()

	msg := &proto.UserMessage{Meta: proto.Meta{At: 1000, FreshID: "f1"}, Message: userLine("m1", "hi")}

	_, first := r.Interpret(testRoomState(), msg)
	_, second := r.Interpret(testRoomState(), msg)

	firstSends := effectsOfKind(first, effect.KindSendToActor)
	secondSends := effectsOfKind(second, effect.KindSendToActor)
	require.Equal(t, len(firstSends), len(secondSends))
	for i := range firstSends {
		assert.Equal(t, firstSends[i].(effect.SendToActor).To, secondSends[i].(effect.SendToActor).To)
	}
}

// TestRoom_AgentResponse_ClearsPending verifies the phase returns to active
// once the last pending responder answers.
func TestRoom_AgentResponse_ClearsPending(t *testing.T) {
	r := testRoom()
	s := testRoomState()
	s.Phase = state.RoomProcessing
	s.PendingResponders = []state.PendingResponder{{AgentID: "alice", WaitingSince: 1000}}

	reply := proto.ChatMessage{
		ID: "m2", RoomID: "lobby", Sender: proto.AgentSender("alice"),
		SenderName: "Alice", Content: "hey", Type: proto.MessageChat, Timestamp: 2000,
	}
	next, effects := r.Interpret(s, &proto.AgentResponseMsg{
		Meta: proto.Meta{At: 2000, FreshID: "f2"}, AgentID: "alice", Message: reply,
	})

	assert.Empty(t, next.PendingResponders)
	assert.Equal(t, state.RoomActive, next.Phase)
	assert.Len(t, next.Messages, 1)

	require.Len(t, effects, 2)
	assert.Equal(t, effect.KindDBPersistMessage, effects[0].EffectKind())
	assert.Equal(t, effect.KindBroadcastToRoom, effects[1].EffectKind())
}

// TestRoom_AgentResponse_NonMemberDropped verifies a stale response from an
// agent that already left is discarded.
func TestRoom_AgentResponse_NonMemberDropped(t *testing.T) {
	r := testRoom()
	s := testRoomState()

	next, effects := r.Interpret(s, &proto.AgentResponseMsg{
		Meta:    proto.Meta{At: 2000, FreshID: "f2"},
		AgentID: "mallory",
		Message: proto.ChatMessage{ID: "m2", RoomID: "lobby", Sender: proto.AgentSender("mallory"), Type: proto.MessageChat},
	})

	assert.Empty(t, effects)
	assert.Empty(t, next.Messages)
}

// TestRoom_AgentJoined_SystemLine verifies join produces a system-authored
// join line plus membership persistence.
func TestRoom_AgentJoined_SystemLine(t *testing.T) {
	r := testRoom()
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby", Name: "Lobby"})

	next, effects := r.Interpret(s, &proto.AgentJoined{
		Meta: proto.Meta{At: 500, FreshID: "join-1"}, AgentID: "alice", AgentName: "Alice", Tendency: 0.8,
	})

	assert.Equal(t, "Alice", next.Members["alice"])
	assert.Equal(t, 0.8, next.Tendency["alice"])

	require.Len(t, next.Messages, 1)
	line := next.Messages[0]
	assert.Equal(t, proto.MessageJoin, line.Type)
	assert.Equal(t, proto.SenderSystem, line.Sender.Kind)
	assert.Equal(t, proto.MessageID("join-1"), line.ID)
	assert.NoError(t, line.Validate())

	require.Len(t, effects, 4)
	assert.Equal(t, effect.KindDBAddRoomMember, effects[0].EffectKind())
	assert.Equal(t, effect.KindDBPersistMessage, effects[1].EffectKind())
}

// TestRoom_PreSeatedJoinIsSilent verifies a member re-seated from the store
// fills in its announcement without re-persisting membership or adding a
// join line.
func TestRoom_PreSeatedJoinIsSilent(t *testing.T) {
	r := testRoom()
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby", Name: "Lobby"})
	s.Members["alice"] = ""
	s.Phase = state.RoomActive

	next, effects := r.Interpret(s, &proto.AgentJoined{
		Meta: proto.Meta{At: 500, FreshID: "join-1"}, AgentID: "alice", AgentName: "Alice", Tendency: 0.8,
	})

	assert.Empty(t, effects)
	assert.Empty(t, next.Messages)
	assert.Equal(t, "Alice", next.Members["alice"])
	assert.Equal(t, 0.8, next.Tendency["alice"])
}

// TestRoom_FirstJoinActivates verifies the first member moves an idle room to
// active; later joins leave the phase alone.
func TestRoom_FirstJoinActivates(t *testing.T) {
	r := testRoom()
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby", Name: "Lobby"})
	require.Equal(t, state.RoomIdle, s.Phase)

	s, _ = r.Interpret(s, &proto.AgentJoined{
		Meta: proto.Meta{At: 500, FreshID: "join-1"}, AgentID: "alice", AgentName: "Alice", Tendency: 0.8,
	})
	assert.Equal(t, state.RoomActive, s.Phase)

	s.Phase = state.RoomProcessing
	s.PendingResponders = []state.PendingResponder{{AgentID: "alice", WaitingSince: 600}}
	s, _ = r.Interpret(s, &proto.AgentJoined{
		Meta: proto.Meta{At: 700, FreshID: "join-2"}, AgentID: "bob", AgentName: "Bob", Tendency: 0.5,
	})
	assert.Equal(t, state.RoomProcessing, s.Phase, "later joins must not reset an in-flight phase")
}

// TestRoom_AgentLeft_RemovesPending verifies a leaving agent is dropped from
// the pending responder set.
func TestRoom_AgentLeft_RemovesPending(t *testing.T) {
	r := testRoom()
	s := testRoomState()
	s.Phase = state.RoomProcessing
	s.PendingResponders = []state.PendingResponder{{AgentID: "bob", WaitingSince: 1000}}

	next, effects := r.Interpret(s, &proto.AgentLeft{
		Meta: proto.Meta{At: 2000, FreshID: "leave-1"}, AgentID: "bob", AgentName: "Bob",
	})

	_, stillMember := next.Members["bob"]
	assert.False(t, stillMember)
	assert.Empty(t, next.PendingResponders)
	assert.Equal(t, state.RoomActive, next.Phase)
	assert.NotEmpty(t, effectsOfKind(effects, effect.KindDBRemoveRoomMember))
}

// TestRoom_Tick_TimesOutStaleResponders verifies responders past the timeout
// are dropped with a warning broadcast.
func TestRoom_Tick_TimesOutStaleResponders(t *testing.T) {
	r := testRoom()
	s := testRoomState()
	s.Phase = state.RoomProcessing
	s.PendingResponders = []state.PendingResponder{
		{AgentID: "alice", WaitingSince: 1000},
		{AgentID: "bob", WaitingSince: 50_000},
	}

	next, effects := r.Interpret(s, &proto.RoomTick{Meta: proto.Meta{At: 60_000, FreshID: "t1"}})

	require.Len(t, next.PendingResponders, 1)
	assert.Equal(t, proto.AgentID("bob"), next.PendingResponders[0].AgentID)
	assert.Equal(t, state.RoomProcessing, next.Phase)
	require.Len(t, effects, 1)
	assert.Equal(t, effect.KindBroadcastToRoom, effects[0].EffectKind())
}

// TestRoom_Tick_NoPendingNoEffects verifies ticks are free when nothing waits.
func TestRoom_Tick_NoPendingNoEffects(t *testing.T) {
	r := testRoom()
	s := testRoomState()

	_, effects := r.Interpret(s, &proto.RoomTick{Meta: proto.Meta{At: 60_000, FreshID: "t1"}})
	assert.Empty(t, effects)
}

// TestRoom_ClearMessages verifies history is wiped in memory and in the store
// while membership survives.
func TestRoom_ClearMessages(t *testing.T) {
	r := testRoom()
	s := testRoomState()
	s.Messages = []proto.ChatMessage{userLine("m1", "old")}

	next, effects := r.Interpret(s, &proto.ClearMessages{Meta: proto.Meta{At: 2000, FreshID: "c1"}})

	assert.Empty(t, next.Messages)
	assert.Len(t, next.Members, 3)
	require.Len(t, effects, 2)
	assert.Equal(t, effect.KindDBDeleteRoomHistory, effects[0].EffectKind())
}

// TestRoom_MessagesLoaded_TruncatesToCap verifies recovery respects the ring
// capacity, keeping the newest lines.
func TestRoom_MessagesLoaded_TruncatesToCap(t *testing.T) {
	r := testRoom()
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby"})

	msgs := make([]proto.ChatMessage, state.MaxRoomMessages+10)
	for i := range msgs {
		msgs[i] = userLine("m", "x")
		msgs[i].Timestamp = int64(i)
	}
	next, effects := r.Interpret(s, &proto.MessagesLoaded{Meta: proto.Meta{At: 1, FreshID: "l1"}, Messages: msgs})

	assert.Empty(t, effects)
	require.Len(t, next.Messages, state.MaxRoomMessages)
	assert.Equal(t, int64(10), next.Messages[0].Timestamp)
}

// TestRoom_AppendMessage_RingCap verifies the in-memory ring drops the oldest
// line at capacity.
func TestRoom_AppendMessage_RingCap(t *testing.T) {
	ring := make([]proto.ChatMessage, 0, state.MaxRoomMessages)
	for i := 0; i < state.MaxRoomMessages; i++ {
		ring = append(ring, userLine("m", "x"))
	}
	next := state.AppendMessage(ring, userLine("newest", "y"))

	assert.Len(t, next, state.MaxRoomMessages)
	assert.Equal(t, proto.MessageID("newest"), next[len(next)-1].ID)
}

// TestSelectResponders_ThresholdAndFallback verifies tendency filtering and
// the highest-tendency fallback.
func TestSelectResponders_ThresholdAndFallback(t *testing.T) {
	p := DefaultParams()
	s := testRoomState()
	s.Tendency["alice"] = 0.2
	s.Tendency["bob"] = 0.1
	s.Tendency["carol"] = 0.05

	// Nobody clears the threshold, so the most talkative member answers.
	got := selectResponders(p, &s, proto.UserSender("u1"), "m1", nil,
		func(id proto.AgentID) float64 { return s.Tendency[id] })
	require.Len(t, got, 1)
	assert.Equal(t, proto.AgentID("alice"), got[0])
}

// TestSelectResponders_FanOutCap verifies at most the cap responds even when
// everyone qualifies.
func TestSelectResponders_FanOutCap(t *testing.T) {
	p := DefaultParams()
	s := state.NewRoomState(proto.RoomConfig{ID: "lobby"})
	for _, id := range []proto.AgentID{"a", "b", "c", "d", "e"} {
		s.Members[id] = string(id)
		s.Tendency[id] = 0.9
	}

	got := selectResponders(p, &s, proto.UserSender("u1"), "m1", nil,
		func(id proto.AgentID) float64 { return s.Tendency[id] })
	assert.Len(t, got, p.ResponderFanOut)
}

// TestSelectResponders_SenderExcluded verifies an agent never answers itself.
func TestSelectResponders_SenderExcluded(t *testing.T) {
	p := DefaultParams()
	s := testRoomState()

	got := selectResponders(p, &s, proto.AgentSender("alice"), "m1", nil,
		func(id proto.AgentID) float64 { return s.Tendency[id] })
	for _, id := range got {
		assert.NotEqual(t, proto.AgentID("alice"), id)
	}
}
