package interp

import (
	"fmt"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// Room interprets messages addressed to a room actor.
type Room struct {
	Params Params
}

// Interpret applies one message to the room state. Unknown messages are a
// no-op; the runtime logs them from the returned diagnostic effect absence.
func (r Room) Interpret(s state.RoomState, msg proto.Message) (state.RoomState, []effect.Effect) {
	switch m := msg.(type) {
	case *proto.UserMessage:
		return r.onUserMessage(s, m)
	case *proto.AgentResponseMsg:
		return r.onAgentResponse(s, m)
	case *proto.AgentJoined:
		return r.onAgentJoined(s, m)
	case *proto.AgentLeft:
		return r.onAgentLeft(s, m)
	case *proto.AgentTypingMsg:
		return withEffects(s, effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventAgentTyping, s.Config.ID, map[string]any{
				"agentId": string(m.AgentID),
				"typing":  m.Typing,
			}),
		})
	case *proto.ClearMessages:
		return r.clearHistory(s, "Room history cleared")
	case *proto.ResetRoom:
		next, effects := r.clearHistory(s, "Room reset")
		next.Phase = state.RoomIdle
		next.PendingResponders = nil
		return next, effects
	case *proto.MessagesLoaded:
		return r.onMessagesLoaded(s, m)
	case *proto.RoomTick:
		return r.onTick(s, m)
	case *proto.RequestResponses:
		return r.onRequestResponses(s, m)
	default:
		return noChange(s)
	}
}

func (r Room) onUserMessage(s state.RoomState, m *proto.UserMessage) (state.RoomState, []effect.Effect) {
	if err := m.Message.Validate(); err != nil {
		return noChange(s)
	}

	next := s
	next.Messages = state.AppendMessage(s.Messages, m.Message)

	responders := selectResponders(r.Params, &s, m.Message.Sender, m.Message.ID,
		m.Mentioned, r.tendencyOf(&s))

	effects := []effect.Effect{
		effect.DBPersistMessage{Message: m.Message},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventMessageAdded, s.Config.ID, map[string]any{
				"message": m.Message,
			}),
		},
	}

	if len(responders) > 0 {
		next.Phase = state.RoomProcessing
		next.PendingResponders = make([]state.PendingResponder, 0, len(responders))
		for _, id := range responders {
			next.PendingResponders = append(next.PendingResponders, state.PendingResponder{
				AgentID:      id,
				WaitingSince: m.At,
			})
		}
		effects = append(effects, r.respondEffects(&next, responders, m.Message)...)
	} else {
		next.Phase = state.RoomActive
	}
	return next, effects
}

func (r Room) onAgentResponse(s state.RoomState, m *proto.AgentResponseMsg) (state.RoomState, []effect.Effect) {
	if _, ok := s.Members[m.AgentID]; !ok {
		// A response from a non-member is stale; drop it.
		return noChange(s)
	}

	next := s
	next.Messages = state.AppendMessage(s.Messages, m.Message)
	next.PendingResponders = removePending(s.PendingResponders, m.AgentID)
	if len(next.PendingResponders) == 0 {
		next.Phase = state.RoomActive
	}

	return withEffects(next,
		effect.DBPersistMessage{Message: m.Message},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventMessageAdded, s.Config.ID, map[string]any{
				"message": m.Message,
			}),
		},
	)
}

func (r Room) onAgentJoined(s state.RoomState, m *proto.AgentJoined) (state.RoomState, []effect.Effect) {
	if name, ok := s.Members[m.AgentID]; ok {
		if name != "" {
			return noChange(s)
		}
		// Pre-seated at spawn during recovery: fill in the announcement
		// without re-persisting membership or synthesizing a join line.
		next := s
		next.Members = state.CloneRoomMembers(s.Members)
		next.Members[m.AgentID] = m.AgentName
		next.Tendency = cloneTendency(s.Tendency)
		next.Tendency[m.AgentID] = m.Tendency
		return stateOnly(next)
	}

	next := s
	next.Members = state.CloneRoomMembers(s.Members)
	next.Members[m.AgentID] = m.AgentName
	next.Tendency = cloneTendency(s.Tendency)
	next.Tendency[m.AgentID] = m.Tendency
	if len(s.Members) == 0 && s.Phase == state.RoomIdle {
		next.Phase = state.RoomActive
	}

	line := systemLine(s.Config.ID, m.FreshID, m.At, proto.MessageJoin,
		fmt.Sprintf("%s has joined the room", m.AgentName))
	next.Messages = state.AppendMessage(s.Messages, line)

	return withEffects(next,
		effect.DBAddRoomMember{RoomID: s.Config.ID, AgentID: m.AgentID, JoinedAt: m.At},
		effect.DBPersistMessage{Message: line},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventAgentJoined, s.Config.ID, map[string]any{
				"agentId":   string(m.AgentID),
				"agentName": m.AgentName,
			}),
		},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventMessageAdded, s.Config.ID, map[string]any{
				"message": line,
			}),
		},
	)
}

func (r Room) onAgentLeft(s state.RoomState, m *proto.AgentLeft) (state.RoomState, []effect.Effect) {
	name, ok := s.Members[m.AgentID]
	if !ok {
		return noChange(s)
	}
	if m.AgentName != "" {
		name = m.AgentName
	}

	next := s
	next.Members = state.CloneRoomMembers(s.Members)
	delete(next.Members, m.AgentID)
	next.Tendency = cloneTendency(s.Tendency)
	delete(next.Tendency, m.AgentID)
	next.PendingResponders = removePending(s.PendingResponders, m.AgentID)
	if len(next.PendingResponders) == 0 && s.Phase == state.RoomProcessing {
		next.Phase = state.RoomActive
	}

	line := systemLine(s.Config.ID, m.FreshID, m.At, proto.MessageLeave,
		fmt.Sprintf("%s has left the room", name))
	next.Messages = state.AppendMessage(s.Messages, line)

	return withEffects(next,
		effect.DBRemoveRoomMember{RoomID: s.Config.ID, AgentID: m.AgentID},
		effect.DBPersistMessage{Message: line},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventAgentLeft, s.Config.ID, map[string]any{
				"agentId":   string(m.AgentID),
				"agentName": name,
			}),
		},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.NewEvent(proto.EventMessageAdded, s.Config.ID, map[string]any{
				"message": line,
			}),
		},
	)
}

func (r Room) clearHistory(s state.RoomState, note string) (state.RoomState, []effect.Effect) {
	next := s
	next.Messages = nil
	return withEffects(next,
		effect.DBDeleteRoomHistory{RoomID: s.Config.ID},
		effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event:  proto.Notification(s.Config.ID, proto.SeverityInfo, note),
		},
	)
}

func (r Room) onMessagesLoaded(s state.RoomState, m *proto.MessagesLoaded) (state.RoomState, []effect.Effect) {
	msgs := m.Messages
	if len(msgs) > state.MaxRoomMessages {
		msgs = msgs[len(msgs)-state.MaxRoomMessages:]
	}
	next := s
	next.Messages = append([]proto.ChatMessage(nil), msgs...)
	if next.Phase == state.RoomIdle && len(next.Messages) > 0 {
		next.Phase = state.RoomActive
	}
	return stateOnly(next)
}

// onTick drops responders that have been pending longer than the timeout and
// tells the room's clients about each one.
func (r Room) onTick(s state.RoomState, m *proto.RoomTick) (state.RoomState, []effect.Effect) {
	if len(s.PendingResponders) == 0 {
		return noChange(s)
	}

	kept := make([]state.PendingResponder, 0, len(s.PendingResponders))
	var effects []effect.Effect
	for _, p := range s.PendingResponders {
		if m.At-p.WaitingSince <= r.Params.ResponseTimeoutMs {
			kept = append(kept, p)
			continue
		}
		name := s.Members[p.AgentID]
		effects = append(effects, effect.BroadcastToRoom{
			RoomID: s.Config.ID,
			Event: proto.Notification(s.Config.ID, proto.SeverityWarn,
				fmt.Sprintf("%s did not respond in time", name)),
		})
	}
	if len(effects) == 0 {
		return noChange(s)
	}

	next := s
	next.PendingResponders = kept
	if len(kept) == 0 {
		next.Phase = state.RoomActive
	}
	return next, effects
}

// onRequestResponses re-runs responder selection against the newest
// user-authored line, for manual nudges from the operator surface.
func (r Room) onRequestResponses(s state.RoomState, m *proto.RequestResponses) (state.RoomState, []effect.Effect) {
	trigger, ok := lastUserLine(s.Messages)
	if !ok {
		return noChange(s)
	}

	responders := m.Agents
	if len(responders) == 0 {
		responders = selectResponders(r.Params, &s, trigger.Sender, trigger.ID, nil, r.tendencyOf(&s))
	} else {
		members := make([]proto.AgentID, 0, len(responders))
		for _, id := range responders {
			if _, ok := s.Members[id]; ok {
				members = append(members, id)
			}
		}
		responders = members
	}
	if len(responders) == 0 {
		return noChange(s)
	}

	next := s
	next.Phase = state.RoomProcessing
	next.PendingResponders = make([]state.PendingResponder, 0, len(responders))
	for _, id := range responders {
		next.PendingResponders = append(next.PendingResponders, state.PendingResponder{
			AgentID:      id,
			WaitingSince: m.At,
		})
	}
	return next, r.respondEffects(&next, responders, trigger)
}

// respondEffects builds one RespondToMessage send per responder, each carrying
// the same trailing context window.
func (r Room) respondEffects(s *state.RoomState, responders []proto.AgentID, trigger proto.ChatMessage) []effect.Effect {
	window := s.Messages
	if n := r.Params.ContextWindow; n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	ctx := append([]proto.ChatMessage(nil), window...)

	effects := make([]effect.Effect, 0, len(responders))
	for _, id := range responders {
		effects = append(effects, effect.SendToActor{
			To: proto.AgentAddress(id),
			Msg: &proto.RespondToMessage{
				RoomID:  s.Config.ID,
				Topic:   s.Config.Topic,
				Context: ctx,
				Trigger: trigger,
			},
		})
	}
	return effects
}

func (r Room) tendencyOf(s *state.RoomState) func(proto.AgentID) float64 {
	return func(id proto.AgentID) float64 {
		return s.Tendency[id]
	}
}

func systemLine(roomID proto.RoomID, id string, at int64, typ proto.MessageType, content string) proto.ChatMessage {
	return proto.ChatMessage{
		ID:         proto.MessageID(id),
		RoomID:     roomID,
		Sender:     proto.SystemSender(),
		SenderName: "system",
		Content:    content,
		Type:       typ,
		Timestamp:  at,
	}
}

func removePending(pending []state.PendingResponder, id proto.AgentID) []state.PendingResponder {
	out := make([]state.PendingResponder, 0, len(pending))
	for _, p := range pending {
		if p.AgentID != id {
			out = append(out, p)
		}
	}
	return out
}

func lastUserLine(msgs []proto.ChatMessage) (proto.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender.Kind == proto.SenderUser && msgs[i].Type == proto.MessageChat {
			return msgs[i], true
		}
	}
	return proto.ChatMessage{}, false
}

func cloneTendency(m map[proto.AgentID]float64) map[proto.AgentID]float64 {
	next := make(map[proto.AgentID]float64, len(m))
	for k, v := range m {
		next[k] = v
	}
	return next
}
