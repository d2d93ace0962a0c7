package interp

import (
	"fmt"
	"sort"
	"time"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// Agent interprets messages addressed to an agent actor. The response cycle
// is a small state machine: idle -> thinking -> (awaiting_tools -> thinking)*
// -> idle. A new RespondToMessage while a call is in flight supersedes it.
type Agent struct {
	Params Params
}

func (a Agent) Interpret(s state.AgentState, msg proto.Message) (state.AgentState, []effect.Effect) {
	switch m := msg.(type) {
	case *proto.RespondToMessage:
		return a.onRespond(s, m)
	case *proto.APIResponse:
		return a.onAPIResponse(s, m)
	case *proto.APIError:
		return a.onAPIError(s, m)
	case *proto.RetryAPICall:
		return a.onRetry(s, m)
	case *proto.ToolResultMsg:
		return a.onToolResults(s, m)
	case *proto.JoinRoom:
		return a.onJoinRoom(s, m)
	case *proto.LeaveRoom:
		return a.onLeaveRoom(s, m)
	case *proto.SetStatus:
		return a.onSetStatus(s, m)
	case *proto.StartTask:
		return a.onStartTask(s, m)
	case *proto.CompleteTask:
		return a.onCompleteTask(s, m)
	case *proto.ResetAgent:
		return a.onReset(s, m)
	default:
		return noChange(s)
	}
}

func (a Agent) onRespond(s state.AgentState, m *proto.RespondToMessage) (state.AgentState, []effect.Effect) {
	if s.Status == state.AgentOffline {
		return noChange(s)
	}

	var effects []effect.Effect
	// Supersede any in-flight work; its tag goes stale with the replacement.
	effects = append(effects, a.cancelInFlight(&s)...)

	transcript := BuildTranscript(m.Topic, m.Context, a.Params.MaxContextTokens)
	prompt := fmt.Sprintf(
		"%s\n\nRespond to the latest message as %s. Reply with only your message text.",
		transcript, s.Config.Name)

	tag := proto.ReplyTag(m.FreshID)
	next := s
	next.Status = state.AgentThinking
	next.History = []state.ConversationTurn{{
		Role:    "user",
		Content: []proto.ContentBlock{proto.TextBlock(prompt)},
	}}
	next.PendingTag = tag
	next.PendingRoomID = m.RoomID
	next.PendingRequest = a.buildRequest(&next)
	next.ToolCalls = 0
	next.Attempts = 0

	effects = append(effects,
		effect.DBUpdateAgentStatus{
			AgentID: s.Config.ID, Status: state.AgentThinking,
			LastSpokeAt: s.LastSpokeAt, MessageCount: s.MessageCount,
		},
		effect.SendToActor{
			To:  proto.RoomAddress(m.RoomID),
			Msg: &proto.AgentTypingMsg{AgentID: s.Config.ID, Typing: true},
		},
		effect.CallAnthropic{AgentID: s.Config.ID, Request: next.PendingRequest, Tag: tag},
	)
	return next, effects
}

func (a Agent) onAPIResponse(s state.AgentState, m *proto.APIResponse) (state.AgentState, []effect.Effect) {
	if m.Tag == "" || m.Tag != s.PendingTag {
		return noChange(s)
	}

	next := s
	next.History = append(append([]state.ConversationTurn(nil), s.History...), state.ConversationTurn{
		Role:    "assistant",
		Content: m.Response.Content,
	})

	calls := m.Response.ToolUses()
	if m.Response.StopReason == proto.StopToolUse && len(calls) > 0 {
		if s.ToolCalls+len(calls) > a.Params.MaxToolCalls {
			return a.finishCycle(next, m.Meta, m.Response.TextContent(),
				"tool call limit reached")
		}
		next.Status = state.AgentAwaitingTools
		next.ToolCalls = s.ToolCalls + len(calls)
		return withEffects(next, effect.ExecuteToolsBatch{
			AgentID: s.Config.ID,
			Tag:     s.PendingTag,
			Calls:   calls,
			Ctx:     proto.ToolContext{RoomID: s.PendingRoomID, AgentID: s.Config.ID},
		})
	}

	return a.finishCycle(next, m.Meta, m.Response.TextContent(), "")
}

// finishCycle ends a response cycle: deliver the text (if any) to the room or
// report the task outcome to the project, then return to idle.
func (a Agent) finishCycle(s state.AgentState, meta proto.Meta, text, failure string) (state.AgentState, []effect.Effect) {
	next := s
	next.Status = state.AgentIdle
	next.History = nil
	next.PendingTag = ""
	next.PendingRequest = proto.AnthropicRequest{}
	next.ToolCalls = 0
	next.Attempts = 0

	var effects []effect.Effect
	if s.PendingRoomID != "" {
		effects = append(effects, effect.SendToActor{
			To:  proto.RoomAddress(s.PendingRoomID),
			Msg: &proto.AgentTypingMsg{AgentID: s.Config.ID, Typing: false},
		})
	}

	if s.TaskID != "" {
		// Task cycle: the project hears the outcome, the room hears nothing.
		next.TaskID = ""
		next.ProjectID = ""
		if failure != "" {
			effects = append(effects, effect.SendToActor{
				To:  proto.ProjectAddress(s.ProjectID),
				Msg: &proto.TaskFailed{TaskID: s.TaskID, Err: failure},
			})
		} else {
			effects = append(effects, effect.SendToActor{
				To:  proto.ProjectAddress(s.ProjectID),
				Msg: &proto.TaskCompleted{TaskID: s.TaskID},
			})
		}
		effects = append(effects, effect.SendToActor{
			To:  proto.ProjectAddress(s.ProjectID),
			Msg: &proto.AgentTurnComplete{AgentID: s.Config.ID},
		})
		effects = append(effects, effect.DBUpdateAgentStatus{
			AgentID: s.Config.ID, Status: state.AgentIdle,
			LastSpokeAt: s.LastSpokeAt, MessageCount: s.MessageCount,
		})
		return next, effects
	}

	if failure != "" {
		// Failed room cycle: the room hears what went wrong, never a partial
		// reply.
		if s.PendingRoomID != "" {
			effects = append(effects, effect.BroadcastToRoom{
				RoomID: s.PendingRoomID,
				Event: proto.Notification(s.PendingRoomID, proto.SeverityError,
					fmt.Sprintf("%s failed to respond: %s", s.Config.Name, failure)),
			})
		}
	} else if text != "" && s.PendingRoomID != "" {
		line := proto.ChatMessage{
			ID:         proto.MessageID(meta.FreshID),
			RoomID:     s.PendingRoomID,
			Sender:     proto.AgentSender(s.Config.ID),
			SenderName: s.Config.Name,
			Content:    text,
			Type:       proto.MessageChat,
			Timestamp:  meta.At,
		}
		next.LastSpokeAt = meta.At
		next.MessageCount = s.MessageCount + 1
		effects = append(effects, effect.SendToActor{
			To:  proto.RoomAddress(s.PendingRoomID),
			Msg: &proto.AgentResponseMsg{AgentID: s.Config.ID, Message: line},
		})
	}

	effects = append(effects, effect.DBUpdateAgentStatus{
		AgentID: s.Config.ID, Status: state.AgentIdle,
		LastSpokeAt: next.LastSpokeAt, MessageCount: next.MessageCount,
	})
	return next, effects
}

func (a Agent) onAPIError(s state.AgentState, m *proto.APIError) (state.AgentState, []effect.Effect) {
	if m.Tag == "" || m.Tag != s.PendingTag {
		return noChange(s)
	}

	if (m.Transient || m.RateLimit) && s.Attempts < a.Params.MaxAttempts {
		next := s
		next.Attempts = s.Attempts + 1
		return withEffects(next, effect.Schedule{
			ScheduleID: "retry:" + string(m.Tag) + ":" + m.FreshID,
			To:         proto.AgentAddress(s.Config.ID),
			Msg:        &proto.RetryAPICall{Tag: m.Tag},
			Delay:      retryDelay(next.Attempts),
		})
	}

	return a.finishCycle(s, m.Meta, "", m.Err)
}

func (a Agent) onRetry(s state.AgentState, m *proto.RetryAPICall) (state.AgentState, []effect.Effect) {
	if m.Tag != s.PendingTag || s.Status != state.AgentThinking {
		return noChange(s)
	}
	return withEffects(s, effect.CallAnthropic{
		AgentID: s.Config.ID,
		Request: s.PendingRequest,
		Tag:     s.PendingTag,
	})
}

func (a Agent) onToolResults(s state.AgentState, m *proto.ToolResultMsg) (state.AgentState, []effect.Effect) {
	if m.Tag == "" || m.Tag != s.PendingTag || s.Status != state.AgentAwaitingTools {
		return noChange(s)
	}

	blocks := make([]proto.ContentBlock, 0, len(m.Results))
	for _, r := range m.Results {
		blocks = append(blocks, proto.ToolResultBlock(r.ToolUseID, r.Content, r.IsError))
	}

	tag := proto.ReplyTag(m.FreshID)
	next := s
	next.Status = state.AgentThinking
	next.History = append(append([]state.ConversationTurn(nil), s.History...), state.ConversationTurn{
		Role:    "user",
		Content: blocks,
	})
	next.PendingTag = tag
	next.PendingRequest = a.buildRequest(&next)
	next.Attempts = 0

	return withEffects(next, effect.CallAnthropic{
		AgentID: s.Config.ID,
		Request: next.PendingRequest,
		Tag:     tag,
	})
}

func (a Agent) onJoinRoom(s state.AgentState, m *proto.JoinRoom) (state.AgentState, []effect.Effect) {
	if s.RoomID == m.RoomID {
		return noChange(s)
	}

	var effects []effect.Effect
	if s.RoomID != "" {
		effects = append(effects, effect.SendToActor{
			To:  proto.RoomAddress(s.RoomID),
			Msg: &proto.AgentLeft{AgentID: s.Config.ID, AgentName: s.Config.Name},
		})
	}

	next := s
	next.RoomID = m.RoomID
	effects = append(effects, effect.SendToActor{
		To: proto.RoomAddress(m.RoomID),
		Msg: &proto.AgentJoined{
			AgentID:   s.Config.ID,
			AgentName: s.Config.Name,
			Tendency:  s.Config.ResponseTendency,
		},
	})
	return next, effects
}

func (a Agent) onLeaveRoom(s state.AgentState, m *proto.LeaveRoom) (state.AgentState, []effect.Effect) {
	if s.RoomID == "" || (m.RoomID != "" && m.RoomID != s.RoomID) {
		return noChange(s)
	}
	next := s
	next.RoomID = ""
	return withEffects(next, effect.SendToActor{
		To:  proto.RoomAddress(s.RoomID),
		Msg: &proto.AgentLeft{AgentID: s.Config.ID, AgentName: s.Config.Name},
	})
}

func (a Agent) onSetStatus(s state.AgentState, m *proto.SetStatus) (state.AgentState, []effect.Effect) {
	switch m.Status {
	case state.AgentIdle, state.AgentThinking, state.AgentAwaitingTools,
		state.AgentSpeaking, state.AgentOffline:
	default:
		return noChange(s)
	}

	var effects []effect.Effect
	next := s
	if m.Status == state.AgentOffline {
		effects = append(effects, a.cancelInFlight(&s)...)
		next.History = nil
		next.PendingTag = ""
		next.PendingRequest = proto.AnthropicRequest{}
		next.ToolCalls = 0
		next.Attempts = 0
	}
	next.Status = m.Status
	effects = append(effects, effect.DBUpdateAgentStatus{
		AgentID: s.Config.ID, Status: m.Status,
		LastSpokeAt: s.LastSpokeAt, MessageCount: s.MessageCount,
	})
	return next, effects
}

func (a Agent) onStartTask(s state.AgentState, m *proto.StartTask) (state.AgentState, []effect.Effect) {
	if s.Status == state.AgentOffline || s.TaskID != "" {
		return withEffects(s, effect.SendToActor{
			To:  proto.ProjectAddress(m.ProjectID),
			Msg: &proto.TaskFailed{TaskID: m.TaskID, Err: "agent unavailable"},
		})
	}

	var effects []effect.Effect
	effects = append(effects, a.cancelInFlight(&s)...)

	prompt := fmt.Sprintf("Task: %s\n\n%s\n\nComplete this task. Use your tools where they help; reply with a summary of what you did.",
		m.Title, m.Brief)

	tag := proto.ReplyTag(m.FreshID)
	next := s
	next.Status = state.AgentThinking
	next.TaskID = m.TaskID
	next.ProjectID = m.ProjectID
	next.History = []state.ConversationTurn{{
		Role:    "user",
		Content: []proto.ContentBlock{proto.TextBlock(prompt)},
	}}
	next.PendingTag = tag
	next.PendingRoomID = s.RoomID
	next.PendingRequest = a.buildRequest(&next)
	next.ToolCalls = 0
	next.Attempts = 0

	effects = append(effects,
		effect.SendToActor{
			To:  proto.ProjectAddress(m.ProjectID),
			Msg: &proto.TaskStarted{TaskID: m.TaskID, AgentID: s.Config.ID},
		},
		effect.DBUpdateAgentStatus{
			AgentID: s.Config.ID, Status: state.AgentThinking,
			LastSpokeAt: s.LastSpokeAt, MessageCount: s.MessageCount,
		},
		effect.CallAnthropic{AgentID: s.Config.ID, Request: next.PendingRequest, Tag: tag},
	)
	return next, effects
}

func (a Agent) onCompleteTask(s state.AgentState, m *proto.CompleteTask) (state.AgentState, []effect.Effect) {
	if s.TaskID != m.TaskID {
		return noChange(s)
	}
	next := s
	next.TaskID = ""
	next.ProjectID = ""
	return stateOnly(next)
}

func (a Agent) onReset(s state.AgentState, _ *proto.ResetAgent) (state.AgentState, []effect.Effect) {
	effects := a.cancelInFlight(&s)
	next := s
	next.Status = state.AgentIdle
	next.History = nil
	next.TaskID = ""
	next.ProjectID = ""
	next.PendingTag = ""
	next.PendingRequest = proto.AnthropicRequest{}
	next.ToolCalls = 0
	next.Attempts = 0
	effects = append(effects, effect.DBUpdateAgentStatus{
		AgentID: s.Config.ID, Status: state.AgentIdle,
		LastSpokeAt: s.LastSpokeAt, MessageCount: s.MessageCount,
	})
	return next, effects
}

// cancelInFlight emits the cancellation for whatever external call the agent
// is waiting on. The pending tag goes stale either way.
func (a Agent) cancelInFlight(s *state.AgentState) []effect.Effect {
	if s.PendingTag == "" {
		return nil
	}
	switch s.Status {
	case state.AgentThinking:
		return []effect.Effect{effect.CancelAPICall{Tag: s.PendingTag}}
	case state.AgentAwaitingTools:
		return []effect.Effect{effect.CancelToolExecution{Tag: s.PendingTag}}
	}
	return nil
}

// buildRequest assembles the LLM request from the agent's persona and history.
func (a Agent) buildRequest(s *state.AgentState) proto.AnthropicRequest {
	turns := make([]proto.CompletionTurn, 0, len(s.History))
	for _, t := range s.History {
		turns = append(turns, proto.CompletionTurn{Role: t.Role, Content: t.Content})
	}
	return proto.AnthropicRequest{
		Model:       s.Config.Model,
		MaxTokens:   a.Params.MaxTokens,
		System:      systemPromptFor(&s.Config),
		Messages:    turns,
		Tools:       a.toolSpecs(&s.Config),
		Temperature: s.Config.Temperature,
	}
}

// toolSpecs resolves the agent's allowed tools against the catalog, in stable
// name order.
func (a Agent) toolSpecs(cfg *proto.AgentConfig) []proto.ToolSpec {
	if len(cfg.AllowedTools) == 0 || len(a.Params.ToolCatalog) == 0 {
		return nil
	}
	names := append([]string(nil), cfg.AllowedTools...)
	sort.Strings(names)
	specs := make([]proto.ToolSpec, 0, len(names))
	for _, name := range names {
		if spec, ok := a.Params.ToolCatalog[name]; ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

// retryDelay doubles from one second per attempt, capped at thirty.
func retryDelay(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
