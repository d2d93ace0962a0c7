package proto

// Room actor messages.

// UserMessage delivers a human-authored chat line to a room.
type UserMessage struct {
	Meta
	Message   ChatMessage `json:"message"`
	Mentioned []AgentID   `json:"mentioned,omitempty"`
}

// AgentResponseMsg delivers an agent's finished reply to a room.
type AgentResponseMsg struct {
	Meta
	AgentID AgentID     `json:"agent_id"`
	Message ChatMessage `json:"message"`
}

// AgentJoined notifies a room that an agent became a member. Tendency is the
// agent's response tendency, kept on the room for responder selection.
type AgentJoined struct {
	Meta
	AgentID   AgentID `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Tendency  float64 `json:"tendency"`
}

// AgentLeft notifies a room that an agent left.
type AgentLeft struct {
	Meta
	AgentID   AgentID `json:"agent_id"`
	AgentName string  `json:"agent_name"`
}

// AgentTypingMsg toggles the typing indicator for an agent.
type AgentTypingMsg struct {
	Meta
	AgentID AgentID `json:"agent_id"`
	Typing  bool    `json:"typing"`
}

// ClearMessages wipes the room's history.
type ClearMessages struct {
	Meta
}

// ResetRoom clears history and returns the room to idle, keeping members.
type ResetRoom struct {
	Meta
}

// MessagesLoaded replaces the in-memory ring during recovery.
type MessagesLoaded struct {
	Meta
	Messages []ChatMessage `json:"messages"`
}

// RoomTick drives timeout checks on pending responders.
type RoomTick struct {
	Meta
}

// RequestResponses forces a responder round for the most recent user message.
type RequestResponses struct {
	Meta
	Agents []AgentID `json:"agents,omitempty"`
}

func (*UserMessage) MessageKind() string      { return "user_message" }
func (*AgentResponseMsg) MessageKind() string { return "agent_response" }
func (*AgentJoined) MessageKind() string      { return "agent_joined" }
func (*AgentLeft) MessageKind() string        { return "agent_left" }
func (*AgentTypingMsg) MessageKind() string   { return "agent_typing" }
func (*ClearMessages) MessageKind() string    { return "clear_messages" }
func (*ResetRoom) MessageKind() string        { return "reset_room" }
func (*MessagesLoaded) MessageKind() string   { return "messages_loaded" }
func (*RoomTick) MessageKind() string         { return "room_tick" }
func (*RequestResponses) MessageKind() string { return "request_responses" }
