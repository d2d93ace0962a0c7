package proto

// Agent actor messages.

// RespondToMessage asks an agent to produce a reply for a room. Context is
// the room's recent transcript window; Trigger is the line being answered.
type RespondToMessage struct {
	Meta
	RoomID  RoomID        `json:"room_id"`
	Topic   string        `json:"topic,omitempty"`
	Context []ChatMessage `json:"context"`
	Trigger ChatMessage   `json:"trigger"`
}

// APIResponse carries a completed LLM call back to the requesting agent.
type APIResponse struct {
	Meta
	Response AnthropicResponse `json:"response"`
	Tag      ReplyTag          `json:"tag"`
}

// APIError carries a failed LLM call back to the requesting agent.
type APIError struct {
	Meta
	Err       string   `json:"error"`
	Tag       ReplyTag `json:"tag"`
	Transient bool     `json:"transient"`
	RateLimit bool     `json:"rate_limit"`
}

// RetryAPICall re-issues the pending LLM request after a transient failure.
// Scheduled by the agent itself with backoff; ignored when the tag is stale.
type RetryAPICall struct {
	Meta
	Tag ReplyTag `json:"tag"`
}

// ToolResultMsg delivers all results for one tool batch in a single message.
type ToolResultMsg struct {
	Meta
	Results []ToolResultItem `json:"results"`
	Tag     ReplyTag         `json:"tag"`
}

// JoinRoom moves the agent into a room.
type JoinRoom struct {
	Meta
	RoomID RoomID `json:"room_id"`
}

// LeaveRoom removes the agent from its current room.
type LeaveRoom struct {
	Meta
	RoomID RoomID `json:"room_id"`
}

// SetStatus forces an agent status (used by the director and recovery).
type SetStatus struct {
	Meta
	Status string `json:"status"`
}

// StartTask assigns a project task to the agent.
type StartTask struct {
	Meta
	TaskID    TaskID    `json:"task_id"`
	ProjectID ProjectID `json:"project_id"`
	Title     string    `json:"title"`
	Brief     string    `json:"brief"`
}

// CompleteTask clears the agent's current task.
type CompleteTask struct {
	Meta
	TaskID TaskID `json:"task_id"`
}

// ResetAgent drops in-flight work and returns the agent to idle.
type ResetAgent struct {
	Meta
}

func (*RespondToMessage) MessageKind() string { return "respond_to_message" }
func (*APIResponse) MessageKind() string      { return "api_response" }
func (*APIError) MessageKind() string         { return "api_error" }
func (*RetryAPICall) MessageKind() string     { return "retry_api_call" }
func (*ToolResultMsg) MessageKind() string    { return "tool_result" }
func (*JoinRoom) MessageKind() string         { return "join_room" }
func (*LeaveRoom) MessageKind() string        { return "leave_room" }
func (*SetStatus) MessageKind() string        { return "set_status" }
func (*StartTask) MessageKind() string        { return "start_task" }
func (*CompleteTask) MessageKind() string     { return "complete_task" }
func (*ResetAgent) MessageKind() string       { return "reset_agent" }
