package proto

// Director actor messages. The director owns the registry of rooms, agents,
// and projects; it spawns and stops the other actors.

// CreateRoom registers a room and spawns its actor.
type CreateRoom struct {
	Meta
	Config RoomConfig `json:"config"`
}

// DeleteRoom stops and forgets a room.
type DeleteRoom struct {
	Meta
	RoomID RoomID `json:"room_id"`
}

// RegisterAgent registers a persona and spawns its actor.
type RegisterAgent struct {
	Meta
	Config AgentConfig `json:"config"`
}

// UnregisterAgent stops and forgets an agent.
type UnregisterAgent struct {
	Meta
	AgentID AgentID `json:"agent_id"`
}

// MoveAgentToRoom relocates an agent, emitting leave/join on the way.
type MoveAgentToRoom struct {
	Meta
	AgentID AgentID `json:"agent_id"`
	RoomID  RoomID  `json:"room_id"`
}

// StartNewProject creates a project actor bound to a room.
type StartNewProject struct {
	Meta
	ProjectID ProjectID  `json:"project_id"`
	Name      string     `json:"name"`
	Goal      string     `json:"goal"`
	RoomID    RoomID     `json:"room_id"`
	MaxTurns  int        `json:"max_turns"`
	Tasks     []TaskSeed `json:"tasks,omitempty"`
}

// StopProject cancels a running project.
type StopProject struct {
	Meta
	ProjectID ProjectID `json:"project_id"`
}

// AgentsLoaded seeds the director's agent registry during recovery.
type AgentsLoaded struct {
	Meta
	Configs []AgentConfig `json:"configs"`
}

// RoomsLoaded seeds the director's room registry during recovery.
type RoomsLoaded struct {
	Meta
	Rooms   []RoomConfig          `json:"rooms"`
	Members map[RoomID][]AgentID  `json:"members"`
}

// GetStatus asks for a registry snapshot, answered on the reply tag.
type GetStatus struct {
	Meta
	Tag ReplyTag `json:"tag"`
}

func (*CreateRoom) MessageKind() string      { return "create_room" }
func (*DeleteRoom) MessageKind() string      { return "delete_room" }
func (*RegisterAgent) MessageKind() string   { return "register_agent" }
func (*UnregisterAgent) MessageKind() string { return "unregister_agent" }
func (*MoveAgentToRoom) MessageKind() string { return "move_agent_to_room" }
func (*StartNewProject) MessageKind() string { return "start_new_project" }
func (*StopProject) MessageKind() string     { return "stop_project" }
func (*AgentsLoaded) MessageKind() string    { return "agents_loaded" }
func (*RoomsLoaded) MessageKind() string     { return "rooms_loaded" }
func (*GetStatus) MessageKind() string       { return "get_status" }
