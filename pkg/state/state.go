// Package state holds the per-actor runtime state records. State values are
// owned by the runtime, handed to the interpreters by value, and replaced
// atomically with the returned next value. Nothing here does I/O.
package state

import (
	"sort"

	"salon/pkg/proto"
)

// MaxRoomMessages caps the in-memory message ring. The database remains the
// source of truth for full history.
const MaxRoomMessages = 1000

// AgentStatus values.
const (
	AgentIdle          = "idle"
	AgentThinking      = "thinking"
	AgentAwaitingTools = "awaiting_tools"
	AgentSpeaking      = "speaking"
	AgentOffline       = "offline"
)

// RoomPhase values.
const (
	RoomIdle       = "idle"
	RoomActive     = "active"
	RoomProcessing = "processing"
)

// ProjectPhase values.
const (
	ProjectIdle      = "idle"
	ProjectPlanning  = "planning"
	ProjectBuilding  = "building"
	ProjectReviewing = "reviewing"
	ProjectDone      = "done"
)

// ValidProjectPhase reports whether s names a project phase.
func ValidProjectPhase(s string) bool {
	switch s {
	case ProjectIdle, ProjectPlanning, ProjectBuilding, ProjectReviewing, ProjectDone:
		return true
	}
	return false
}

// PendingResponder tracks one agent expected to answer the latest user line.
type PendingResponder struct {
	AgentID      proto.AgentID `json:"agent_id"`
	WaitingSince int64         `json:"waiting_since"` // unix ms
}

// RoomState is the full state of one room actor.
type RoomState struct {
	Config            proto.RoomConfig          `json:"config"`
	Members           map[proto.AgentID]string  `json:"members"`  // id -> display name
	Tendency          map[proto.AgentID]float64 `json:"tendency"` // id -> response tendency
	Messages          []proto.ChatMessage       `json:"messages"`
	Phase             string                    `json:"phase"`
	PendingResponders []PendingResponder        `json:"pending_responders"`
}

// NewRoomState builds the initial state for a spawned room.
func NewRoomState(cfg proto.RoomConfig) RoomState {
	return RoomState{
		Config:   cfg,
		Members:  make(map[proto.AgentID]string),
		Tendency: make(map[proto.AgentID]float64),
		Phase:    RoomIdle,
	}
}

// AppendMessage returns a copy of the ring with m appended, discarding the
// oldest entry at capacity.
func AppendMessage(ring []proto.ChatMessage, m proto.ChatMessage) []proto.ChatMessage {
	next := make([]proto.ChatMessage, 0, len(ring)+1)
	next = append(next, ring...)
	next = append(next, m)
	if len(next) > MaxRoomMessages {
		next = next[len(next)-MaxRoomMessages:]
	}
	return next
}

// MemberIDs returns member ids sorted by display name, then id, for stable
// iteration in the interpreters.
func (s *RoomState) MemberIDs() []proto.AgentID {
	ids := make([]proto.AgentID, 0, len(s.Members))
	for id := range s.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := s.Members[ids[i]], s.Members[ids[j]]
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// IsPending reports whether the agent is among the pending responders.
func (s *RoomState) IsPending(id proto.AgentID) bool {
	for i := range s.PendingResponders {
		if s.PendingResponders[i].AgentID == id {
			return true
		}
	}
	return false
}

// ConversationTurn is one entry in an agent's rolling history.
type ConversationTurn struct {
	Role    string               `json:"role"`
	Content []proto.ContentBlock `json:"content"`
}

// AgentState is the full state of one agent actor. PendingRequest holds the
// in-flight LLM request so transient failures can be retried without
// rebuilding it.
type AgentState struct {
	Config         proto.AgentConfig      `json:"config"`
	Status         string                 `json:"status"`
	RoomID         proto.RoomID           `json:"room_id,omitempty"`
	TaskID         proto.TaskID           `json:"task_id,omitempty"`
	ProjectID      proto.ProjectID        `json:"project_id,omitempty"`
	History        []ConversationTurn     `json:"history"`
	PendingTag     proto.ReplyTag         `json:"pending_tag,omitempty"`
	PendingRoomID  proto.RoomID           `json:"pending_room_id,omitempty"`
	PendingRequest proto.AnthropicRequest `json:"pending_request,omitempty"`
	ToolCalls      int                    `json:"tool_calls"`
	Attempts       int                    `json:"attempts"`
	LastSpokeAt    int64                  `json:"last_spoke_at,omitempty"`
	MessageCount   int64                  `json:"message_count"`
}

// NewAgentState builds the initial state for a spawned agent.
func NewAgentState(cfg proto.AgentConfig) AgentState {
	return AgentState{Config: cfg, Status: AgentIdle}
}

// ProjectState is the full state of one project actor.
type ProjectState struct {
	ID                proto.ProjectID `json:"id"`
	Name              string          `json:"name"`
	Goal              string          `json:"goal"`
	RoomID            proto.RoomID    `json:"room_id"`
	Phase             string          `json:"phase"`
	Tasks             []proto.Task    `json:"tasks"`
	Builders          []proto.AgentID `json:"builders"`
	ActiveBuilders    []proto.AgentID `json:"active_builders"`
	CompletedBuilders []proto.AgentID `json:"completed_builders"`
	TurnCount         int             `json:"turn_count"`
	MaxTurns          int             `json:"max_turns"`
}

// AllTasksDone reports whether every task is terminal and at least one exists.
func (s *ProjectState) AllTasksDone() bool {
	if len(s.Tasks) == 0 {
		return false
	}
	for i := range s.Tasks {
		switch s.Tasks[i].Status {
		case proto.TaskStatusDone, proto.TaskStatusFailed:
		default:
			return false
		}
	}
	return true
}

// TaskByID returns the index of a task, or -1.
func (s *ProjectState) TaskByID(id proto.TaskID) int {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// RoomInfo is the director's lightweight view of a room.
type RoomInfo struct {
	Config  proto.RoomConfig `json:"config"`
	Members []proto.AgentID  `json:"members"`
}

// ProjectInfo is the director's lightweight view of a project.
type ProjectInfo struct {
	ID     proto.ProjectID `json:"id"`
	Name   string          `json:"name"`
	RoomID proto.RoomID    `json:"room_id"`
}

// DirectorState is the top-level registry. The director never holds room or
// agent runtime state, only identity and metadata.
type DirectorState struct {
	Rooms    map[proto.RoomID]RoomInfo         `json:"rooms"`
	Agents   map[proto.AgentID]proto.AgentConfig `json:"agents"`
	Projects map[proto.ProjectID]ProjectInfo   `json:"projects"`
}

// NewDirectorState builds an empty registry.
func NewDirectorState() DirectorState {
	return DirectorState{
		Rooms:    make(map[proto.RoomID]RoomInfo),
		Agents:   make(map[proto.AgentID]proto.AgentConfig),
		Projects: make(map[proto.ProjectID]ProjectInfo),
	}
}

// CloneRoomMembers copies a member map so interpreters never mutate shared state.
func CloneRoomMembers(members map[proto.AgentID]string) map[proto.AgentID]string {
	next := make(map[proto.AgentID]string, len(members))
	for k, v := range members {
		next[k] = v
	}
	return next
}
