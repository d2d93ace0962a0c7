// Package effect defines the descriptors for every side effect an interpreter
// may request. Effects are plain data: nothing here executes anything. The
// runtime's dispatcher routes each effect to its executor by category.
package effect

import (
	"time"

	"salon/pkg/proto"
)

// Kind discriminates the effect union.
type Kind string

const (
	// Persistence effects.
	KindDBPersistMessage    Kind = "DB_PERSIST_MESSAGE"
	KindDBDeleteRoomHistory Kind = "DB_DELETE_ROOM_HISTORY"
	KindDBLoadRoomMessages  Kind = "DB_LOAD_ROOM_MESSAGES"
	KindDBUpsertRoom        Kind = "DB_UPSERT_ROOM"
	KindDBDeleteRoom        Kind = "DB_DELETE_ROOM"
	KindDBUpsertAgent       Kind = "DB_UPSERT_AGENT"
	KindDBUpdateAgentStatus Kind = "DB_UPDATE_AGENT_STATUS"
	KindDBAddRoomMember     Kind = "DB_ADD_ROOM_MEMBER"
	KindDBRemoveRoomMember  Kind = "DB_REMOVE_ROOM_MEMBER"
	KindDBUpdateTask        Kind = "DB_UPDATE_TASK"
	KindDBAppendEvent       Kind = "DB_APPEND_EVENT"

	// LLM effects.
	KindCallAnthropic Kind = "CALL_ANTHROPIC"
	KindCancelAPICall Kind = "CANCEL_API_CALL"

	// Tool effects.
	KindExecuteTool         Kind = "EXECUTE_TOOL"
	KindExecuteToolsBatch   Kind = "EXECUTE_TOOLS_BATCH"
	KindCancelToolExecution Kind = "CANCEL_TOOL_EXECUTION"

	// Broadcast effects.
	KindBroadcastToRoom Kind = "BROADCAST_TO_ROOM"
	KindBroadcastToAll  Kind = "BROADCAST_TO_ALL"
	KindSendToClient    Kind = "SEND_TO_CLIENT"

	// Actor-control effects, executed in-runtime.
	KindSendToActor     Kind = "SEND_TO_ACTOR"
	KindSchedule        Kind = "SCHEDULE_MESSAGE"
	KindCancelScheduled Kind = "CANCEL_SCHEDULED"
	KindSpawnRoom       Kind = "SPAWN_ROOM_ACTOR"
	KindSpawnAgent      Kind = "SPAWN_AGENT_ACTOR"
	KindSpawnProject    Kind = "SPAWN_PROJECT_ACTOR"
	KindStopActor       Kind = "STOP_ACTOR"
)

// Category groups kinds by executor.
type Category int

const (
	CategoryPersist Category = iota
	CategoryLLM
	CategoryTool
	CategoryBroadcast
	CategoryActorControl
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryPersist:
		return "persist"
	case CategoryLLM:
		return "llm"
	case CategoryTool:
		return "tool"
	case CategoryBroadcast:
		return "broadcast"
	case CategoryActorControl:
		return "actor_control"
	default:
		return "unknown"
	}
}

// Effect is the sealed union. Variants are plain records below.
type Effect interface {
	EffectKind() Kind
}

// CategoryOf routes a kind to its executor category.
func CategoryOf(e Effect) Category {
	switch e.EffectKind() {
	case KindDBPersistMessage, KindDBDeleteRoomHistory, KindDBLoadRoomMessages,
		KindDBUpsertRoom, KindDBDeleteRoom, KindDBUpsertAgent, KindDBUpdateAgentStatus,
		KindDBAddRoomMember, KindDBRemoveRoomMember, KindDBUpdateTask, KindDBAppendEvent:
		return CategoryPersist
	case KindCallAnthropic, KindCancelAPICall:
		return CategoryLLM
	case KindExecuteTool, KindExecuteToolsBatch, KindCancelToolExecution:
		return CategoryTool
	case KindBroadcastToRoom, KindBroadcastToAll, KindSendToClient:
		return CategoryBroadcast
	case KindSendToActor, KindSchedule, KindCancelScheduled,
		KindSpawnRoom, KindSpawnAgent, KindSpawnProject, KindStopActor:
		return CategoryActorControl
	default:
		return CategoryUnknown
	}
}

// Persistence variants.

type DBPersistMessage struct {
	Message proto.ChatMessage
}

type DBDeleteRoomHistory struct {
	RoomID proto.RoomID
}

// DBLoadRoomMessages loads up to Limit messages for a room; the executor
// replies with a MessagesLoaded message to ReplyTo.
type DBLoadRoomMessages struct {
	RoomID  proto.RoomID
	Limit   int
	ReplyTo proto.Address
}

type DBUpsertRoom struct {
	Config proto.RoomConfig
}

type DBDeleteRoom struct {
	RoomID proto.RoomID
}

type DBUpsertAgent struct {
	Config proto.AgentConfig
}

type DBUpdateAgentStatus struct {
	AgentID      proto.AgentID
	Status       string
	LastSpokeAt  int64
	MessageCount int64
}

type DBAddRoomMember struct {
	RoomID   proto.RoomID
	AgentID  proto.AgentID
	JoinedAt int64
}

type DBRemoveRoomMember struct {
	RoomID  proto.RoomID
	AgentID proto.AgentID
}

type DBUpdateTask struct {
	ProjectID proto.ProjectID
	Task      proto.Task
}

type DBAppendEvent struct {
	EventType string
	Data      map[string]any
}

// LLM variants.

type CallAnthropic struct {
	AgentID proto.AgentID
	Request proto.AnthropicRequest
	Tag     proto.ReplyTag
}

type CancelAPICall struct {
	Tag proto.ReplyTag
}

// Tool variants.

type ExecuteTool struct {
	AgentID proto.AgentID
	Tag     proto.ReplyTag
	Call    proto.ContentBlock // a tool_use block
	Ctx     proto.ToolContext
}

// ExecuteToolsBatch runs every call; all results come back in one
// ToolResultMsg regardless of per-call completion order.
type ExecuteToolsBatch struct {
	AgentID proto.AgentID
	Tag     proto.ReplyTag
	Calls   []proto.ContentBlock
	Ctx     proto.ToolContext
}

type CancelToolExecution struct {
	Tag proto.ReplyTag
}

// Broadcast variants.

type BroadcastToRoom struct {
	RoomID proto.RoomID
	Event  proto.Event
}

type BroadcastToAll struct {
	Event proto.Event
}

type SendToClient struct {
	ClientID proto.ClientID
	Event    proto.Event
}

// Actor-control variants.

type SendToActor struct {
	To  proto.Address
	Msg proto.Message
}

// Schedule delivers Msg to To after Delay. A non-zero Every re-arms the entry
// after each delivery.
type Schedule struct {
	ScheduleID string
	To         proto.Address
	Msg        proto.Message
	Delay      time.Duration
	Every      time.Duration
}

type CancelScheduled struct {
	ScheduleID string
}

type SpawnRoom struct {
	Config  proto.RoomConfig
	Members []proto.AgentID
}

type SpawnAgent struct {
	Config proto.AgentConfig
}

type SpawnProject struct {
	ProjectID proto.ProjectID
	Name      string
	Goal      string
	RoomID    proto.RoomID
	MaxTurns  int
}

type StopActor struct {
	Addr proto.Address
}

func (DBPersistMessage) EffectKind() Kind    { return KindDBPersistMessage }
func (DBDeleteRoomHistory) EffectKind() Kind { return KindDBDeleteRoomHistory }
func (DBLoadRoomMessages) EffectKind() Kind  { return KindDBLoadRoomMessages }
func (DBUpsertRoom) EffectKind() Kind        { return KindDBUpsertRoom }
func (DBDeleteRoom) EffectKind() Kind        { return KindDBDeleteRoom }
func (DBUpsertAgent) EffectKind() Kind       { return KindDBUpsertAgent }
func (DBUpdateAgentStatus) EffectKind() Kind { return KindDBUpdateAgentStatus }
func (DBAddRoomMember) EffectKind() Kind     { return KindDBAddRoomMember }
func (DBRemoveRoomMember) EffectKind() Kind  { return KindDBRemoveRoomMember }
func (DBUpdateTask) EffectKind() Kind        { return KindDBUpdateTask }
func (DBAppendEvent) EffectKind() Kind       { return KindDBAppendEvent }

func (CallAnthropic) EffectKind() Kind { return KindCallAnthropic }
func (CancelAPICall) EffectKind() Kind { return KindCancelAPICall }

func (ExecuteTool) EffectKind() Kind         { return KindExecuteTool }
func (ExecuteToolsBatch) EffectKind() Kind   { return KindExecuteToolsBatch }
func (CancelToolExecution) EffectKind() Kind { return KindCancelToolExecution }

func (BroadcastToRoom) EffectKind() Kind { return KindBroadcastToRoom }
func (BroadcastToAll) EffectKind() Kind  { return KindBroadcastToAll }
func (SendToClient) EffectKind() Kind    { return KindSendToClient }

func (SendToActor) EffectKind() Kind     { return KindSendToActor }
func (Schedule) EffectKind() Kind        { return KindSchedule }
func (CancelScheduled) EffectKind() Kind { return KindCancelScheduled }
func (SpawnRoom) EffectKind() Kind       { return KindSpawnRoom }
func (SpawnAgent) EffectKind() Kind      { return KindSpawnAgent }
func (SpawnProject) EffectKind() Kind    { return KindSpawnProject }
func (StopActor) EffectKind() Kind       { return KindStopActor }
