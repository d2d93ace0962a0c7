// Package proto defines the wire-level and in-memory value types shared by the
// interpreters, the runtime, and the executors: identifiers, actor addresses,
// envelopes, chat messages, and the per-actor message unions.
package proto

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier kinds. All are opaque, URL-safe strings.
type (
	RoomID    string
	AgentID   string
	MessageID string
	ProjectID string
	TaskID    string
	UserID    string
	ClientID  string
)

// ReplyTag correlates an outstanding external call (LLM, tool) with the actor
// that issued it. A stale tag marks a superseded or cancelled operation.
type ReplyTag string

func NewMessageID() MessageID { return MessageID(uuid.NewString()) }
func NewRoomID() RoomID       { return RoomID(uuid.NewString()) }
func NewProjectID() ProjectID { return ProjectID(uuid.NewString()) }
func NewTaskID() TaskID       { return TaskID(uuid.NewString()) }
func NewReplyTag() ReplyTag   { return ReplyTag(uuid.NewString()) }
func NewEnvelopeID() string   { return uuid.NewString() }

// SenderKind discriminates the SenderID union.
type SenderKind string

const (
	SenderAgent  SenderKind = "agent"
	SenderUser   SenderKind = "user"
	SenderSystem SenderKind = "system"
)

// SenderID identifies the author of a chat message: an agent, a human user,
// or the system itself. Serialised as "agent:<id>", "user:<id>", or "system".
type SenderID struct {
	Kind  SenderKind `json:"kind"`
	Agent AgentID    `json:"agent,omitempty"`
	User  UserID     `json:"user,omitempty"`
}

func AgentSender(id AgentID) SenderID { return SenderID{Kind: SenderAgent, Agent: id} }
func UserSender(id UserID) SenderID   { return SenderID{Kind: SenderUser, User: id} }
func SystemSender() SenderID          { return SenderID{Kind: SenderSystem} }

func (s SenderID) String() string {
	switch s.Kind {
	case SenderAgent:
		return "agent:" + string(s.Agent)
	case SenderUser:
		return "user:" + string(s.User)
	case SenderSystem:
		return "system"
	default:
		return string(s.Kind)
	}
}

// ParseSenderID parses the string form produced by String.
func ParseSenderID(s string) (SenderID, error) {
	if s == "system" {
		return SystemSender(), nil
	}
	kind, id, found := strings.Cut(s, ":")
	if !found {
		return SenderID{}, fmt.Errorf("malformed sender id: %q", s)
	}
	switch SenderKind(kind) {
	case SenderAgent:
		return AgentSender(AgentID(id)), nil
	case SenderUser:
		return UserSender(UserID(id)), nil
	default:
		return SenderID{}, fmt.Errorf("unknown sender kind: %q", kind)
	}
}

// ActorKind identifies which interpreter owns an address.
type ActorKind string

const (
	KindRoom     ActorKind = "room"
	KindAgent    ActorKind = "agent"
	KindProject  ActorKind = "project"
	KindDirector ActorKind = "director"
)

// Address is the runtime's routing key: (kind, id).
type Address struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

func RoomAddress(id RoomID) Address       { return Address{Kind: KindRoom, ID: string(id)} }
func AgentAddress(id AgentID) Address     { return Address{Kind: KindAgent, ID: string(id)} }
func ProjectAddress(id ProjectID) Address { return Address{Kind: KindProject, ID: string(id)} }

// DirectorAddress returns the address of the single director instance.
func DirectorAddress() Address { return Address{Kind: KindDirector, ID: "main"} }

func (a Address) String() string { return string(a.Kind) + ":" + a.ID }

// ParseAddress parses "kind:id" back into an Address.
func ParseAddress(s string) (Address, error) {
	kind, id, found := strings.Cut(s, ":")
	if !found {
		return Address{}, fmt.Errorf("malformed address: %q", s)
	}
	switch ActorKind(kind) {
	case KindRoom, KindAgent, KindProject, KindDirector:
		return Address{Kind: ActorKind(kind), ID: id}, nil
	default:
		return Address{}, fmt.Errorf("unknown actor kind: %q", kind)
	}
}
