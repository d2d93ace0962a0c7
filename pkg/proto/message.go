package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType classifies a chat line.
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageSystem MessageType = "system"
	MessageAction MessageType = "action"
	MessageJoin   MessageType = "join"
	MessageLeave  MessageType = "leave"
)

// ValidateMessageType validates a string as a MessageType.
func ValidateMessageType(s string) (MessageType, bool) {
	switch MessageType(s) {
	case MessageChat, MessageSystem, MessageAction, MessageJoin, MessageLeave:
		return MessageType(s), true
	default:
		return "", false
	}
}

// Attachment is an opaque reference carried alongside a chat message.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ChatMessage is an immutable chat line. Timestamps are unix milliseconds.
type ChatMessage struct {
	ID          MessageID    `json:"id"`
	RoomID      RoomID       `json:"room_id"`
	Sender      SenderID     `json:"sender_id"`
	SenderName  string       `json:"sender_name"`
	Content     string       `json:"content"`
	Type        MessageType  `json:"type"`
	Timestamp   int64        `json:"timestamp"`
	ReplyTo     MessageID    `json:"reply_to_id,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate enforces structural invariants. Join and leave lines are always
// authored by the system.
func (m *ChatMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.RoomID == "" {
		return fmt.Errorf("room id is required")
	}
	if _, ok := ValidateMessageType(string(m.Type)); !ok {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	if (m.Type == MessageJoin || m.Type == MessageLeave) && m.Sender.Kind != SenderSystem {
		return fmt.Errorf("%s message must be system-authored, got %s", m.Type, m.Sender.Kind)
	}
	return nil
}

func (m *ChatMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

// ChatMessageFromJSON decodes a persisted chat message.
func ChatMessageFromJSON(data []byte) (*ChatMessage, error) {
	var m ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
	}
	return &m, nil
}

// Message is the union of all actor messages. Each actor kind accepts only its
// own subset; the interpreter ignores (and reports) anything else.
type Message interface {
	MessageKind() string
}

// Meta carries the clock reading and pre-minted IDs a pure interpreter may
// need during a transition. The runtime stamps it at enqueue time so the
// interpreters stay free of clocks and randomness.
type Meta struct {
	At      int64  `json:"at"`    // unix milliseconds at enqueue
	FreshID string `json:"fresh"` // one unique id, usable for a synthesised message or tag
}

// Stamp fills the metadata. Called exactly once by the runtime.
func (m *Meta) Stamp(at int64, freshID string) {
	if m.At == 0 {
		m.At = at
	}
	if m.FreshID == "" {
		m.FreshID = freshID
	}
}

// ClearStamp zeroes the metadata so a redelivered copy gets a fresh stamp.
func (m *Meta) ClearStamp() {
	m.At = 0
	m.FreshID = ""
}

// Stampable is implemented by messages embedding Meta.
type Stampable interface {
	Stamp(at int64, freshID string)
}

// Envelope wraps a message for routing: destination, origin, arrival sequence.
type Envelope struct {
	ID         string    `json:"id"`
	To         Address   `json:"to"`
	From       *Address  `json:"from,omitempty"`
	Msg        Message   `json:"-"`
	MsgKind    string    `json:"msg_kind"`
	Seq        uint64    `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewEnvelope wraps msg for delivery to an address. Seq is assigned by the
// runtime's ready queue.
func NewEnvelope(to Address, from *Address, msg Message) *Envelope {
	return &Envelope{
		ID:         NewEnvelopeID(),
		To:         to,
		From:       from,
		Msg:        msg,
		MsgKind:    msg.MessageKind(),
		EnqueuedAt: time.Now().UTC(),
	}
}
