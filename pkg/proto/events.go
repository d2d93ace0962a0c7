package proto

// WebSocket event types pushed to clients. Every event is framed as JSON with
// a "type" tag and an optional "roomId".
const (
	EventMessageAdded       = "message_added"
	EventAgentJoined        = "agent_joined"
	EventAgentLeft          = "agent_left"
	EventAgentTyping        = "agent_typing"
	EventAgentStatus        = "agent_status"
	EventSystemNotification = "system_notification"
	EventBuildProgress      = "build_progress"
)

// Notification severities for system_notification events.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// Event is the broadcast envelope. RoomID is empty for server-wide events.
type Event struct {
	Type    string         `json:"type"`
	RoomID  RoomID         `json:"roomId,omitempty"`
	Payload map[string]any `json:"-"`
}

// NewEvent builds an event with the given payload fields.
func NewEvent(eventType string, roomID RoomID, payload map[string]any) Event {
	return Event{Type: eventType, RoomID: roomID, Payload: payload}
}

// Notification builds a system_notification event.
func Notification(roomID RoomID, severity, message string) Event {
	return NewEvent(EventSystemNotification, roomID, map[string]any{
		"severity": severity,
		"message":  message,
	})
}

// Frame flattens the event into the JSON-serialisable wire form.
func (e Event) Frame() map[string]any {
	frame := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		frame[k] = v
	}
	frame["type"] = e.Type
	if e.RoomID != "" {
		frame["roomId"] = string(e.RoomID)
	}
	return frame
}
