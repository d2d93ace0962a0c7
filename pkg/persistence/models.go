package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"salon/pkg/proto"
)

// Room is a row in the rooms table.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Topic       string `json:"topic"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Config converts the row back to the domain shape.
func (r *Room) Config() proto.RoomConfig {
	return proto.RoomConfig{
		ID:          proto.RoomID(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Topic:       r.Topic,
		CreatedAt:   r.CreatedAt,
	}
}

// Agent is a row in the agents table. JSON columns hold the persona's
// structured fields.
type Agent struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	SystemPrompt     string  `json:"system_prompt"`
	Personality      string  `json:"personality_traits"` // JSON object
	SpeakingStyle    string  `json:"speaking_style"`
	Interests        string  `json:"interests"` // JSON array
	ResponseTendency float64 `json:"response_tendency"`
	Temperature      float64 `json:"temperature"`
	Model            string  `json:"model"`
	Status           string  `json:"status"`
	MessageCount     int64   `json:"message_count"`
	LastSpokeAt      int64   `json:"last_spoke_at"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

// Config converts the row back to the domain shape.
func (a *Agent) Config() (proto.AgentConfig, error) {
	cfg := proto.AgentConfig{
		ID:               proto.AgentID(a.ID),
		Name:             a.Name,
		Description:      a.Description,
		SystemPrompt:     a.SystemPrompt,
		SpeakingStyle:    a.SpeakingStyle,
		ResponseTendency: a.ResponseTendency,
		Temperature:      a.Temperature,
		Model:            a.Model,
	}
	if a.Personality != "" {
		if err := json.Unmarshal([]byte(a.Personality), &cfg.Personality); err != nil {
			return cfg, fmt.Errorf("agent %s: bad personality_traits: %w", a.ID, err)
		}
	}
	if a.Interests != "" {
		if err := json.Unmarshal([]byte(a.Interests), &cfg.Interests); err != nil {
			return cfg, fmt.Errorf("agent %s: bad interests: %w", a.ID, err)
		}
	}
	return cfg, nil
}

// agentRow builds the row form of a persona.
func agentRow(cfg *proto.AgentConfig, now int64) (*Agent, error) {
	personality, err := json.Marshal(cfg.Personality)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal personality: %w", err)
	}
	interests, err := json.Marshal(cfg.Interests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interests: %w", err)
	}
	return &Agent{
		ID:               string(cfg.ID),
		Name:             cfg.Name,
		Description:      cfg.Description,
		SystemPrompt:     cfg.SystemPrompt,
		Personality:      string(personality),
		SpeakingStyle:    cfg.SpeakingStyle,
		Interests:        string(interests),
		ResponseTendency: cfg.ResponseTendency,
		Temperature:      cfg.Temperature,
		Model:            cfg.Model,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Message is a row in the messages table.
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	Mentions    string `json:"mentions"`    // JSON array
	Attachments string `json:"attachments"` // JSON array
	CreatedAt   int64  `json:"created_at"`
}

// ChatMessage converts the row back to the domain shape.
func (m *Message) ChatMessage() (proto.ChatMessage, error) {
	sender, err := proto.ParseSenderID(m.SenderID)
	if err != nil {
		return proto.ChatMessage{}, fmt.Errorf("message %s: %w", m.ID, err)
	}
	msg := proto.ChatMessage{
		ID:         proto.MessageID(m.ID),
		RoomID:     proto.RoomID(m.RoomID),
		Sender:     sender,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       proto.MessageType(m.Type),
		Timestamp:  m.CreatedAt,
	}
	if m.Mentions != "" {
		if err := json.Unmarshal([]byte(m.Mentions), &msg.Mentions); err != nil {
			return msg, fmt.Errorf("message %s: bad mentions: %w", m.ID, err)
		}
	}
	if m.Attachments != "" {
		if err := json.Unmarshal([]byte(m.Attachments), &msg.Attachments); err != nil {
			return msg, fmt.Errorf("message %s: bad attachments: %w", m.ID, err)
		}
	}
	return msg, nil
}

// messageRow builds the row form of a chat message.
func messageRow(msg *proto.ChatMessage) (*Message, error) {
	mentions, err := json.Marshal(msg.Mentions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mentions: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return &Message{
		ID:          string(msg.ID),
		RoomID:      string(msg.RoomID),
		SenderID:    msg.Sender.String(),
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		Type:        string(msg.Type),
		Mentions:    string(mentions),
		Attachments: string(attachments),
		CreatedAt:   msg.Timestamp,
	}, nil
}

// Session is a row in the sessions table.
type Session struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Mode          string        `json:"mode"`
	StartedAt     int64         `json:"started_at"`
	EndedAt       sql.NullInt64 `json:"ended_at"`
	TotalRounds   int64         `json:"total_rounds"`
	TotalMessages int64         `json:"total_messages"`
}

// Artifact is a row in the artifacts table. The pseudo agent id "_shared_"
// scopes an artifact to the whole room.
type Artifact struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	AgentID   string `json:"agent_id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SharedAgentID is the pseudo agent id for room-wide artifacts.
const SharedAgentID = "_shared_"
