package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"salon/pkg/proto"
)

// DatabaseOperations provides the prepared-statement operations behind the
// persistence effects. One instance per executor; methods are synchronous.
type DatabaseOperations struct {
	db        *sql.DB
	sessionID string
}

// NewDatabaseOperations creates a DatabaseOperations bound to a connection
// and session.
func NewDatabaseOperations(db *sql.DB, sessID string) *DatabaseOperations {
	return &DatabaseOperations{db: db, sessionID: sessID}
}

// UpsertRoom inserts or updates a room definition.
func (ops *DatabaseOperations) UpsertRoom(cfg *proto.RoomConfig, now int64) error {
	query := `
		INSERT INTO rooms (id, name, description, topic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			topic = excluded.topic,
			updated_at = excluded.updated_at
	`
	createdAt := cfg.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := ops.db.Exec(query, string(cfg.ID), cfg.Name, cfg.Description, cfg.Topic, createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert room %s: %w", cfg.ID, err)
	}
	return nil
}

// DeleteRoom removes a room; members and messages cascade.
func (ops *DatabaseOperations) DeleteRoom(roomID proto.RoomID) error {
	if _, err := ops.db.Exec("DELETE FROM rooms WHERE id = ?", string(roomID)); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// ListRooms returns every room definition.
func (ops *DatabaseOperations) ListRooms() ([]*Room, error) {
	rows, err := ops.db.Query(
		"SELECT id, name, description, topic, created_at, updated_at FROM rooms ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Topic, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}
	return out, nil
}

// UpsertAgent inserts or updates a persona.
func (ops *DatabaseOperations) UpsertAgent(cfg *proto.AgentConfig, now int64) error {
	row, err := agentRow(cfg, now)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO agents (
			id, name, description, system_prompt, personality_traits,
			speaking_style, interests, response_tendency, temperature, model,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			system_prompt = excluded.system_prompt,
			personality_traits = excluded.personality_traits,
			speaking_style = excluded.speaking_style,
			interests = excluded.interests,
			response_tendency = excluded.response_tendency,
			temperature = excluded.temperature,
			model = excluded.model,
			updated_at = excluded.updated_at
	`
	_, err = ops.db.Exec(query,
		row.ID, row.Name, row.Description, row.SystemPrompt, row.Personality,
		row.SpeakingStyle, row.Interests, row.ResponseTendency, row.Temperature, row.Model,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", cfg.ID, err)
	}
	return nil
}

// UpdateAgentStatus updates an agent's status and, when provided, its
// speaking counters. Zero counter values leave the stored ones untouched.
func (ops *DatabaseOperations) UpdateAgentStatus(agentID proto.AgentID, status string, lastSpokeAt, messageCount, now int64) error {
	query := `
		UPDATE agents SET
			status = ?,
			last_spoke_at = CASE WHEN ? > 0 THEN ? ELSE last_spoke_at END,
			message_count = CASE WHEN ? > 0 THEN ? ELSE message_count END,
			updated_at = ?
		WHERE id = ?
	`
	_, err := ops.db.Exec(query, status,
		lastSpokeAt, lastSpokeAt, messageCount, messageCount, now, string(agentID))
	if err != nil {
		return fmt.Errorf("failed to update agent %s status: %w", agentID, err)
	}
	return nil
}

// ListAgents returns every stored persona.
func (ops *DatabaseOperations) ListAgents() ([]*Agent, error) {
	rows, err := ops.db.Query(`
		SELECT id, name, description, system_prompt, personality_traits,
			speaking_style, interests, response_tendency, temperature, model,
			status, message_count, COALESCE(last_spoke_at, 0), created_at, updated_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.SystemPrompt, &a.Personality,
			&a.SpeakingStyle, &a.Interests, &a.ResponseTendency, &a.Temperature, &a.Model,
			&a.Status, &a.MessageCount, &a.LastSpokeAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return out, nil
}

// AddRoomMember records membership; re-joins refresh the join time.
func (ops *DatabaseOperations) AddRoomMember(roomID proto.RoomID, agentID proto.AgentID, joinedAt int64) error {
	query := `
		INSERT INTO room_members (room_id, agent_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id, agent_id) DO UPDATE SET joined_at = excluded.joined_at
	`
	if _, err := ops.db.Exec(query, string(roomID), string(agentID), joinedAt); err != nil {
		return fmt.Errorf("failed to add member %s to room %s: %w", agentID, roomID, err)
	}
	return nil
}

// RemoveRoomMember drops a membership row.
func (ops *DatabaseOperations) RemoveRoomMember(roomID proto.RoomID, agentID proto.AgentID) error {
	_, err := ops.db.Exec("DELETE FROM room_members WHERE room_id = ? AND agent_id = ?",
		string(roomID), string(agentID))
	if err != nil {
		return fmt.Errorf("failed to remove member %s from room %s: %w", agentID, roomID, err)
	}
	return nil
}

// ListRoomMembers returns membership for every room, ordered by join time.
func (ops *DatabaseOperations) ListRoomMembers() (map[proto.RoomID][]proto.AgentID, error) {
	rows, err := ops.db.Query(
		"SELECT room_id, agent_id FROM room_members ORDER BY room_id, joined_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[proto.RoomID][]proto.AgentID)
	for rows.Next() {
		var roomID, agentID string
		if err := rows.Scan(&roomID, &agentID); err != nil {
			return nil, fmt.Errorf("failed to scan room member: %w", err)
		}
		out[proto.RoomID(roomID)] = append(out[proto.RoomID(roomID)], proto.AgentID(agentID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate room members: %w", err)
	}
	return out, nil
}

// InsertMessage persists one chat line. Duplicate ids are ignored so replayed
// effects stay idempotent.
func (ops *DatabaseOperations) InsertMessage(msg *proto.ChatMessage) error {
	row, err := messageRow(msg)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO messages (id, room_id, sender_id, sender_name, content, type, mentions, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err = ops.db.Exec(query,
		row.ID, row.RoomID, row.SenderID, row.SenderName, row.Content,
		row.Type, row.Mentions, row.Attachments, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// DeleteRoomMessages wipes a room's history.
func (ops *DatabaseOperations) DeleteRoomMessages(roomID proto.RoomID) error {
	if _, err := ops.db.Exec("DELETE FROM messages WHERE room_id = ?", string(roomID)); err != nil {
		return fmt.Errorf("failed to delete messages for room %s: %w", roomID, err)
	}
	return nil
}

// LoadRoomMessages returns the newest limit messages for a room in ascending
// timestamp order.
func (ops *DatabaseOperations) LoadRoomMessages(roomID proto.RoomID, limit int) ([]proto.ChatMessage, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := ops.db.Query(`
		SELECT id, room_id, sender_id, sender_name, content, type,
			COALESCE(mentions, ''), COALESCE(attachments, ''), created_at
		FROM messages WHERE room_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(roomID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for room %s: %w", roomID, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []proto.ChatMessage
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content,
			&m.Type, &m.Mentions, &m.Attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg, err := m.ChatMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Reverse to ascending order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendEvent records one event under the current session.
func (ops *DatabaseOperations) AppendEvent(eventType string, data map[string]any, now int64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = ops.db.Exec(
		"INSERT INTO event_log (session_id, event_type, event_data, created_at) VALUES (?, ?, ?, ?)",
		ops.sessionID, eventType, string(payload), now)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", eventType, err)
	}
	return nil
}

// UpsertTask inserts or updates a project task.
func (ops *DatabaseOperations) UpsertTask(projectID proto.ProjectID, task *proto.Task) error {
	artifacts, err := json.Marshal(task.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal task artifacts: %w", err)
	}
	query := `
		INSERT INTO tasks (id, project_id, title, description, priority, status,
			assignee_id, artifacts, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assignee_id = excluded.assignee_id,
			artifacts = excluded.artifacts,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err = ops.db.Exec(query,
		string(task.ID), string(projectID), task.Title, task.Description,
		task.Priority, task.Status, string(task.AssigneeID), string(artifacts),
		task.Error, task.CreatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
	}
	return nil
}

// GetArtifact reads one artifact by scope and path.
func (ops *DatabaseOperations) GetArtifact(roomID proto.RoomID, agentID, path string) (*Artifact, error) {
	var a Artifact
	err := ops.db.QueryRow(`
		SELECT id, room_id, agent_id, path, content, created_at, updated_at
		FROM artifacts WHERE room_id = ? AND agent_id = ? AND path = ?`,
		string(roomID), agentID, path).
		Scan(&a.ID, &a.RoomID, &a.AgentID, &a.Path, &a.Content, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", path, err)
	}
	return &a, nil
}

// PutArtifact writes an artifact, creating or replacing its content.
func (ops *DatabaseOperations) PutArtifact(id string, roomID proto.RoomID, agentID, path, content string, now int64) error {
	query := `
		INSERT INTO artifacts (id, room_id, agent_id, path, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, agent_id, path) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`
	_, err := ops.db.Exec(query, id, string(roomID), agentID, path, content, now, now)
	if err != nil {
		return fmt.Errorf("failed to put artifact %s: %w", path, err)
	}
	return nil
}

// DeleteArtifact removes an artifact; missing paths are not an error.
func (ops *DatabaseOperations) DeleteArtifact(roomID proto.RoomID, agentID, path string) error {
	_, err := ops.db.Exec("DELETE FROM artifacts WHERE room_id = ? AND agent_id = ? AND path = ?",
		string(roomID), agentID, path)
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", path, err)
	}
	return nil
}

// RenameArtifact moves an artifact to a new path within the same scope.
func (ops *DatabaseOperations) RenameArtifact(roomID proto.RoomID, agentID, oldPath, newPath string, now int64) error {
	res, err := ops.db.Exec(`
		UPDATE artifacts SET path = ?, updated_at = ?
		WHERE room_id = ? AND agent_id = ? AND path = ?`,
		newPath, now, string(roomID), agentID, oldPath)
	if err != nil {
		return fmt.Errorf("failed to rename artifact %s: %w", oldPath, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("artifact not found: %s", oldPath)
	}
	return nil
}

// ListArtifacts returns the paths stored for a scope.
func (ops *DatabaseOperations) ListArtifacts(roomID proto.RoomID, agentID string) ([]string, error) {
	rows, err := ops.db.Query(
		"SELECT path FROM artifacts WHERE room_id = ? AND agent_id = ? ORDER BY path",
		string(roomID), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan artifact path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	return paths, nil
}
