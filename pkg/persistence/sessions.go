package persistence

import (
	"database/sql"
	"fmt"
)

// Session modes.
const (
	ModeHybrid     = "hybrid"
	ModeAutonomous = "autonomous"
	ModeManual     = "manual"
)

// StartSession records the beginning of a server run.
func (ops *DatabaseOperations) StartSession(id, name, mode string, startedAt int64) error {
	if mode == "" {
		mode = ModeHybrid
	}
	query := `
		INSERT INTO sessions (id, name, mode, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	if _, err := ops.db.Exec(query, id, name, mode, startedAt); err != nil {
		return fmt.Errorf("failed to start session %s: %w", id, err)
	}
	return nil
}

// EndSession stamps the session's end time.
func (ops *DatabaseOperations) EndSession(id string, endedAt int64) error {
	if _, err := ops.db.Exec("UPDATE sessions SET ended_at = ? WHERE id = ?", endedAt, id); err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// BumpSessionCounters adds to the session's round and message totals.
func (ops *DatabaseOperations) BumpSessionCounters(id string, rounds, messages int64) error {
	_, err := ops.db.Exec(`
		UPDATE sessions SET
			total_rounds = total_rounds + ?,
			total_messages = total_messages + ?
		WHERE id = ?`, rounds, messages, id)
	if err != nil {
		return fmt.Errorf("failed to bump counters for session %s: %w", id, err)
	}
	return nil
}

// GetSession reads one session row, or nil if absent.
func (ops *DatabaseOperations) GetSession(id string) (*Session, error) {
	var s Session
	err := ops.db.QueryRow(`
		SELECT id, COALESCE(name, ''), mode, started_at, ended_at, total_rounds, total_messages
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Mode, &s.StartedAt, &s.EndedAt, &s.TotalRounds, &s.TotalMessages)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &s, nil
}
