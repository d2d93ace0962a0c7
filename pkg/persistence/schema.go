package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 2

// InitializeDatabase creates a standalone connection with the schema applied.
// Used by tests that need an isolated database; production code goes through
// Initialize.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// initializeSchemaWithMigrations ensures the schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d",
			currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// GetSchemaVersion reads the user_version pragma; 0 means empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// createSchema builds the full schema at the current version.
func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			topic       TEXT,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			description       TEXT,
			system_prompt     TEXT,
			personality_traits JSON,
			speaking_style    TEXT,
			interests         JSON,
			response_tendency REAL NOT NULL DEFAULT 0.5,
			temperature       REAL NOT NULL DEFAULT 0.7,
			model             TEXT NOT NULL DEFAULT 'claude-haiku-4-5-20251001',
			status            TEXT NOT NULL DEFAULT 'offline',
			message_count     INTEGER NOT NULL DEFAULT 0,
			last_spoke_at     INTEGER,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id   TEXT NOT NULL,
			agent_id  TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, agent_id),
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			room_id     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			content     TEXT NOT NULL,
			type        TEXT NOT NULL DEFAULT 'chat',
			mentions    JSON,
			attachments JSON,
			created_at  INTEGER NOT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			name           TEXT,
			mode           TEXT NOT NULL DEFAULT 'hybrid',
			started_at     INTEGER NOT NULL,
			ended_at       INTEGER,
			total_rounds   INTEGER NOT NULL DEFAULT 0,
			total_messages INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS event_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			path       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (room_id, agent_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT,
			priority     INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'unassigned',
			assignee_id  TEXT,
			artifacts    JSON,
			error        TEXT,
			created_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_log_session ON event_log(session_id, event_type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_scope ON artifacts(room_id, agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

// runMigrations applies migrations from the current to the target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the tasks table for project tracking.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT,
			priority     INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'unassigned',
			assignee_id  TEXT,
			artifacts    JSON,
			error        TEXT,
			created_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status)`,
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}
