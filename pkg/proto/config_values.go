package proto

// Immutable persona and room definitions. Runtime state built on these lives
// in pkg/state.

// AgentConfig is a persona definition, loaded from YAML or the store.
type AgentConfig struct {
	ID               AgentID            `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	Description      string             `json:"description" yaml:"description"`
	SystemPrompt     string             `json:"system_prompt" yaml:"system_prompt"`
	Personality      map[string]float64 `json:"personality_traits,omitempty" yaml:"personality,omitempty"`
	SpeakingStyle    string             `json:"speaking_style,omitempty" yaml:"speaking_style,omitempty"`
	Interests        []string           `json:"interests,omitempty" yaml:"interests,omitempty"`
	ResponseTendency float64            `json:"response_tendency" yaml:"response_tendency"`
	Temperature      float64            `json:"temperature" yaml:"temperature"`
	Model            string             `json:"model" yaml:"model"`
	AllowedTools     []string           `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// RoomConfig describes a chat room.
type RoomConfig struct {
	ID          RoomID `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Topic       string `json:"topic,omitempty" yaml:"topic,omitempty"`
	CreatedAt   int64  `json:"created_at" yaml:"-"`
}

// Task statuses.
const (
	TaskStatusUnassigned = "unassigned"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
	TaskStatusFailed     = "failed"
)

// Task is one unit of project work.
type Task struct {
	ID          TaskID   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Status      string   `json:"status"`
	AssigneeID  AgentID  `json:"assignee_id,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	CompletedAt int64    `json:"completed_at,omitempty"`
	Error       string   `json:"error,omitempty"`
}
