package proto

// Project actor messages.

// TaskSeed is a task definition supplied before the project assigns IDs.
type TaskSeed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// StartProject initialises the project. Builders are the room members
// eligible for task assignment, captured by the director at start time.
type StartProject struct {
	Meta
	Name     string     `json:"name"`
	Goal     string     `json:"goal"`
	RoomID   RoomID     `json:"room_id"`
	MaxTurns int        `json:"max_turns"`
	Builders []AgentID  `json:"builders,omitempty"`
	Tasks    []TaskSeed `json:"tasks,omitempty"`
}

// AddTask appends a task to the plan.
type AddTask struct {
	Meta
	TaskID      TaskID `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// AssignTask hands a task to a builder.
type AssignTask struct {
	Meta
	TaskID  TaskID  `json:"task_id"`
	AgentID AgentID `json:"agent_id"`
}

// TaskStarted records that a builder began work.
type TaskStarted struct {
	Meta
	TaskID  TaskID  `json:"task_id"`
	AgentID AgentID `json:"agent_id"`
}

// TaskCompleted records a finished task with its artifacts.
type TaskCompleted struct {
	Meta
	TaskID    TaskID   `json:"task_id"`
	Artifacts []string `json:"artifacts"`
}

// TaskFailed records a failed task.
type TaskFailed struct {
	Meta
	TaskID TaskID `json:"task_id"`
	Err    string `json:"error"`
}

// SetPhase drives the project phase machine, usually from a planner agent.
type SetPhase struct {
	Meta
	Phase string `json:"phase"`
}

// ProjectTick re-checks phase invariants and dispatches waiting tasks.
type ProjectTick struct {
	Meta
}

// AgentTurnComplete consumes one unit of the project's turn budget.
type AgentTurnComplete struct {
	Meta
	AgentID AgentID `json:"agent_id"`
}

// CancelProject terminates the project regardless of phase.
type CancelProject struct {
	Meta
	Reason string `json:"reason,omitempty"`
}

// PlanningComplete delivers the planner's final task list.
type PlanningComplete struct {
	Meta
	Tasks []TaskSeed `json:"tasks"`
}

func (*StartProject) MessageKind() string      { return "start_project" }
func (*AddTask) MessageKind() string           { return "add_task" }
func (*AssignTask) MessageKind() string        { return "assign_task" }
func (*TaskStarted) MessageKind() string       { return "task_started" }
func (*TaskCompleted) MessageKind() string     { return "task_completed" }
func (*TaskFailed) MessageKind() string        { return "task_failed" }
func (*SetPhase) MessageKind() string          { return "set_phase" }
func (*ProjectTick) MessageKind() string       { return "project_tick" }
func (*AgentTurnComplete) MessageKind() string { return "agent_turn_complete" }
func (*CancelProject) MessageKind() string     { return "cancel_project" }
func (*PlanningComplete) MessageKind() string  { return "planning_complete" }
