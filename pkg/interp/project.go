package interp

import (
	"fmt"
	"sort"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// Project interprets messages addressed to a project actor. The phase machine
// runs idle -> planning -> building -> reviewing -> done; tasks are dispatched
// to builders in priority order, one task per builder at a time.
type Project struct {
	Params Params
}

func (p Project) Interpret(s state.ProjectState, msg proto.Message) (state.ProjectState, []effect.Effect) {
	switch m := msg.(type) {
	case *proto.StartProject:
		return p.onStart(s, m)
	case *proto.AddTask:
		return p.onAddTask(s, m)
	case *proto.PlanningComplete:
		return p.onPlanningComplete(s, m)
	case *proto.AssignTask:
		return p.onAssignTask(s, m)
	case *proto.TaskStarted:
		return p.onTaskStarted(s, m)
	case *proto.TaskCompleted:
		return p.onTaskCompleted(s, m)
	case *proto.TaskFailed:
		return p.onTaskFailed(s, m)
	case *proto.SetPhase:
		return p.onSetPhase(s, m)
	case *proto.ProjectTick:
		return p.onTick(s, m)
	case *proto.AgentTurnComplete:
		return p.onTurnComplete(s, m)
	case *proto.CancelProject:
		return p.cancel(s, m.Meta, m.Reason)
	default:
		return noChange(s)
	}
}

func (p Project) onStart(s state.ProjectState, m *proto.StartProject) (state.ProjectState, []effect.Effect) {
	if s.Phase != state.ProjectIdle {
		return noChange(s)
	}

	next := s
	next.Name = m.Name
	next.Goal = m.Goal
	next.RoomID = m.RoomID
	next.MaxTurns = m.MaxTurns
	next.Builders = append([]proto.AgentID(nil), m.Builders...)
	next.Tasks = seedTasks(s.ID, 0, m.Tasks, m.At)

	effects := []effect.Effect{
		effect.DBAppendEvent{EventType: "project_started", Data: map[string]any{
			"project_id": string(s.ID),
			"name":       m.Name,
			"room_id":    string(m.RoomID),
		}},
	}

	if len(next.Tasks) == 0 {
		next.Phase = state.ProjectPlanning
		effects = append(effects, p.progress(&next, "planning started"))
		return next, effects
	}

	next.Phase = state.ProjectBuilding
	for i := range next.Tasks {
		effects = append(effects, effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]})
	}
	effects = append(effects, p.progress(&next, "build started"))
	effects = append(effects, p.dispatch(&next)...)
	return next, effects
}

func (p Project) onAddTask(s state.ProjectState, m *proto.AddTask) (state.ProjectState, []effect.Effect) {
	if s.Phase == state.ProjectDone {
		return noChange(s)
	}
	if s.TaskByID(m.TaskID) >= 0 {
		return noChange(s)
	}

	task := proto.Task{
		ID:          m.TaskID,
		Title:       m.Title,
		Description: m.Description,
		Priority:    m.Priority,
		Status:      proto.TaskStatusUnassigned,
		CreatedAt:   m.At,
	}
	next := s
	next.Tasks = append(append([]proto.Task(nil), s.Tasks...), task)

	effects := []effect.Effect{effect.DBUpdateTask{ProjectID: s.ID, Task: task}}
	if next.Phase == state.ProjectBuilding {
		effects = append(effects, p.dispatch(&next)...)
	}
	return next, effects
}

func (p Project) onPlanningComplete(s state.ProjectState, m *proto.PlanningComplete) (state.ProjectState, []effect.Effect) {
	if s.Phase != state.ProjectPlanning {
		return noChange(s)
	}

	next := s
	next.Tasks = append(append([]proto.Task(nil), s.Tasks...),
		seedTasks(s.ID, len(s.Tasks), m.Tasks, m.At)...)
	if len(next.Tasks) == 0 {
		// An empty plan finishes the project immediately.
		next.Phase = state.ProjectDone
		return withEffects(next, p.progress(&next, "finished with no tasks"))
	}

	next.Phase = state.ProjectBuilding
	effects := make([]effect.Effect, 0, len(next.Tasks)+2)
	for i := len(s.Tasks); i < len(next.Tasks); i++ {
		effects = append(effects, effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]})
	}
	effects = append(effects, p.progress(&next, "build started"))
	effects = append(effects, p.dispatch(&next)...)
	return next, effects
}

func (p Project) onAssignTask(s state.ProjectState, m *proto.AssignTask) (state.ProjectState, []effect.Effect) {
	i := s.TaskByID(m.TaskID)
	if i < 0 || s.Tasks[i].Status != proto.TaskStatusUnassigned {
		return noChange(s)
	}

	next := s
	next.Tasks = cloneTasks(s.Tasks)
	next.Tasks[i].Status = proto.TaskStatusAssigned
	next.Tasks[i].AssigneeID = m.AgentID
	next.ActiveBuilders = addBuilder(s.ActiveBuilders, m.AgentID)

	return withEffects(next,
		effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]},
		effect.SendToActor{
			To: proto.AgentAddress(m.AgentID),
			Msg: &proto.StartTask{
				TaskID:    m.TaskID,
				ProjectID: s.ID,
				Title:     next.Tasks[i].Title,
				Brief:     taskBrief(&next, i),
			},
		},
	)
}

func (p Project) onTaskStarted(s state.ProjectState, m *proto.TaskStarted) (state.ProjectState, []effect.Effect) {
	i := s.TaskByID(m.TaskID)
	if i < 0 || s.Tasks[i].Status != proto.TaskStatusAssigned {
		return noChange(s)
	}

	next := s
	next.Tasks = cloneTasks(s.Tasks)
	next.Tasks[i].Status = proto.TaskStatusInProgress
	return withEffects(next,
		effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]},
		p.progress(&next, fmt.Sprintf("task started: %s", next.Tasks[i].Title)),
	)
}

func (p Project) onTaskCompleted(s state.ProjectState, m *proto.TaskCompleted) (state.ProjectState, []effect.Effect) {
	i := s.TaskByID(m.TaskID)
	if i < 0 {
		return noChange(s)
	}
	switch s.Tasks[i].Status {
	case proto.TaskStatusDone, proto.TaskStatusFailed:
		return noChange(s)
	}

	next := s
	next.Tasks = cloneTasks(s.Tasks)
	next.Tasks[i].Status = proto.TaskStatusDone
	next.Tasks[i].CompletedAt = m.At
	next.Tasks[i].Artifacts = m.Artifacts
	next.ActiveBuilders = removeBuilder(s.ActiveBuilders, s.Tasks[i].AssigneeID)

	effects := []effect.Effect{
		effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]},
		p.progress(&next, fmt.Sprintf("task done: %s", next.Tasks[i].Title)),
	}
	return p.advance(next, effects)
}

func (p Project) onTaskFailed(s state.ProjectState, m *proto.TaskFailed) (state.ProjectState, []effect.Effect) {
	i := s.TaskByID(m.TaskID)
	if i < 0 {
		return noChange(s)
	}
	switch s.Tasks[i].Status {
	case proto.TaskStatusDone, proto.TaskStatusFailed:
		return noChange(s)
	}

	next := s
	next.Tasks = cloneTasks(s.Tasks)
	next.Tasks[i].Status = proto.TaskStatusFailed
	next.Tasks[i].CompletedAt = m.At
	next.Tasks[i].Error = m.Err
	next.ActiveBuilders = removeBuilder(s.ActiveBuilders, s.Tasks[i].AssigneeID)

	effects := []effect.Effect{
		effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]},
		p.progress(&next, fmt.Sprintf("task failed: %s (%s)", next.Tasks[i].Title, m.Err)),
	}
	return p.advance(next, effects)
}

func (p Project) onSetPhase(s state.ProjectState, m *proto.SetPhase) (state.ProjectState, []effect.Effect) {
	if !state.ValidProjectPhase(m.Phase) || m.Phase == s.Phase {
		return noChange(s)
	}
	next := s
	next.Phase = m.Phase
	effects := []effect.Effect{p.progress(&next, "phase: "+m.Phase)}
	switch m.Phase {
	case state.ProjectBuilding:
		effects = append(effects, p.dispatch(&next)...)
	case state.ProjectDone:
		effects = append(effects, effect.CancelScheduled{ScheduleID: projectTickID(s.ID)})
	}
	return next, effects
}

func (p Project) onTick(s state.ProjectState, m *proto.ProjectTick) (state.ProjectState, []effect.Effect) {
	if s.Phase != state.ProjectBuilding {
		return noChange(s)
	}
	if s.MaxTurns > 0 && s.TurnCount >= s.MaxTurns {
		return p.cancel(s, m.Meta, "turn budget exhausted")
	}
	next := s
	effects := p.dispatch(&next)
	if len(effects) == 0 {
		return noChange(s)
	}
	return next, effects
}

func (p Project) onTurnComplete(s state.ProjectState, m *proto.AgentTurnComplete) (state.ProjectState, []effect.Effect) {
	next := s
	next.TurnCount = s.TurnCount + 1
	next.CompletedBuilders = addBuilder(s.CompletedBuilders, m.AgentID)
	if next.MaxTurns > 0 && next.TurnCount >= next.MaxTurns && next.Phase == state.ProjectBuilding {
		return p.cancel(next, m.Meta, "turn budget exhausted")
	}
	return stateOnly(next)
}

// cancel fails every non-terminal task and closes the project.
func (p Project) cancel(s state.ProjectState, meta proto.Meta, reason string) (state.ProjectState, []effect.Effect) {
	if s.Phase == state.ProjectDone {
		return noChange(s)
	}
	if reason == "" {
		reason = "cancelled"
	}

	next := s
	next.Tasks = cloneTasks(s.Tasks)
	next.Phase = state.ProjectDone
	next.ActiveBuilders = nil

	var effects []effect.Effect
	for i := range next.Tasks {
		switch next.Tasks[i].Status {
		case proto.TaskStatusDone, proto.TaskStatusFailed:
			continue
		}
		next.Tasks[i].Status = proto.TaskStatusFailed
		next.Tasks[i].CompletedAt = meta.At
		next.Tasks[i].Error = reason
		effects = append(effects, effect.DBUpdateTask{ProjectID: s.ID, Task: next.Tasks[i]})
		if id := next.Tasks[i].AssigneeID; id != "" {
			effects = append(effects, effect.SendToActor{
				To:  proto.AgentAddress(id),
				Msg: &proto.CompleteTask{TaskID: next.Tasks[i].ID},
			})
		}
	}
	effects = append(effects,
		effect.CancelScheduled{ScheduleID: projectTickID(s.ID)},
		effect.DBAppendEvent{EventType: "project_cancelled", Data: map[string]any{
			"project_id": string(s.ID),
			"reason":     reason,
		}},
		p.progress(&next, "project stopped: "+reason),
	)
	return next, effects
}

// advance moves the project to review when every task is terminal, otherwise
// keeps dispatching. Review ends via SetPhase(done) from the operator.
func (p Project) advance(s state.ProjectState, effects []effect.Effect) (state.ProjectState, []effect.Effect) {
	if s.AllTasksDone() {
		s.Phase = state.ProjectReviewing
		s.ActiveBuilders = nil
		effects = append(effects,
			effect.DBAppendEvent{EventType: "project_reviewing", Data: map[string]any{
				"project_id": string(s.ID),
				"tasks":      len(s.Tasks),
			}},
			p.progress(&s, "all tasks finished, in review"),
		)
		return s, effects
	}
	if s.Phase == state.ProjectBuilding {
		effects = append(effects, p.dispatch(&s)...)
	}
	return s, effects
}

// dispatch assigns unassigned tasks, lowest priority number first then
// creation order, to builders that have nothing in flight. Mutates s.
func (p Project) dispatch(s *state.ProjectState) []effect.Effect {
	free := make([]proto.AgentID, 0, len(s.Builders))
	for _, id := range s.Builders {
		if !containsBuilder(s.ActiveBuilders, id) {
			free = append(free, id)
		}
	}
	if len(free) == 0 {
		return nil
	}

	order := make([]int, 0, len(s.Tasks))
	for i := range s.Tasks {
		if s.Tasks[i].Status == proto.TaskStatusUnassigned {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Tasks[order[a]].Priority < s.Tasks[order[b]].Priority
	})

	var effects []effect.Effect
	tasks := cloneTasks(s.Tasks)
	for _, i := range order {
		if len(free) == 0 {
			break
		}
		builder := free[0]
		free = free[1:]
		tasks[i].Status = proto.TaskStatusAssigned
		tasks[i].AssigneeID = builder
		s.ActiveBuilders = addBuilder(s.ActiveBuilders, builder)
		effects = append(effects,
			effect.DBUpdateTask{ProjectID: s.ID, Task: tasks[i]},
			effect.SendToActor{
				To: proto.AgentAddress(builder),
				Msg: &proto.StartTask{
					TaskID:    tasks[i].ID,
					ProjectID: s.ID,
					Title:     tasks[i].Title,
					Brief:     briefFor(s.Goal, &tasks[i]),
				},
			},
		)
	}
	s.Tasks = tasks
	return effects
}

// progress builds the build_progress event for the project's room.
func (p Project) progress(s *state.ProjectState, note string) effect.Effect {
	done := 0
	for i := range s.Tasks {
		if s.Tasks[i].Status == proto.TaskStatusDone {
			done++
		}
	}
	return effect.BroadcastToRoom{
		RoomID: s.RoomID,
		Event: proto.NewEvent(proto.EventBuildProgress, s.RoomID, map[string]any{
			"projectId": string(s.ID),
			"phase":     s.Phase,
			"done":      done,
			"total":     len(s.Tasks),
			"note":      note,
		}),
	}
}

// seedTasks mints deterministic task ids from the project id and position.
func seedTasks(projectID proto.ProjectID, offset int, seeds []proto.TaskSeed, at int64) []proto.Task {
	tasks := make([]proto.Task, 0, len(seeds))
	for i, seed := range seeds {
		tasks = append(tasks, proto.Task{
			ID:          proto.TaskID(fmt.Sprintf("%s-task-%d", projectID, offset+i+1)),
			Title:       seed.Title,
			Description: seed.Description,
			Priority:    seed.Priority,
			Status:      proto.TaskStatusUnassigned,
			CreatedAt:   at,
		})
	}
	return tasks
}

func taskBrief(s *state.ProjectState, i int) string {
	return briefFor(s.Goal, &s.Tasks[i])
}

func briefFor(goal string, t *proto.Task) string {
	if goal == "" {
		return t.Description
	}
	return fmt.Sprintf("Project goal: %s\n\n%s", goal, t.Description)
}

func cloneTasks(tasks []proto.Task) []proto.Task {
	return append([]proto.Task(nil), tasks...)
}

func addBuilder(list []proto.AgentID, id proto.AgentID) []proto.AgentID {
	if id == "" || containsBuilder(list, id) {
		return list
	}
	return append(append([]proto.AgentID(nil), list...), id)
}

func removeBuilder(list []proto.AgentID, id proto.AgentID) []proto.AgentID {
	out := make([]proto.AgentID, 0, len(list))
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func containsBuilder(list []proto.AgentID, id proto.AgentID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
