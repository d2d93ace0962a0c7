package interp

import (
	"sort"
	"time"

	"salon/pkg/effect"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// Director interprets messages addressed to the singleton director actor. It
// owns the registry and the spawn policy; it never holds room or agent
// runtime state.
type Director struct {
	Params Params
}

func (d Director) Interpret(s state.DirectorState, msg proto.Message) (state.DirectorState, []effect.Effect) {
	switch m := msg.(type) {
	case *proto.CreateRoom:
		return d.onCreateRoom(s, m)
	case *proto.DeleteRoom:
		return d.onDeleteRoom(s, m)
	case *proto.RegisterAgent:
		return d.onRegisterAgent(s, m)
	case *proto.UnregisterAgent:
		return d.onUnregisterAgent(s, m)
	case *proto.MoveAgentToRoom:
		return d.onMoveAgent(s, m)
	case *proto.StartNewProject:
		return d.onStartProject(s, m)
	case *proto.StopProject:
		return d.onStopProject(s, m)
	case *proto.AgentsLoaded:
		return d.onAgentsLoaded(s, m)
	case *proto.RoomsLoaded:
		return d.onRoomsLoaded(s, m)
	case *proto.GetStatus:
		return d.onGetStatus(s, m)
	default:
		return noChange(s)
	}
}

func (d Director) onCreateRoom(s state.DirectorState, m *proto.CreateRoom) (state.DirectorState, []effect.Effect) {
	cfg := m.Config
	if cfg.ID == "" || cfg.Name == "" {
		return noChange(s)
	}
	if _, ok := s.Rooms[cfg.ID]; ok {
		return noChange(s)
	}
	if cfg.CreatedAt == 0 {
		cfg.CreatedAt = m.At
	}

	next := cloneDirector(s)
	next.Rooms[cfg.ID] = state.RoomInfo{Config: cfg}

	return withEffects(next,
		effect.DBUpsertRoom{Config: cfg},
		effect.DBAppendEvent{EventType: "room_created", Data: map[string]any{
			"room_id": string(cfg.ID),
			"name":    cfg.Name,
		}},
		effect.SpawnRoom{Config: cfg},
		d.roomTickSchedule(cfg.ID),
		effect.BroadcastToAll{Event: proto.Notification("", proto.SeverityInfo,
			"room created: "+cfg.Name)},
	)
}

// roomTickSchedule arms the recurring activity tick for one room. The
// schedule id is stable so a re-create replaces rather than doubles it.
func (d Director) roomTickSchedule(roomID proto.RoomID) effect.Schedule {
	tick := time.Duration(d.Params.RoomTickMs) * time.Millisecond
	return effect.Schedule{
		ScheduleID: roomTickID(roomID),
		To:         proto.RoomAddress(roomID),
		Msg:        &proto.RoomTick{},
		Delay:      tick,
		Every:      tick,
	}
}

func roomTickID(roomID proto.RoomID) string {
	return "room-tick:" + string(roomID)
}

// projectTickSchedule arms the recurring budget-and-dispatch tick for one
// project.
func (d Director) projectTickSchedule(projectID proto.ProjectID) effect.Schedule {
	tick := time.Duration(d.Params.ProjectTickMs) * time.Millisecond
	return effect.Schedule{
		ScheduleID: projectTickID(projectID),
		To:         proto.ProjectAddress(projectID),
		Msg:        &proto.ProjectTick{},
		Delay:      tick,
		Every:      tick,
	}
}

func projectTickID(projectID proto.ProjectID) string {
	return "project-tick:" + string(projectID)
}

func (d Director) onDeleteRoom(s state.DirectorState, m *proto.DeleteRoom) (state.DirectorState, []effect.Effect) {
	info, ok := s.Rooms[m.RoomID]
	if !ok {
		return noChange(s)
	}

	next := cloneDirector(s)
	delete(next.Rooms, m.RoomID)

	var effects []effect.Effect
	for _, id := range info.Members {
		effects = append(effects, effect.SendToActor{
			To:  proto.AgentAddress(id),
			Msg: &proto.LeaveRoom{RoomID: m.RoomID},
		})
	}
	effects = append(effects,
		effect.DBDeleteRoom{RoomID: m.RoomID},
		effect.DBAppendEvent{EventType: "room_deleted", Data: map[string]any{
			"room_id": string(m.RoomID),
		}},
		effect.CancelScheduled{ScheduleID: roomTickID(m.RoomID)},
		effect.StopActor{Addr: proto.RoomAddress(m.RoomID)},
		effect.BroadcastToAll{Event: proto.Notification("", proto.SeverityInfo,
			"room deleted: "+info.Config.Name)},
	)
	return next, effects
}

func (d Director) onRegisterAgent(s state.DirectorState, m *proto.RegisterAgent) (state.DirectorState, []effect.Effect) {
	cfg := m.Config
	if cfg.ID == "" || cfg.Name == "" {
		return noChange(s)
	}
	if _, ok := s.Agents[cfg.ID]; ok {
		return noChange(s)
	}

	next := cloneDirector(s)
	next.Agents[cfg.ID] = cfg

	return withEffects(next,
		effect.DBUpsertAgent{Config: cfg},
		effect.DBAppendEvent{EventType: "agent_registered", Data: map[string]any{
			"agent_id": string(cfg.ID),
			"name":     cfg.Name,
		}},
		effect.SpawnAgent{Config: cfg},
	)
}

func (d Director) onUnregisterAgent(s state.DirectorState, m *proto.UnregisterAgent) (state.DirectorState, []effect.Effect) {
	cfg, ok := s.Agents[m.AgentID]
	if !ok {
		return noChange(s)
	}

	next := cloneDirector(s)
	delete(next.Agents, m.AgentID)

	var effects []effect.Effect
	for roomID, info := range next.Rooms {
		if !containsBuilder(info.Members, m.AgentID) {
			continue
		}
		info.Members = removeBuilder(info.Members, m.AgentID)
		next.Rooms[roomID] = info
		effects = append(effects, effect.SendToActor{
			To:  proto.RoomAddress(roomID),
			Msg: &proto.AgentLeft{AgentID: m.AgentID, AgentName: cfg.Name},
		})
	}
	effects = append(effects,
		effect.DBUpdateAgentStatus{AgentID: m.AgentID, Status: state.AgentOffline},
		effect.DBAppendEvent{EventType: "agent_unregistered", Data: map[string]any{
			"agent_id": string(m.AgentID),
		}},
		effect.StopActor{Addr: proto.AgentAddress(m.AgentID)},
	)
	return next, effects
}

func (d Director) onMoveAgent(s state.DirectorState, m *proto.MoveAgentToRoom) (state.DirectorState, []effect.Effect) {
	if _, ok := s.Agents[m.AgentID]; !ok {
		return noChange(s)
	}
	target, ok := s.Rooms[m.RoomID]
	if !ok {
		return noChange(s)
	}
	if containsBuilder(target.Members, m.AgentID) {
		return noChange(s)
	}

	next := cloneDirector(s)
	for roomID, info := range next.Rooms {
		if containsBuilder(info.Members, m.AgentID) {
			info.Members = removeBuilder(info.Members, m.AgentID)
			next.Rooms[roomID] = info
		}
	}
	target = next.Rooms[m.RoomID]
	target.Members = append(append([]proto.AgentID(nil), target.Members...), m.AgentID)
	next.Rooms[m.RoomID] = target

	// The agent emits its own leave and join toward the rooms.
	return withEffects(next, effect.SendToActor{
		To:  proto.AgentAddress(m.AgentID),
		Msg: &proto.JoinRoom{RoomID: m.RoomID},
	})
}

func (d Director) onStartProject(s state.DirectorState, m *proto.StartNewProject) (state.DirectorState, []effect.Effect) {
	room, ok := s.Rooms[m.RoomID]
	if !ok {
		return noChange(s)
	}
	projectID := m.ProjectID
	if projectID == "" {
		projectID = proto.ProjectID(m.FreshID)
	}
	if _, ok := s.Projects[projectID]; ok {
		return noChange(s)
	}

	next := cloneDirector(s)
	next.Projects[projectID] = state.ProjectInfo{ID: projectID, Name: m.Name, RoomID: m.RoomID}

	builders := append([]proto.AgentID(nil), room.Members...)
	return withEffects(next,
		effect.SpawnProject{
			ProjectID: projectID,
			Name:      m.Name,
			Goal:      m.Goal,
			RoomID:    m.RoomID,
			MaxTurns:  m.MaxTurns,
		},
		effect.SendToActor{
			To: proto.ProjectAddress(projectID),
			Msg: &proto.StartProject{
				Name:     m.Name,
				Goal:     m.Goal,
				RoomID:   m.RoomID,
				MaxTurns: m.MaxTurns,
				Builders: builders,
				Tasks:    m.Tasks,
			},
		},
		d.projectTickSchedule(projectID),
	)
}

func (d Director) onStopProject(s state.DirectorState, m *proto.StopProject) (state.DirectorState, []effect.Effect) {
	if _, ok := s.Projects[m.ProjectID]; !ok {
		return noChange(s)
	}
	next := cloneDirector(s)
	delete(next.Projects, m.ProjectID)
	return withEffects(next,
		effect.CancelScheduled{ScheduleID: projectTickID(m.ProjectID)},
		effect.SendToActor{
			To:  proto.ProjectAddress(m.ProjectID),
			Msg: &proto.CancelProject{Reason: "stopped by operator"},
		},
	)
}

func (d Director) onAgentsLoaded(s state.DirectorState, m *proto.AgentsLoaded) (state.DirectorState, []effect.Effect) {
	next := cloneDirector(s)
	var effects []effect.Effect
	for _, cfg := range m.Configs {
		if cfg.ID == "" {
			continue
		}
		if _, ok := next.Agents[cfg.ID]; ok {
			continue
		}
		next.Agents[cfg.ID] = cfg
		effects = append(effects, effect.SpawnAgent{Config: cfg})
	}
	if len(effects) == 0 {
		return noChange(s)
	}
	return next, effects
}

func (d Director) onRoomsLoaded(s state.DirectorState, m *proto.RoomsLoaded) (state.DirectorState, []effect.Effect) {
	next := cloneDirector(s)
	var effects []effect.Effect
	for _, cfg := range m.Rooms {
		if cfg.ID == "" {
			continue
		}
		if _, ok := next.Rooms[cfg.ID]; ok {
			continue
		}
		members := append([]proto.AgentID(nil), m.Members[cfg.ID]...)
		next.Rooms[cfg.ID] = state.RoomInfo{Config: cfg, Members: members}

		effects = append(effects,
			effect.SpawnRoom{Config: cfg, Members: members},
			d.roomTickSchedule(cfg.ID),
			effect.DBLoadRoomMessages{
				RoomID:  cfg.ID,
				Limit:   state.MaxRoomMessages,
				ReplyTo: proto.RoomAddress(cfg.ID),
			},
		)
		for _, id := range members {
			effects = append(effects, effect.SendToActor{
				To:  proto.AgentAddress(id),
				Msg: &proto.JoinRoom{RoomID: cfg.ID},
			})
		}
	}
	if len(effects) == 0 {
		return noChange(s)
	}
	return next, effects
}

// onGetStatus answers with a registry snapshot, routed to the transient
// client registered under the reply tag.
func (d Director) onGetStatus(s state.DirectorState, m *proto.GetStatus) (state.DirectorState, []effect.Effect) {
	rooms := make([]map[string]any, 0, len(s.Rooms))
	for _, id := range sortedRoomIDs(s.Rooms) {
		info := s.Rooms[id]
		rooms = append(rooms, map[string]any{
			"id":      string(id),
			"name":    info.Config.Name,
			"members": len(info.Members),
		})
	}
	agents := make([]map[string]any, 0, len(s.Agents))
	for _, id := range sortedAgentIDs(s.Agents) {
		agents = append(agents, map[string]any{
			"id":   string(id),
			"name": s.Agents[id].Name,
		})
	}
	projects := make([]map[string]any, 0, len(s.Projects))
	for _, id := range sortedProjectIDs(s.Projects) {
		info := s.Projects[id]
		projects = append(projects, map[string]any{
			"id":     string(id),
			"name":   info.Name,
			"roomId": string(info.RoomID),
		})
	}

	return withEffects(s, effect.SendToClient{
		ClientID: proto.ClientID(m.Tag),
		Event: proto.NewEvent("status", "", map[string]any{
			"rooms":    rooms,
			"agents":   agents,
			"projects": projects,
		}),
	})
}

func cloneDirector(s state.DirectorState) state.DirectorState {
	next := state.NewDirectorState()
	for k, v := range s.Rooms {
		next.Rooms[k] = v
	}
	for k, v := range s.Agents {
		next.Agents[k] = v
	}
	for k, v := range s.Projects {
		next.Projects[k] = v
	}
	return next
}

func sortedRoomIDs(m map[proto.RoomID]state.RoomInfo) []proto.RoomID {
	ids := make([]proto.RoomID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedAgentIDs(m map[proto.AgentID]proto.AgentConfig) []proto.AgentID {
	ids := make([]proto.AgentID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedProjectIDs(m map[proto.ProjectID]state.ProjectInfo) []proto.ProjectID {
	ids := make([]proto.ProjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
