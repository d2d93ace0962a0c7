// Package httpapi is the thin HTTP adapter in front of the kernel: message
// ingress, registry operations, the websocket endpoint, health and metrics.
// Every write is a fire-and-forget send into the actor runtime; reads come
// from actor state snapshots or from a transient hub subscription.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"salon/internal/kernel"
	"salon/pkg/logx"
	"salon/pkg/metrics"
	"salon/pkg/proto"
)

// statusTimeout bounds how long a status request waits for the director.
const statusTimeout = 5 * time.Second

// Server routes HTTP traffic into the kernel.
type Server struct {
	kernel *kernel.Kernel
	logger *logx.Logger
}

// NewServer creates the HTTP adapter.
func NewServer(k *kernel.Kernel) *Server {
	return &Server{
		kernel: k,
		logger: logx.NewLogger("httpapi"),
	}
}

// RegisterRoutes sets up HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.kernel.Hub.ServeWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/rooms/", s.handleRoom)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgent)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/projects/", s.handleProject)
}

// Start runs the server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // parent is cancelled; shutdown needs a live context
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.kernel.Health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"session": s.kernel.SessionID(),
	})
}

// handleStatus implements GET /api/status. The reply travels through the
// director and back out the hub on a transient subscription, so the snapshot
// is ordered with everything the director processed before it.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tag := proto.NewReplyTag()
	frames, cancel, err := s.kernel.Hub.Subscribe(proto.ClientID(tag), "")
	if err != nil {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.GetStatus{Tag: tag})

	select {
	case frame, ok := <-frames:
		if !ok {
			http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(frame)
	case <-time.After(statusTimeout):
		http.Error(w, "Status request timed out", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

type createRoomRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Room name is required", http.StatusBadRequest)
		return
	}
	id := proto.RoomID(req.ID)
	if id == "" {
		id = proto.NewRoomID()
	}

	s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.CreateRoom{
		Config: proto.RoomConfig{
			ID:          id,
			Name:        req.Name,
			Description: req.Description,
			Topic:       req.Topic,
		},
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": string(id)})
}

type postMessageRequest struct {
	Sender     string   `json:"sender"`
	SenderName string   `json:"sender_name,omitempty"`
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions,omitempty"`
}

// handleRoom routes /api/rooms/{id} and /api/rooms/{id}/messages.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/api/rooms/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	roomID := proto.RoomID(id)

	switch {
	case rest == "" && r.Method == http.MethodDelete:
		s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.DeleteRoom{RoomID: roomID})
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})

	case rest == "messages" && r.Method == http.MethodPost:
		s.postMessage(w, r, roomID)

	case rest == "messages" && r.Method == http.MethodDelete:
		s.kernel.Runtime.Send(proto.RoomAddress(roomID), &proto.ClearMessages{})
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})

	case rest == "reset" && r.Method == http.MethodPost:
		s.kernel.Runtime.Send(proto.RoomAddress(roomID), &proto.ResetRoom{})
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// postMessage is the user message ingress. The full chat line is built at the
// boundary so the room interpreter only ever sees complete messages.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, roomID proto.RoomID) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content is required", http.StatusBadRequest)
		return
	}
	if req.Sender == "" {
		req.Sender = "user"
	}
	if req.SenderName == "" {
		req.SenderName = req.Sender
	}

	msg := proto.ChatMessage{
		ID:         proto.NewMessageID(),
		RoomID:     roomID,
		Sender:     proto.UserSender(proto.UserID(req.Sender)),
		SenderName: req.SenderName,
		Content:    req.Content,
		Type:       proto.MessageChat,
		Timestamp:  time.Now().UnixMilli(),
		Mentions:   req.Mentions,
	}
	mentioned := make([]proto.AgentID, 0, len(req.Mentions))
	for _, m := range req.Mentions {
		mentioned = append(mentioned, proto.AgentID(m))
	}

	s.kernel.Runtime.Send(proto.RoomAddress(roomID), &proto.UserMessage{
		Message:   msg,
		Mentioned: mentioned,
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": string(msg.ID)})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg proto.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if cfg.ID == "" || cfg.Name == "" || cfg.Model == "" {
		http.Error(w, "Agent id, name and model are required", http.StatusBadRequest)
		return
	}

	s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.RegisterAgent{Config: cfg})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": string(cfg.ID)})
}

type moveAgentRequest struct {
	RoomID string `json:"room_id"`
}

// handleAgent routes /api/agents/{id} and /api/agents/{id}/move.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/api/agents/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	agentID := proto.AgentID(id)

	switch {
	case rest == "" && r.Method == http.MethodDelete:
		s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.UnregisterAgent{AgentID: agentID})
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})

	case rest == "move" && r.Method == http.MethodPost:
		var req moveAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.RoomID == "" {
			http.Error(w, "Target room_id is required", http.StatusBadRequest)
			return
		}
		s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.MoveAgentToRoom{
			AgentID: agentID,
			RoomID:  proto.RoomID(req.RoomID),
		})
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type startProjectRequest struct {
	Name     string           `json:"name"`
	Goal     string           `json:"goal"`
	RoomID   string           `json:"room_id"`
	MaxTurns int              `json:"max_turns,omitempty"`
	Tasks    []proto.TaskSeed `json:"tasks,omitempty"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.RoomID == "" {
		http.Error(w, "Project name and room_id are required", http.StatusBadRequest)
		return
	}

	projectID := proto.NewProjectID()
	s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.StartNewProject{
		ProjectID: projectID,
		Name:      req.Name,
		Goal:      req.Goal,
		RoomID:    proto.RoomID(req.RoomID),
		MaxTurns:  req.MaxTurns,
		Tasks:     req.Tasks,
	})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": string(projectID)})
}

// handleProject routes /api/projects/{id}.
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/api/projects/")
	if !ok || rest != "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.kernel.Runtime.Send(proto.DirectorAddress(), &proto.StopProject{ProjectID: proto.ProjectID(id)})
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

// splitResource parses prefix-rooted paths of the form {id} or {id}/{rest}.
func splitResource(path, prefix string) (id, rest string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", "", false
	}
	if i := strings.IndexByte(tail, '/'); i >= 0 {
		return tail[:i], tail[i+1:], true
	}
	return tail, "", true
}

// Addr formats the listen address for a port.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
