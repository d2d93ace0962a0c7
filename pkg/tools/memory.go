package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"salon/pkg/persistence"
	"salon/pkg/proto"
)

// ArtifactStore is the persistence surface the memory tool needs.
type ArtifactStore interface {
	GetArtifact(roomID proto.RoomID, agentID, path string) (*persistence.Artifact, error)
	PutArtifact(id string, roomID proto.RoomID, agentID, path, content string, now int64) error
	DeleteArtifact(roomID proto.RoomID, agentID, path string) error
	RenameArtifact(roomID proto.RoomID, agentID, oldPath, newPath string, now int64) error
	ListArtifacts(roomID proto.RoomID, agentID string) ([]string, error)
}

// MemoryTool stores notes in the artifacts table, keyed by room, agent, and
// path. Paths under /shared/ are room-wide and visible to every member.
type MemoryTool struct {
	store ArtifactStore
	now   func() int64
}

// NewMemoryTool creates the memory tool over an artifact store.
func NewMemoryTool(store ArtifactStore) *MemoryTool {
	return &MemoryTool{
		store: store,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name:        "memory",
		Description: "Persistent notes that survive restarts. Paths under /shared/ are visible to everyone in the room. Use view with no path to list your notes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type": "string",
					"enum": []string{"view", "create", "str_replace", "insert", "delete", "rename"},
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Note path, e.g. notes.md or /shared/plan.md",
				},
				"file_text": map[string]any{
					"type":        "string",
					"description": "Full note content for create",
				},
				"old_str": map[string]any{
					"type":        "string",
					"description": "Exact string to replace; must occur exactly once",
				},
				"new_str": map[string]any{
					"type":        "string",
					"description": "Replacement or inserted string",
				},
				"insert_line": map[string]any{
					"type":        "number",
					"description": "Line number after which to insert (0 for top)",
				},
				"new_path": map[string]any{
					"type":        "string",
					"description": "Destination path for rename",
				},
			},
			"required": []string{"command"},
		},
	}
}

type memoryInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine int    `json:"insert_line"`
	NewPath    string `json:"new_path"`
}

func (t *MemoryTool) Exec(_ context.Context, tctx proto.ToolContext, input json.RawMessage) (string, error) {
	var in memoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid memory input: %w", err)
	}
	if tctx.RoomID == "" {
		return "", fmt.Errorf("memory requires a room context")
	}

	agentID, path := memoryScope(tctx, in.Path)

	switch in.Command {
	case "view":
		return t.view(tctx, agentID, path)
	case "create":
		return t.create(tctx.RoomID, agentID, path, in.FileText)
	case "str_replace":
		return t.strReplace(tctx.RoomID, agentID, path, in.OldStr, in.NewStr)
	case "insert":
		return t.insert(tctx.RoomID, agentID, path, in.InsertLine, in.NewStr)
	case "delete":
		return t.delete(tctx.RoomID, agentID, path)
	case "rename":
		return t.rename(tctx, agentID, path, in.NewPath)
	default:
		return "", fmt.Errorf("unknown command: %s", in.Command)
	}
}

// memoryScope maps a raw path to its owning pseudo-agent. The /shared/ prefix
// switches to the room-wide scope.
func memoryScope(tctx proto.ToolContext, raw string) (agentID, path string) {
	if strings.HasPrefix(raw, sharedPathPrefix) {
		return persistence.SharedAgentID, strings.TrimPrefix(raw, sharedPathPrefix)
	}
	return string(tctx.AgentID), strings.TrimPrefix(raw, "/")
}

func (t *MemoryTool) view(tctx proto.ToolContext, agentID, path string) (string, error) {
	if path == "" {
		mine, err := t.store.ListArtifacts(tctx.RoomID, string(tctx.AgentID))
		if err != nil {
			return "", err
		}
		shared, err := t.store.ListArtifacts(tctx.RoomID, persistence.SharedAgentID)
		if err != nil {
			return "", err
		}
		if len(mine) == 0 && len(shared) == 0 {
			return "no notes yet", nil
		}
		var b strings.Builder
		for _, p := range mine {
			fmt.Fprintf(&b, "%s\n", p)
		}
		for _, p := range shared {
			fmt.Fprintf(&b, "%s%s\n", sharedPathPrefix, p)
		}
		return strings.TrimSuffix(b.String(), "\n"), nil
	}

	art, err := t.store.GetArtifact(tctx.RoomID, agentID, path)
	if err != nil {
		return "", err
	}
	if art == nil {
		return "", fmt.Errorf("note %s not found", path)
	}
	return art.Content, nil
}

func (t *MemoryTool) create(roomID proto.RoomID, agentID, path, content string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if err := t.store.PutArtifact(uuid.NewString(), roomID, agentID, path, content, t.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("saved %s (%d bytes)", path, len(content)), nil
}

func (t *MemoryTool) strReplace(roomID proto.RoomID, agentID, path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", fmt.Errorf("old_str cannot be empty")
	}
	art, err := t.store.GetArtifact(roomID, agentID, path)
	if err != nil {
		return "", err
	}
	if art == nil {
		return "", fmt.Errorf("note %s not found", path)
	}

	count := strings.Count(art.Content, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_str not found in note")
	}
	if count > 1 {
		return "", fmt.Errorf("old_str occurs %d times; it must be unique", count)
	}

	updated := strings.Replace(art.Content, oldStr, newStr, 1)
	if err := t.store.PutArtifact(art.ID, roomID, agentID, path, updated, t.now()); err != nil {
		return "", err
	}
	return "replacement applied", nil
}

func (t *MemoryTool) insert(roomID proto.RoomID, agentID, path string, afterLine int, text string) (string, error) {
	if afterLine < 0 {
		return "", fmt.Errorf("insert_line cannot be negative")
	}
	art, err := t.store.GetArtifact(roomID, agentID, path)
	if err != nil {
		return "", err
	}
	if art == nil {
		return "", fmt.Errorf("note %s not found", path)
	}

	lines := strings.Split(art.Content, "\n")
	if afterLine > len(lines) {
		return "", fmt.Errorf("insert_line %d past end of note (%d lines)", afterLine, len(lines))
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:afterLine]...)
	out = append(out, text)
	out = append(out, lines[afterLine:]...)

	if err := t.store.PutArtifact(art.ID, roomID, agentID, path, strings.Join(out, "\n"), t.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("inserted after line %d", afterLine), nil
}

func (t *MemoryTool) delete(roomID proto.RoomID, agentID, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if err := t.store.DeleteArtifact(roomID, agentID, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %s", path), nil
}

func (t *MemoryTool) rename(tctx proto.ToolContext, agentID, path, rawNew string) (string, error) {
	if path == "" || rawNew == "" {
		return "", fmt.Errorf("rename requires path and new_path")
	}
	newAgent, newPath := memoryScope(tctx, rawNew)
	if newAgent != agentID {
		return "", fmt.Errorf("rename cannot move a note between private and shared scope")
	}
	if err := t.store.RenameArtifact(tctx.RoomID, agentID, path, newPath, t.now()); err != nil {
		return "", err
	}
	return fmt.Sprintf("renamed %s to %s", path, newPath), nil
}
