package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"salon/pkg/proto"
)

// sharedPathPrefix routes editor and memory paths into the room-wide scope.
const sharedPathPrefix = "/shared/"

// EditorTool implements the str_replace_based_edit_tool surface over files in
// the agent's workspace. Paths prefixed /shared/ resolve into the shared
// workspace instead.
type EditorTool struct {
	sharedDir string
}

// NewEditorTool creates the editor tool. sharedDir is the directory backing
// the /shared/ prefix.
func NewEditorTool(sharedDir string) *EditorTool {
	return &EditorTool{sharedDir: sharedDir}
}

func (t *EditorTool) Name() string { return "str_replace_based_edit_tool" }

func (t *EditorTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name:        "str_replace_based_edit_tool",
		Description: "View, create, and edit files in your workspace. Paths under /shared/ are visible to every room member.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type": "string",
					"enum": []string{"view", "create", "str_replace", "insert"},
				},
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to your workspace, or /shared/... for the shared workspace",
				},
				"file_text": map[string]any{
					"type":        "string",
					"description": "Full file content for create",
				},
				"old_str": map[string]any{
					"type":        "string",
					"description": "Exact string to replace; must occur exactly once",
				},
				"new_str": map[string]any{
					"type":        "string",
					"description": "Replacement string",
				},
				"insert_line": map[string]any{
					"type":        "number",
					"description": "Line number after which to insert (0 for top of file)",
				},
			},
			"required": []string{"command", "path"},
		},
	}
}

type editorInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine int    `json:"insert_line"`
}

func (t *EditorTool) Exec(_ context.Context, tctx proto.ToolContext, input json.RawMessage) (string, error) {
	var in editorInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid editor input: %w", err)
	}

	path, err := t.resolvePath(tctx, in.Path)
	if err != nil {
		return "", err
	}

	switch in.Command {
	case "view":
		return t.view(path)
	case "create":
		return t.create(path, in.FileText)
	case "str_replace":
		return t.strReplace(path, in.OldStr, in.NewStr)
	case "insert":
		return t.insert(path, in.InsertLine, in.NewStr)
	default:
		return "", fmt.Errorf("unknown command: %s", in.Command)
	}
}

// resolvePath confines the path to the agent workspace or, for the /shared/
// prefix, the shared workspace. Anything resolving outside is rejected.
func (t *EditorTool) resolvePath(tctx proto.ToolContext, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	root := tctx.Workspace
	rel := raw
	if strings.HasPrefix(raw, sharedPathPrefix) {
		if t.sharedDir == "" {
			return "", fmt.Errorf("shared workspace not configured")
		}
		root = t.sharedDir
		rel = strings.TrimPrefix(raw, sharedPathPrefix)
	} else {
		rel = strings.TrimPrefix(rel, "/")
	}
	if root == "" {
		return "", fmt.Errorf("no workspace configured for agent %s", tctx.AgentID)
	}

	abs := filepath.Clean(filepath.Join(root, rel))
	rootAbs := filepath.Clean(root)
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", raw)
	}
	return abs, nil
}

func (t *EditorTool) view(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cannot view %s: %w", filepath.Base(path), err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return numberLines(string(data)), nil
}

func (t *EditorTool) create(path, content string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("created %s (%d bytes)", filepath.Base(path), len(content)), nil
}

func (t *EditorTool) strReplace(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", fmt.Errorf("old_str cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)

	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_str not found in file")
	}
	if count > 1 {
		return "", fmt.Errorf("old_str occurs %d times; it must be unique", count)
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", err
	}
	return "replacement applied", nil
}

func (t *EditorTool) insert(path string, afterLine int, text string) (string, error) {
	if afterLine < 0 {
		return "", fmt.Errorf("insert_line cannot be negative")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	if afterLine > len(lines) {
		return "", fmt.Errorf("insert_line %d past end of file (%d lines)", afterLine, len(lines))
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:afterLine]...)
	out = append(out, text)
	out = append(out, lines[afterLine:]...)

	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("inserted after line %d", afterLine), nil
}

func numberLines(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%d\t%s\n", i+1, line)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
