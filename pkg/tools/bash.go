package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"salon/pkg/proto"
)

const (
	// maxStreamBytes caps captured stdout and stderr, each.
	maxStreamBytes = 10 * 1024

	defaultBashTimeout = 30 * time.Second
	maxBashTimeout     = 120 * time.Second
)

// deniedCommands blocks obviously destructive commands before spawning.
var deniedCommands = []*regexp.Regexp{
	regexp.MustCompile(`^\s*rm\s+-rf?\s+[/~]`),
	regexp.MustCompile(`^\s*sudo\b`),
	regexp.MustCompile(`^\s*mkfs\b`),
	regexp.MustCompile(`^\s*dd\s+if=`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\{ :\|:& \};:`),
	regexp.MustCompile(`^\s*chmod\s+-R?\s+777\s+/`),
	regexp.MustCompile(`^\s*chown\s+-R?\s+\S+\s+/`),
}

// BashTool runs shell commands in the agent's workspace directory.
type BashTool struct{}

// NewBashTool creates the bash tool.
func NewBashTool() *BashTool {
	return &BashTool{}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{
		Name:        "bash",
		Description: "Run a shell command in your workspace. Output is captured and truncated to 10KB per stream.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Timeout in seconds (default 30, max 120)",
				},
			},
			"required": []string{"command"},
		},
	}
}

type bashInput struct {
	Command string  `json:"command"`
	Timeout float64 `json:"timeout"`
}

func (t *BashTool) Exec(ctx context.Context, tctx proto.ToolContext, input json.RawMessage) (string, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid bash input: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", fmt.Errorf("command cannot be empty")
	}
	for _, re := range deniedCommands {
		if re.MatchString(in.Command) {
			return "", fmt.Errorf("command rejected by safety policy")
		}
	}
	if tctx.Workspace == "" {
		return "", fmt.Errorf("no workspace configured for agent %s", tctx.AgentID)
	}

	timeout := defaultBashTimeout
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout * float64(time.Second))
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	cmd.Dir = tctx.Workspace
	cmd.Env = sanitizedEnv(tctx.Workspace)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out := formatStreams(
		truncateMiddle(stdout.String(), maxStreamBytes),
		truncateMiddle(stderr.String(), maxStreamBytes),
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return out, fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return out, runErr
	}
	return out, nil
}

// sanitizedEnv gives the child a minimal environment rooted in the workspace.
func sanitizedEnv(workspace string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workspace,
		"LANG=C.UTF-8",
		"TERM=dumb",
	}
}

func formatStreams(stdout, stderr string) string {
	switch {
	case stdout != "" && stderr != "":
		return stdout + "\n--- stderr ---\n" + stderr
	case stderr != "":
		return stderr
	default:
		return stdout
	}
}

// truncateMiddle keeps the head and tail of oversized output and marks the
// cut so the model knows content is missing.
func truncateMiddle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	half := max / 2
	dropped := len(s) - max
	return s[:half] + fmt.Sprintf("\n[...truncated %d characters...]\n", dropped) + s[len(s)-half:]
}
