package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/proto"
)

func bashCtx(t *testing.T) proto.ToolContext {
	t.Helper()
	return proto.ToolContext{RoomID: "lobby", AgentID: "alice", Workspace: t.TempDir()}
}

func bashRun(t *testing.T, tctx proto.ToolContext, command string) (string, error) {
	t.Helper()
	input, err := json.Marshal(map[string]any{"command": command})
	require.NoError(t, err)
	return NewBashTool().Exec(context.Background(), tctx, input)
}

// TestBash_CapturesOutput verifies stdout comes back as the result content.
func TestBash_CapturesOutput(t *testing.T) {
	out, err := bashRun(t, bashCtx(t), "echo 42")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

// TestBash_WorkspaceIsCwd verifies commands run inside the agent workspace.
func TestBash_WorkspaceIsCwd(t *testing.T) {
	tctx := bashCtx(t)
	out, err := bashRun(t, tctx, "pwd")
	require.NoError(t, err)
	assert.Equal(t, tctx.Workspace, strings.TrimSpace(out))
}

// TestBash_ExitCodeIsError verifies a nonzero exit returns both output and an
// error.
func TestBash_ExitCodeIsError(t *testing.T) {
	out, err := bashRun(t, bashCtx(t), "echo partial; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, out, "partial")
}

// TestBash_DenyList verifies destructive commands are rejected before spawn.
func TestBash_DenyList(t *testing.T) {
	denied := []string{
		"rm -rf /",
		"  rm -r /etc",
		"rm -rf ~/stuff",
		"sudo reboot",
		"mkfs /dev/sda1",
		"dd if=/dev/zero of=disk.img",
		"echo x > /dev/sda",
		"chmod -R 777 /",
		"chown -R nobody /",
	}
	for _, cmd := range denied {
		_, err := bashRun(t, bashCtx(t), cmd)
		require.Error(t, err, "command should be denied: %q", cmd)
		assert.Contains(t, err.Error(), "safety policy")
	}

	// Similar but safe commands pass.
	_, err := bashRun(t, bashCtx(t), "rm -rf ./tmp")
	assert.NoError(t, err)
}

// TestBash_EmptyCommand verifies blank commands are rejected.
func TestBash_EmptyCommand(t *testing.T) {
	_, err := bashRun(t, bashCtx(t), "   ")
	assert.Error(t, err)
}

// TestBash_SanitizedEnv verifies the child does not inherit the server
// environment.
func TestBash_SanitizedEnv(t *testing.T) {
	t.Setenv("SALON_SECRET_FOR_TEST", "leaky")
	out, err := bashRun(t, bashCtx(t), "echo ${SALON_SECRET_FOR_TEST:-unset}")
	require.NoError(t, err)
	assert.Equal(t, "unset\n", out)
}

// TestTruncateMiddle verifies the symmetric cap keeps head and tail around
// the marker.
func TestTruncateMiddle(t *testing.T) {
	small := strings.Repeat("a", maxStreamBytes)
	assert.Equal(t, small, truncateMiddle(small, maxStreamBytes))

	big := strings.Repeat("H", 8000) + strings.Repeat("T", 8000)
	out := truncateMiddle(big, maxStreamBytes)
	assert.Contains(t, out, "[...truncated 5760 characters...]")
	assert.True(t, strings.HasPrefix(out, "HHHH"))
	assert.True(t, strings.HasSuffix(out, "TTTT"))
	assert.Equal(t, maxStreamBytes/2, strings.Count(out, "H"))
	assert.Equal(t, maxStreamBytes/2, strings.Count(out, "T"))
}
