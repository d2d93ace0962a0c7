package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/effect"
	"salon/pkg/proto"
)

// echoTool returns its input's "text" field; "fail" makes it error and
// "block" makes it wait for cancellation.
type echoTool struct{}

func (echoTool) Name() string { return "echo" }

func (echoTool) Spec() proto.ToolSpec {
	return proto.ToolSpec{Name: "echo", Description: "test tool", InputSchema: map[string]any{"type": "object"}}
}

func (echoTool) Exec(ctx context.Context, _ proto.ToolContext, input json.RawMessage) (string, error) {
	var in struct {
		Text  string `json:"text"`
		Fail  bool   `json:"fail"`
		Block bool   `json:"block"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	if in.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if in.Fail {
		return "", assert.AnError
	}
	return in.Text, nil
}

func toolUse(id, name, input string) proto.ContentBlock {
	return proto.ContentBlock{Type: proto.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)}
}

func newToolExecutorFixture(t *testing.T) (*Executor, *sync.Mutex, *[]proto.Message) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))

	var mu sync.Mutex
	var sent []proto.Message
	exec := NewExecutor(reg, func(_ proto.Address, msg proto.Message) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, msg)
	}, t.TempDir())
	return exec, &mu, &sent
}

func waitForSent(t *testing.T, mu *sync.Mutex, sent *[]proto.Message, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(*sent)
		mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected message not delivered in time")
}

// TestToolExecutor_BatchDeliversAllResults verifies a mixed batch comes back
// as one message with per-call error flags, in call order.
func TestToolExecutor_BatchDeliversAllResults(t *testing.T) {
	exec, mu, sent := newToolExecutorFixture(t)

	err := exec.Execute(context.Background(), effect.ExecuteToolsBatch{
		AgentID: "alice",
		Tag:     "tag-1",
		Calls: []proto.ContentBlock{
			toolUse("t1", "echo", `{"text":"first"}`),
			toolUse("t2", "echo", `{"fail":true}`),
			toolUse("t3", "nosuch", `{}`),
		},
		Ctx: proto.ToolContext{RoomID: "lobby", AgentID: "alice"},
	})
	require.NoError(t, err)
	waitForSent(t, mu, sent, 1)

	mu.Lock()
	defer mu.Unlock()
	msg, ok := (*sent)[0].(*proto.ToolResultMsg)
	require.True(t, ok)
	assert.Equal(t, proto.ReplyTag("tag-1"), msg.Tag)
	require.Len(t, msg.Results, 3)

	assert.Equal(t, "t1", msg.Results[0].ToolUseID)
	assert.Equal(t, "first", msg.Results[0].Content)
	assert.False(t, msg.Results[0].IsError)

	assert.Equal(t, "t2", msg.Results[1].ToolUseID)
	assert.True(t, msg.Results[1].IsError)

	assert.Equal(t, "t3", msg.Results[2].ToolUseID)
	assert.True(t, msg.Results[2].IsError)
	assert.Contains(t, msg.Results[2].Content, "not found")
}

// TestToolExecutor_SingleCallEffect verifies ExecuteTool behaves as a batch
// of one.
func TestToolExecutor_SingleCallEffect(t *testing.T) {
	exec, mu, sent := newToolExecutorFixture(t)

	err := exec.Execute(context.Background(), effect.ExecuteTool{
		AgentID: "alice",
		Tag:     "tag-1",
		Call:    toolUse("t1", "echo", `{"text":"only"}`),
		Ctx:     proto.ToolContext{RoomID: "lobby", AgentID: "alice"},
	})
	require.NoError(t, err)
	waitForSent(t, mu, sent, 1)

	mu.Lock()
	defer mu.Unlock()
	msg := (*sent)[0].(*proto.ToolResultMsg)
	require.Len(t, msg.Results, 1)
	assert.Equal(t, "only", msg.Results[0].Content)
}

// TestToolExecutor_CancelDropsBatch verifies a cancelled batch delivers no
// results at all.
func TestToolExecutor_CancelDropsBatch(t *testing.T) {
	exec, mu, sent := newToolExecutorFixture(t)

	require.NoError(t, exec.Execute(context.Background(), effect.ExecuteToolsBatch{
		AgentID: "alice",
		Tag:     "tag-1",
		Calls:   []proto.ContentBlock{toolUse("t1", "echo", `{"block":true}`)},
		Ctx:     proto.ToolContext{RoomID: "lobby", AgentID: "alice"},
	}))
	assert.Equal(t, 1, exec.PendingBatches())

	require.NoError(t, exec.Execute(context.Background(), effect.CancelToolExecution{Tag: "tag-1"}))
	deadline := time.Now().Add(2 * time.Second)
	for exec.PendingBatches() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *sent)
}

// TestToolExecutor_WorkspaceCreated verifies the per-agent workspace is
// created under the root on first use.
func TestToolExecutor_WorkspaceCreated(t *testing.T) {
	exec, _, _ := newToolExecutorFixture(t)

	tctx, err := exec.resolveContext(proto.ToolContext{RoomID: "lobby", AgentID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, tctx.Workspace, "alice")
	assert.DirExists(t, tctx.Workspace)

	// Explicit workspaces pass through untouched.
	pre := proto.ToolContext{AgentID: "alice", Workspace: "/already/set"}
	got, err := exec.resolveContext(pre)
	require.NoError(t, err)
	assert.Equal(t, pre.Workspace, got.Workspace)
}
