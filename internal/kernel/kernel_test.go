package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/pkg/config"
	"salon/pkg/eventlog"
	"salon/pkg/persistence"
	"salon/pkg/proto"
	"salon/pkg/state"
)

// testConfig builds a config rooted at dir. The database singleton is reset so
// each kernel starts against a fresh handle.
func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	require.NoError(t, persistence.Reset())
	return &config.Config{
		Port:         8888,
		APIKey:       "sk-test",
		DataDir:      filepath.Join(dir, "data"),
		WorkspaceDir: filepath.Join(dir, "workspaces"),
		SharedDir:    filepath.Join(dir, "shared"),
		LogDir:       filepath.Join(dir, "logs"),

		Workers:          2,
		SchedulerTick:    20 * time.Millisecond,
		RoomTickInterval: time.Second,

		ResponderThreshold: 0.3,
		ResponderFanOut:    3,
		ContextWindow:      20,
		ResponseTimeout:    5 * time.Second,
		MaxToolCalls:       10,
		MaxAttempts:        3,
		MaxTokens:          512,
		MaxContextTokens:   2048,
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not reached in time")
}

func directorState(k *Kernel) (state.DirectorState, bool) {
	s, ok := k.Runtime.StateOf(proto.DirectorAddress()).(state.DirectorState)
	return s, ok
}

// TestKernel_StartSeedsConfiguredRooms verifies configured rooms reach the
// director, spawn their actors, and land in the database.
func TestKernel_StartSeedsConfiguredRooms(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Rooms = []proto.RoomConfig{{ID: "lobby", Name: "Lobby", Topic: "small talk"}}

	k, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, k.Start())
	defer func() { require.NoError(t, k.Stop()) }()

	waitUntil(t, func() bool {
		s, ok := directorState(k)
		_, has := s.Rooms["lobby"]
		return ok && has
	})
	waitUntil(t, func() bool {
		return k.Runtime.StateOf(proto.RoomAddress("lobby")) != nil
	})

	rooms, err := k.Ops.ListRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Lobby", rooms[0].Name)

	sess, err := k.Ops.GetSession(k.SessionID())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, persistence.ModeAutonomous, sess.Mode)
}

// TestKernel_PersonasRegisterAgents verifies persona files become registered
// agent actors.
func TestKernel_PersonasRegisterAgents(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.PersonasDir = filepath.Join(dir, "personas")
	require.NoError(t, os.MkdirAll(cfg.PersonasDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PersonasDir, "zed.yaml"), []byte(`
id: zed
name: Zed
model: claude-haiku-4-5-20251001
system_prompt: You are Zed.
response_tendency: 0.5
`), 0o644))

	k, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, k.Start())
	defer func() { require.NoError(t, k.Stop()) }()

	waitUntil(t, func() bool {
		s, ok := directorState(k)
		_, has := s.Agents["zed"]
		return ok && has
	})
	waitUntil(t, func() bool {
		return k.Runtime.StateOf(proto.AgentAddress("zed")) != nil
	})

	agents, err := k.Ops.ListAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
}

// TestKernel_RecoveryRestoresRegistry verifies a restart against the same
// data directory brings rooms and agents back without config seeding.
func TestKernel_RecoveryRestoresRegistry(t *testing.T) {
	dir := t.TempDir()

	cfg := testConfig(t, dir)
	cfg.Rooms = []proto.RoomConfig{{ID: "den", Name: "Den"}}
	k, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, k.Start())
	k.Runtime.Send(proto.DirectorAddress(), &proto.RegisterAgent{
		Config: proto.AgentConfig{ID: "alice", Name: "Alice", Model: "m", ResponseTendency: 0.9},
	})
	waitUntil(t, func() bool {
		s, ok := directorState(k)
		_, hasRoom := s.Rooms["den"]
		_, hasAgent := s.Agents["alice"]
		return ok && hasRoom && hasAgent
	})
	require.NoError(t, k.Stop())

	// Second run, no seed config: everything must come from the store.
	cfg2 := testConfig(t, dir)
	k2, err := New(context.Background(), cfg2)
	require.NoError(t, err)
	require.NoError(t, k2.Start())
	defer func() { require.NoError(t, k2.Stop()) }()

	waitUntil(t, func() bool {
		s, ok := directorState(k2)
		_, hasRoom := s.Rooms["den"]
		_, hasAgent := s.Agents["alice"]
		return ok && hasRoom && hasAgent
	})
	waitUntil(t, func() bool {
		return k2.Runtime.StateOf(proto.RoomAddress("den")) != nil &&
			k2.Runtime.StateOf(proto.AgentAddress("alice")) != nil
	})
}

// TestKernel_HealthAndEventLog verifies the health probe and the JSONL trail.
func TestKernel_HealthAndEventLog(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Rooms = []proto.RoomConfig{{ID: "lobby", Name: "Lobby"}}

	k, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.Error(t, k.Health(context.Background()), "not running yet")

	require.NoError(t, k.Start())
	require.NoError(t, k.Health(context.Background()))

	waitUntil(t, func() bool {
		s, ok := directorState(k)
		_, has := s.Rooms["lobby"]
		return ok && has
	})
	require.NoError(t, k.Stop())

	files, err := eventlog.ListLogFiles(cfg.LogDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	entries, err := eventlog.ReadEntries(files[0])
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "create_room", entries[0].MsgKind)

	require.Error(t, k.Health(context.Background()), "stopped")
}
