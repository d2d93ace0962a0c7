package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon/internal/kernel"
	"salon/pkg/config"
	"salon/pkg/persistence"
	"salon/pkg/proto"
	"salon/pkg/state"
)

func newTestServer(t *testing.T) (*kernel.Kernel, *httptest.Server) {
	t.Helper()
	require.NoError(t, persistence.Reset())

	dir := t.TempDir()
	cfg := &config.Config{
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

		Rooms: []proto.RoomConfig{{ID: "lobby", Name: "Lobby"}},
	}

	k, err := kernel.New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, k.Start())
	t.Cleanup(func() { require.NoError(t, k.Stop()) })

	mux := http.NewServeMux()
	NewServer(k).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	waitFor(t, func() bool {
		return k.Runtime.StateOf(proto.RoomAddress("lobby")) != nil
	})
	return k, ts
}

func waitFor(t *testing.T, cond func() bool) {
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

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// TestAPI_MessageIngress verifies a posted message lands in room state and in
// the database.
func TestAPI_MessageIngress(t *testing.T) {
	k, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/rooms/lobby/messages", map[string]any{
		"sender":  "dana",
		"content": "hello everyone",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.NotEmpty(t, ack["id"])

	waitFor(t, func() bool {
		s, ok := k.Runtime.StateOf(proto.RoomAddress("lobby")).(state.RoomState)
		return ok && len(s.Messages) == 1
	})
	s := k.Runtime.StateOf(proto.RoomAddress("lobby")).(state.RoomState)
	assert.Equal(t, "hello everyone", s.Messages[0].Content)
	assert.Equal(t, "user:dana", s.Messages[0].Sender.String())

	waitFor(t, func() bool {
		msgs, err := k.Ops.LoadRoomMessages("lobby", 10)
		return err == nil && len(msgs) == 1
	})
}

// TestAPI_StatusRoundTrip verifies the status snapshot travels through the
// director and back out the hub.
func TestAPI_StatusRoundTrip(t *testing.T) {
	k, ts := newTestServer(t)

	waitFor(t, func() bool {
		s, ok := k.Runtime.StateOf(proto.DirectorAddress()).(state.DirectorState)
		_, has := s.Rooms["lobby"]
		return ok && has
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/status")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "status", status["type"])

	rooms, ok := status["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	room := rooms[0].(map[string]any)
	assert.Equal(t, "lobby", room["id"])
}

// TestAPI_RoomLifecycle verifies create and delete reach the actor registry.
func TestAPI_RoomLifecycle(t *testing.T) {
	k, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/rooms", map[string]any{"id": "den", "name": "Den"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitFor(t, func() bool {
		return k.Runtime.StateOf(proto.RoomAddress("den")) != nil
	})

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/rooms/den")
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitFor(t, func() bool {
		return k.Runtime.StateOf(proto.RoomAddress("den")) == nil
	})
}

// TestAPI_AgentRegistrationAndMove verifies agents register and seat into
// rooms through the API.
func TestAPI_AgentRegistrationAndMove(t *testing.T) {
	k, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/agents", map[string]any{
		"id":                "zed",
		"name":              "Zed",
		"model":             "claude-haiku-4-5-20251001",
		"response_tendency": 0.8,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitFor(t, func() bool {
		return k.Runtime.StateOf(proto.AgentAddress("zed")) != nil
	})

	resp = postJSON(t, ts.URL+"/api/agents/zed/move", map[string]any{"room_id": "lobby"})
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitFor(t, func() bool {
		s, ok := k.Runtime.StateOf(proto.DirectorAddress()).(state.DirectorState)
		if !ok {
			return false
		}
		info, has := s.Rooms["lobby"]
		return has && len(info.Members) == 1 && info.Members[0] == "zed"
	})
}

// TestAPI_Validation verifies malformed requests are rejected at the boundary.
func TestAPI_Validation(t *testing.T) {
	_, ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty message content", http.MethodPost, "/api/rooms/lobby/messages", map[string]any{"content": "  "}, http.StatusBadRequest},
		{"room without name", http.MethodPost, "/api/rooms", map[string]any{"id": "x"}, http.StatusBadRequest},
		{"agent without model", http.MethodPost, "/api/agents", map[string]any{"id": "a", "name": "A"}, http.StatusBadRequest},
		{"move without target", http.MethodPost, "/api/agents/zed/move", map[string]any{}, http.StatusBadRequest},
		{"project without room", http.MethodPost, "/api/projects", map[string]any{"name": "p"}, http.StatusBadRequest},
		{"wrong method on rooms", http.MethodGet, "/api/rooms", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp *http.Response
			if tc.body != nil {
				resp = postJSON(t, ts.URL+tc.path, tc.body)
			} else {
				resp = doRequest(t, tc.method, ts.URL+tc.path)
			}
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

// TestAPI_Health verifies the liveness endpoint.
func TestAPI_Health(t *testing.T) {
	k, ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, k.SessionID(), body["session"])
}

// TestAPI_Metrics verifies the Prometheus endpoint serves the default
// registry.
func TestAPI_Metrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "salon_messages_processed_total")
}
