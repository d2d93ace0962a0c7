// Package testkit provides test doubles shared across packages: a scripted
// Anthropic API server and helpers for asserting on interpreter effects.
package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// CapturedRequest is one messages call the mock server received.
type CapturedRequest struct {
	Model     string
	MaxTokens int
	System    string
	Messages  int
	ToolNames []string
	Raw       json.RawMessage
}

type scriptedReply struct {
	status int
	body   map[string]any
}

// AnthropicServer emulates the messages endpoint with a queue of scripted
// replies. An empty queue answers with a plain "ok" text turn.
type AnthropicServer struct {
	*httptest.Server

	mu       sync.Mutex
	queue    []scriptedReply
	requests []CapturedRequest
}

// NewAnthropicServer starts the mock. Callers own shutdown via Close.
func NewAnthropicServer() *AnthropicServer {
	s := &AnthropicServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *AnthropicServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/messages") || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req struct {
		Model  string `json:"model"`
		System []any  `json:"system"`
		Tools  []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Messages  []json.RawMessage `json:"messages"`
		MaxTokens int               `json:"max_tokens"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, "invalid request shape", http.StatusBadRequest)
		return
	}

	captured := CapturedRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  len(req.Messages),
		Raw:       raw,
	}
	if len(req.System) > 0 {
		if block, ok := req.System[0].(map[string]any); ok {
			captured.System, _ = block["text"].(string)
		}
	}
	for _, tool := range req.Tools {
		captured.ToolNames = append(captured.ToolNames, tool.Name)
	}

	s.mu.Lock()
	s.requests = append(s.requests, captured)
	reply := scriptedReply{status: http.StatusOK, body: textMessage(req.Model, "ok")}
	if len(s.queue) > 0 {
		reply = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	if reply.body["model"] == "" {
		reply.body["model"] = req.Model
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	_ = json.NewEncoder(w).Encode(reply.body)
}

// QueueText scripts one successful text reply.
func (s *AnthropicServer) QueueText(text, stopReason string) {
	body := textMessage("", text)
	body["stop_reason"] = stopReason
	s.push(http.StatusOK, body)
}

// QueueToolUse scripts a reply asking for one tool call.
func (s *AnthropicServer) QueueToolUse(id, name string, input map[string]any) {
	s.push(http.StatusOK, map[string]any{
		"id":   "msg_" + id,
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "tool_use", "id": id, "name": name, "input": input},
		},
		"stop_reason": "tool_use",
		"model":       "",
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
}

// QueueBlocks scripts a reply with arbitrary content blocks.
func (s *AnthropicServer) QueueBlocks(stopReason string, blocks ...map[string]any) {
	s.push(http.StatusOK, map[string]any{
		"id":          "msg_scripted",
		"type":        "message",
		"role":        "assistant",
		"content":     blocks,
		"stop_reason": stopReason,
		"model":       "",
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
}

// QueueError scripts one API error with the given HTTP status.
func (s *AnthropicServer) QueueError(status int, errType, message string) {
	s.push(status, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
		"model": "-",
	})
}

func (s *AnthropicServer) push(status int, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedReply{status: status, body: body})
}

// Requests returns the captured calls in arrival order.
func (s *AnthropicServer) Requests() []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func textMessage(model, text string) map[string]any {
	return map[string]any{
		"id":   "msg_scripted",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"model":       model,
		"usage":       map[string]any{"input_tokens": 12, "output_tokens": 7},
	}
}
