package proto

import "encoding/json"

// Content block types in the abstracted LLM protocol.
const (
	BlockText                = "text"
	BlockToolUse             = "tool_use"
	BlockToolResult          = "tool_result"
	BlockServerToolUse       = "server_tool_use"
	BlockWebSearchToolResult = "web_search_tool_result"
)

// Stop reasons reported by the upstream API.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one element of an LLM turn. Only the fields matching Type
// are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use / server_tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result / web_search_tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// CompletionTurn is one conversational turn in an LLM request.
type CompletionTurn struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// ToolSpec declares a tool to the LLM.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// AnthropicRequest is the provider-independent request shape handed to the
// LLM executor.
type AnthropicRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Messages    []CompletionTurn `json:"messages"`
	Tools       []ToolSpec       `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// AnthropicResponse is the internal shape every provider response is
// converted into before re-entering the runtime.
type AnthropicResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// TextContent concatenates all text blocks of the response.
func (r *AnthropicResponse) TextContent() string {
	var out string
	for i := range r.Content {
		if r.Content[i].Type == BlockText {
			out += r.Content[i].Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the response.
func (r *AnthropicResponse) ToolUses() []ContentBlock {
	var out []ContentBlock
	for i := range r.Content {
		if r.Content[i].Type == BlockToolUse {
			out = append(out, r.Content[i])
		}
	}
	return out
}

// ToolContext scopes a tool execution to its room, agent, and workspace.
// RoomID is carried explicitly so tool results never route by defaults.
type ToolContext struct {
	RoomID    RoomID  `json:"room_id"`
	AgentID   AgentID `json:"agent_id"`
	Workspace string  `json:"workspace"`
}

// ToolResultItem is the outcome of one tool_use block.
type ToolResultItem struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}
