package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"salon/pkg/proto"
)

// Completer is the call surface the executor depends on; tests substitute a
// fake, production uses Client.
type Completer interface {
	Complete(ctx context.Context, req proto.AnthropicRequest) (proto.AnthropicResponse, error)
}

// Client wraps the Anthropic SDK client.
type Client struct {
	client anthropic.Client
}

// NewClient creates a Client. Extra options are appended after the API key,
// so tests can redirect the base URL.
func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{client: anthropic.NewClient(all...)}
}

// Complete performs one messages call and converts the result into the
// internal response shape. Errors come back classified.
func (c *Client) Complete(ctx context.Context, req proto.AnthropicRequest) (proto.AnthropicResponse, error) {
	params, err := buildParams(req)
	if err != nil {
		return proto.AnthropicResponse{}, NewErrorWithCause(ErrorTypeBadPrompt, err, "request conversion failed")
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return proto.AnthropicResponse{}, ClassifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return proto.AnthropicResponse{}, NewError(ErrorTypeEmptyResponse, "received empty response")
	}

	return convertResponse(resp), nil
}

// buildParams converts the provider-independent request to SDK params.
func buildParams(req proto.AnthropicRequest) (anthropic.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("message list cannot be empty")
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for i := range req.Messages {
		turn := &req.Messages[i]
		blocks, err := convertBlocks(turn.Content)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("turn %d: %w", i, err)
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turn.Role),
			Content: blocks,
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for i := range req.Tools {
			tools = append(tools, convertToolSpec(&req.Tools[i]))
		}
		params.Tools = tools
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}
	return params, nil
}

func convertBlocks(blocks []proto.ContentBlock) ([]anthropic.ContentBlockParamUnion, error) {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		switch b.Type {
		case proto.BlockText:
			out = append(out, anthropic.NewTextBlock(b.Text))
		case proto.BlockToolUse:
			out = append(out, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    b.ID,
					Name:  b.Name,
					Input: json.RawMessage(b.Input),
				},
			})
		case proto.BlockToolResult:
			out = append(out, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: b.ToolUseID,
					IsError:   anthropic.Bool(b.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: b.Content}},
					},
				},
			})
		default:
			return nil, fmt.Errorf("unsupported request block type: %s", b.Type)
		}
	}
	return out, nil
}

// convertToolSpec maps a tool declaration to the SDK shape. The input schema
// is a JSON-schema object with properties and required at the top level.
func convertToolSpec(spec *proto.ToolSpec) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := spec.InputSchema["properties"]; ok {
		schema.Properties = props
	}
	if raw, ok := spec.InputSchema["required"]; ok {
		switch req := raw.(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	}
	return anthropic.ToolUnionParamOfTool(schema, spec.Name)
}

// convertResponse flattens the SDK response into the internal shape. Unknown
// block kinds are rendered as diagnostic text so the conversation can
// continue.
func convertResponse(resp *anthropic.Message) proto.AnthropicResponse {
	out := proto.AnthropicResponse{
		ID:         resp.ID,
		Model:      string(resp.Model),
		StopReason: string(resp.StopReason),
		Usage: proto.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}

	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text := block.AsText()
			out.Content = append(out.Content, proto.TextBlock(text.Text))
		case "tool_use":
			toolUse := block.AsToolUse()
			out.Content = append(out.Content, proto.ContentBlock{
				Type:  proto.BlockToolUse,
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: json.RawMessage(toolUse.Input),
			})
		case "server_tool_use":
			serverUse := block.AsServerToolUse()
			input, _ := json.Marshal(serverUse.Input)
			out.Content = append(out.Content, proto.ContentBlock{
				Type:  proto.BlockServerToolUse,
				ID:    serverUse.ID,
				Name:  string(serverUse.Name),
				Input: input,
			})
		case "web_search_tool_result":
			search := block.AsWebSearchToolResult()
			out.Content = append(out.Content, proto.ContentBlock{
				Type:      proto.BlockWebSearchToolResult,
				ToolUseID: search.ToolUseID,
				Content:   search.Content.RawJSON(),
			})
		default:
			out.Content = append(out.Content, proto.TextBlock(
				fmt.Sprintf("[unsupported content block: %s]", block.Type)))
		}
	}
	return out
}
