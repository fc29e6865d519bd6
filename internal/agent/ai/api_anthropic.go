package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/neboloop/bingus/internal/logging"
)

const defaultMaxTokens = 8192

var anthropicLog = logging.Named("anthropic")

// AnthropicProvider implements the Anthropic Claude API using the official SDK
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Stream sends a request and returns streaming events
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  p.buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam, err := anthropicTool(tool)
			if err != nil {
				anthropicLog.Warnf("%v", err)
				continue
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: toolParam})
		}
		params.Tools = tools
	}

	anthropicLog.Debugf("sending request: model=%s messages=%d tools=%d",
		model, len(params.Messages), len(req.Tools))

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(stream, events)

	return events, nil
}

func anthropicTool(tool ToolDefinition) (*anthropic.ToolParam, error) {
	schema, err := parseSchema(tool)
	if err != nil {
		return nil, err
	}
	toolParam := &anthropic.ToolParam{
		Name:        tool.Name,
		Description: anthropic.String(tool.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		},
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
			}
		}
	}
	return toolParam, nil
}

// buildMessages converts conversation messages to Anthropic format.
// Consecutive tool results are folded into one user message.
func (p *AnthropicProvider) buildMessages(msgs []Message) []anthropic.MessageParam {
	called, answered := toolPairs(msgs)

	var (
		result  []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flushResults := func() {
		if len(results) > 0 {
			result = append(result, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		if msg.Role != RoleTool {
			flushResults()
		}
		switch msg.Role {
		case RoleUser:
			// Empty text blocks are rejected by the API.
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				if !answered[tc.ID] {
					anthropicLog.Debugf("skipping tool_use without response: %s", tc.ID)
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}

		case RoleTool:
			if !called[msg.ToolCallID] {
				anthropicLog.Debugf("skipping orphaned tool_result: %s", msg.ToolCallID)
				continue
			}
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
	}
	flushResults()

	return result
}

// handleStream processes the streaming response
func (p *AnthropicProvider) handleStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	var currentToolID string
	var currentToolName string
	var inputBuffer string

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			cb := event.AsContentBlockStart()
			if toolUse, ok := cb.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				inputBuffer = ""
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				events <- StreamEvent{
					Type: EventTypeText,
					Text: d.Text,
				}
			case anthropic.InputJSONDelta:
				inputBuffer += d.PartialJSON
			}

		case "content_block_stop":
			if currentToolID != "" {
				input := json.RawMessage(inputBuffer)
				if inputBuffer == "" || !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				events <- StreamEvent{
					Type: EventTypeToolCall,
					ToolCall: &ToolCall{
						ID:    currentToolID,
						Name:  currentToolName,
						Input: input,
					},
				}
				currentToolID = ""
				currentToolName = ""
				inputBuffer = ""
			}

		case "message_stop":
			events <- StreamEvent{Type: EventTypeDone}
			return

		case "error":
			events <- StreamEvent{
				Type:  EventTypeError,
				Error: fmt.Errorf("anthropic: stream error: %s", event.RawJSON()),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		anthropicLog.Warnf("stream error: %v", err)
		events <- StreamEvent{
			Type:  EventTypeError,
			Error: fmt.Errorf("anthropic: %w", err),
		}
		return
	}

	events <- StreamEvent{Type: EventTypeDone}
}
