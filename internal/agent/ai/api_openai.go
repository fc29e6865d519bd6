package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/neboloop/bingus/internal/logging"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

var openaiLog = logging.Named("openai")

// OpenAIProvider implements the OpenAI chat completions API using the
// official SDK. Any OpenAI-compatible endpoint (OpenRouter) works through
// a base URL override.
type OpenAIProvider struct {
	client openai.Client
	id     string
	model  string
}

// NewOpenAIProvider creates a provider for api.openai.com
func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	return newOpenAICompatible("openai", apiKey, model, opts...)
}

// NewOpenRouterProvider creates a provider for OpenRouter
func NewOpenRouterProvider(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithBaseURL(OpenRouterBaseURL)}, opts...)
	return newOpenAICompatible("openrouter", apiKey, model, opts...)
}

func newOpenAICompatible(id, apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		id:     id,
		model:  model,
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Stream sends a request and returns streaming events
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: p.buildMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema, err := parseSchema(tool)
			if err != nil {
				openaiLog.Warnf("%v", err)
				continue
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  shared.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
	}

	openaiLog.Debugf("sending request: provider=%s model=%s messages=%d tools=%d",
		p.id, model, len(params.Messages), len(req.Tools))

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(stream, events)

	return events, nil
}

// buildMessages converts conversation messages to OpenAI format
func (p *OpenAIProvider) buildMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	called, answered := toolPairs(req.Messages)

	var result []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			result = append(result, openai.UserMessage(msg.Content))

		case RoleAssistant:
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for _, tc := range msg.ToolCalls {
				if !answered[tc.ID] {
					openaiLog.Debugf("skipping tool_call without response: %s", tc.ID)
					continue
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}

			if msg.Content == "" && len(toolCalls) == 0 {
				continue
			}
			assistantMsg := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			if len(toolCalls) > 0 {
				assistantMsg.ToolCalls = toolCalls
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &assistantMsg,
			})

		case RoleTool:
			if !called[msg.ToolCallID] {
				openaiLog.Debugf("skipping orphaned tool result: %s", msg.ToolCallID)
				continue
			}
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	return result
}

// handleStream processes the streaming response. Tool calls are emitted
// once the stream ends, from the accumulated message, so argument
// fragments are always complete.
func (p *OpenAIProvider) handleStream(stream *ssestream.Stream[openai.ChatCompletionChunk], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			events <- StreamEvent{
				Type: EventTypeText,
				Text: chunk.Choices[0].Delta.Content,
			}
		}
	}

	if err := stream.Err(); err != nil {
		openaiLog.Warnf("stream error: %v", err)
		events <- StreamEvent{
			Type:  EventTypeError,
			Error: fmt.Errorf("%s: %w", p.id, err),
		}
		return
	}

	if len(acc.Choices) > 0 {
		for _, tc := range acc.Choices[0].Message.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage("{}")
			}
			events <- StreamEvent{
				Type: EventTypeToolCall,
				ToolCall: &ToolCall{
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				},
			}
		}
	}

	events <- StreamEvent{Type: EventTypeDone}
}
