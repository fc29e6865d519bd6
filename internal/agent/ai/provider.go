package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText     StreamEventType = "text"
	EventTypeToolCall StreamEventType = "tool_call"
	EventTypeError    StreamEventType = "error"
	EventTypeDone     StreamEventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Error    error           `json:"error,omitempty"`
}

// ToolCall represents a tool invocation from the AI
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDefinition describes a tool available to the AI
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one provider-neutral conversation message. Assistant messages
// may carry ToolCalls; tool messages answer exactly one call via ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest represents a request to the AI provider
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	System      string           `json:"system,omitempty"`
	Model       string           `json:"model,omitempty"` // Model override
}

// Provider interface for AI providers
type Provider interface {
	// ID returns the provider identifier (e.g., "anthropic", "openai")
	ID() string

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed after a done or error event.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// CompletionKind distinguishes a final reply from a tool round.
type CompletionKind string

const (
	CompletionText      CompletionKind = "text"
	CompletionToolCalls CompletionKind = "tool_calls"
)

// Completion is the collected result of one model call. For tool rounds,
// Content holds any text the model produced alongside the calls.
type Completion struct {
	Kind    CompletionKind `json:"type"`
	Content string         `json:"content"`
	Calls   []ToolCall     `json:"calls,omitempty"`
}

// ErrEmptyStream is returned when a provider closes its stream without a
// done event.
var ErrEmptyStream = errors.New("provider stream ended unexpectedly")

// Complete runs one request against p and collects the streamed events
// into a single Completion.
func Complete(ctx context.Context, p Provider, req *ChatRequest) (*Completion, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		text  strings.Builder
		calls []ToolCall
		done  bool
	)
	for ev := range events {
		switch ev.Type {
		case EventTypeText:
			text.WriteString(ev.Text)
		case EventTypeToolCall:
			if ev.ToolCall != nil {
				tc := *ev.ToolCall
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage("{}")
				}
				calls = append(calls, tc)
			}
		case EventTypeError:
			// Drain so the producer goroutine can exit.
			for range events {
			}
			if ev.Error == nil {
				return nil, fmt.Errorf("%s: unknown stream error", p.ID())
			}
			return nil, ev.Error
		case EventTypeDone:
			done = true
		}
	}
	if !done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrEmptyStream
	}

	if len(calls) > 0 {
		return &Completion{Kind: CompletionToolCalls, Content: text.String(), Calls: calls}, nil
	}
	return &Completion{Kind: CompletionText, Content: text.String()}, nil
}

// toolPairs returns the IDs of every tool call issued by an assistant
// message and every call ID answered by a tool message. Providers reject
// unanswered calls and orphaned results, so both sides are filtered.
func toolPairs(msgs []Message) (called, answered map[string]bool) {
	called = make(map[string]bool)
	answered = make(map[string]bool)
	for _, msg := range msgs {
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				called[tc.ID] = true
			}
		case RoleTool:
			answered[msg.ToolCallID] = true
		}
	}
	return called, answered
}

// parseSchema decodes a tool's JSON schema.
func parseSchema(tool ToolDefinition) (map[string]any, error) {
	var schema map[string]any
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse tool schema for %s: %w", tool.Name, err)
	}
	return schema, nil
}
