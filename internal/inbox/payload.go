package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayloadMismatch is returned when a payload is encoded for a stream
// that does not carry its kind.
var ErrPayloadMismatch = errors.New("payload kind does not match stream")

// Payload is the decoded form of an entry's payload. The concrete type is
// determined by the entry's stream: Text for user, assistant and system;
// ToolCalls for tool-call; ToolResult for tool-result.
type Payload interface {
	carriedBy(Stream) bool
}

// Text is a plain message body, stored verbatim.
type Text string

func (Text) carriedBy(s Stream) bool {
	return s == StreamUser || s == StreamAssistant || s == StreamSystem
}

// ToolCalls records every call requested in one model turn, plus any
// assistant text that came with them.
type ToolCalls struct {
	AssistantContent *string          `json:"assistantContent"`
	Calls            []ToolCallRecord `json:"calls"`
}

func (ToolCalls) carriedBy(s Stream) bool { return s == StreamToolCall }

// ToolCallRecord is a single requested call. Args is a JSON object.
type ToolCallRecord struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the text a tool produced for one call.
type ToolResult struct {
	CallID string `json:"callId"`
	Result string `json:"result"`
}

func (ToolResult) carriedBy(s Stream) bool { return s == StreamToolResult }

// Encode serializes p for storage on stream.
func Encode(stream Stream, p Payload) (string, error) {
	if p == nil || !p.carriedBy(stream) {
		return "", fmt.Errorf("%w: %T on %s", ErrPayloadMismatch, p, stream)
	}
	switch v := p.(type) {
	case Text:
		return string(v), nil
	case ToolCalls:
		calls := make([]ToolCallRecord, len(v.Calls))
		for i, c := range v.Calls {
			if len(c.Args) == 0 {
				c.Args = json.RawMessage("{}")
			}
			calls[i] = c
		}
		v.Calls = calls
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool calls: %w", err)
		}
		return string(b), nil
	case ToolResult:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%w: %T", ErrPayloadMismatch, p)
}

// Decode parses raw according to stream.
func Decode(stream Stream, raw string) (Payload, error) {
	switch stream {
	case StreamUser, StreamAssistant, StreamSystem:
		return Text(raw), nil
	case StreamToolCall:
		var tc ToolCalls
		if err := json.Unmarshal([]byte(raw), &tc); err != nil {
			return nil, fmt.Errorf("failed to decode tool calls: %w", err)
		}
		return tc, nil
	case StreamToolResult:
		var tr ToolResult
		if err := json.Unmarshal([]byte(raw), &tr); err != nil {
			return nil, fmt.Errorf("failed to decode tool result: %w", err)
		}
		return tr, nil
	}
	return nil, fmt.Errorf("unknown stream %q", stream)
}

// Decode parses the entry's payload.
func (e Entry) Decode() (Payload, error) {
	return Decode(e.Stream, e.Payload)
}
