package tools

import (
	"context"
	"encoding/json"

	"github.com/neboloop/bingus/internal/clock"
)

// CurrentTimeTool reports the current time in UTC.
type CurrentTimeTool struct {
	clock clock.Clock
}

// NewCurrentTimeTool creates the current_time tool
func NewCurrentTimeTool(c clock.Clock) *CurrentTimeTool {
	if c == nil {
		c = clock.Real()
	}
	return &CurrentTimeTool{clock: c}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time."
}

func (t *CurrentTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CurrentTimeTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: formatUTC(t.clock.Now())}, nil
}
