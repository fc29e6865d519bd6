package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/journal"
)

// LogEventTool records a life event in the journal.
type LogEventTool struct {
	journal *journal.Store
}

// NewLogEventTool creates the log_event tool
func NewLogEventTool(j *journal.Store) *LogEventTool {
	return &LogEventTool{journal: j}
}

func (t *LogEventTool) Name() string { return "log_event" }

func (t *LogEventTool) Description() string {
	return "Log a life event, activity, meal, or notable occurrence."
}

func (t *LogEventTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"type": {
				"type": "string",
				"description": "Category: meal, exercise, social, mood, health, work, sleep, hobby, errand, etc."
			},
			"content": {
				"type": "string",
				"description": "A concise sentence of what happened"
			},
			"tags": {
				"type": "string",
				"description": "Optional comma-separated tags"
			}
		},
		"required": ["type", "content"]
	}`)
}

type logEventInput struct {
	Type    string     `json:"type"`
	Content string     `json:"content"`
	Tags    stringList `json:"tags"`
}

func (t *LogEventTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params logEventInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	if _, err := t.journal.Append(ctx, params.Type, params.Content, params.Tags); err != nil {
		return nil, err
	}
	return &ToolResult{Content: "Logged to events"}, nil
}

// QueryEventsTool searches the journal.
type QueryEventsTool struct {
	journal *journal.Store
	clock   clock.Clock
}

// NewQueryEventsTool creates the query_events tool
func NewQueryEventsTool(j *journal.Store, c clock.Clock) *QueryEventsTool {
	if c == nil {
		c = clock.Real()
	}
	return &QueryEventsTool{journal: j, clock: c}
}

func (t *QueryEventsTool) Name() string { return "query_events" }

func (t *QueryEventsTool) Description() string {
	return "Query logged events. Returns a JSON array, oldest first."
}

func (t *QueryEventsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"since": {
				"type": "string",
				"description": "Time range like '24h', '7d', '30d', or ISO 8601 (default '24h')"
			},
			"text": {
				"type": "string",
				"description": "Case-insensitive substring search"
			},
			"type": {
				"type": "string",
				"description": "Filter by category"
			},
			"tags": {
				"type": "string",
				"description": "Comma-separated tags; events must have all of them"
			},
			"limit": {
				"type": "integer",
				"description": "Max results, most recent kept (default 50)"
			}
		}
	}`)
}

type queryEventsInput struct {
	Since string     `json:"since"`
	Text  string     `json:"text"`
	Type  string     `json:"type"`
	Tags  stringList `json:"tags"`
	Limit flexInt    `json:"limit"`
}

func (t *QueryEventsTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params queryEventsInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	since, err := parseSince(params.Since, t.clock.Now())
	if err != nil {
		return nil, err
	}

	events, err := t.journal.Query(ctx, journal.Query{
		Since: since,
		Type:  params.Type,
		Text:  params.Text,
		Tags:  params.Tags,
		Limit: int(params.Limit),
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []journal.Event{}
	}
	out, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}
	return &ToolResult{Content: string(out)}, nil
}
