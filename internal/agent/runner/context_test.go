package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/inbox"
)

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation("")
	require.NoError(t, err)
	return loc
}

func TestFormatTimeMarker(t *testing.T) {
	loc := london(t)
	winter := time.Date(2026, 3, 3, 9, 5, 0, 0, time.UTC).UnixMilli()
	summer := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, "Tue 3 Mar, 09:05", FormatTimeMarker(winter, loc))
	assert.Equal(t, "Wed 1 Jul, 13:00", FormatTimeMarker(summer, loc))
	assert.Equal(t, "Wed 1 Jul, 12:00", FormatTimeMarker(summer, nil))
}

func TestBuildContextProjectsEveryStream(t *testing.T) {
	at := time.Date(2026, 3, 3, 9, 5, 0, 0, time.UTC).UnixMilli()
	entries := []inbox.Entry{
		{ID: "1", Stream: inbox.StreamUser, Payload: "hello", CreatedAt: at},
		{ID: "2", Stream: inbox.StreamToolCall, Payload: `{"assistantContent":null,"calls":[{"id":"c1","name":"current_time","args":{}}]}`, CreatedAt: at + 1},
		{ID: "3", Stream: inbox.StreamToolResult, Payload: `{"callId":"c1","result":"2026-03-03 09:05:00 UTC"}`, CreatedAt: at + 2},
		{ID: "4", Stream: inbox.StreamAssistant, Payload: "It is 9:05.", CreatedAt: at + 3},
		{ID: "5", Stream: inbox.StreamSystem, Payload: "⏰ Wake: stretch", CreatedAt: at + 4},
	}

	msgs := BuildContext(entries, london(t))
	require.Len(t, msgs, 5)

	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: "[Tue 3 Mar, 09:05] hello"}, msgs[0])

	assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
	assert.Empty(t, msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "current_time", msgs[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{}`, string(msgs[1].ToolCalls[0].Input))

	assert.Equal(t, ai.Message{Role: ai.RoleTool, ToolCallID: "c1", Content: "2026-03-03 09:05:00 UTC"}, msgs[2])
	assert.Equal(t, ai.Message{Role: ai.RoleAssistant, Content: "It is 9:05."}, msgs[3])
	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: "[system @ Tue 3 Mar, 09:05] ⏰ Wake: stretch"}, msgs[4])
}

func TestBuildContextKeepsAssistantContentWithCalls(t *testing.T) {
	entries := []inbox.Entry{
		{ID: "1", Stream: inbox.StreamToolCall, Payload: `{"assistantContent":"let me check","calls":[{"id":"c1","name":"query_events","args":{"since":"7d"}}]}`},
	}
	msgs := BuildContext(entries, time.UTC)
	require.Len(t, msgs, 1)
	assert.Equal(t, "let me check", msgs[0].Content)
	assert.JSONEq(t, `{"since":"7d"}`, string(msgs[0].ToolCalls[0].Input))
}

func TestBuildContextSkipsMalformedToolEntries(t *testing.T) {
	entries := []inbox.Entry{
		{ID: "1", Stream: inbox.StreamUser, Payload: "hi"},
		{ID: "2", Stream: inbox.StreamToolCall, Payload: "not json"},
		{ID: "3", Stream: inbox.StreamToolResult, Payload: "{"},
		{ID: "4", Stream: inbox.StreamAssistant, Payload: "hello"},
	}
	msgs := BuildContext(entries, time.UTC)
	require.Len(t, msgs, 2)
	assert.Equal(t, ai.RoleUser, msgs[0].Role)
	assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Empty(t, BuildContext(nil, time.UTC))
}
