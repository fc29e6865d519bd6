package runner

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/bingus/internal/agent/ai"
)

func smallPruningConfig() PruningConfig {
	cfg := DefaultPruningConfig()
	cfg.ContextTokens = 1000 // 4000 char budget, soft at 1200, hard at 2000
	cfg.KeepLastAssistant = 1
	cfg.SoftTrimMaxChars = 100
	cfg.SoftTrimHead = 20
	cfg.SoftTrimTail = 20
	return cfg
}

func toolRound(id, name, input, result string) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: id, Name: name, Input: json.RawMessage(input)}}},
		{Role: ai.RoleTool, ToolCallID: id, Content: result},
	}
}

func TestPruneContextNoOpUnderThreshold(t *testing.T) {
	messages := []ai.Message{
		{Role: ai.RoleUser, Content: "hello"},
		{Role: ai.RoleAssistant, Content: "hi there"},
	}
	result := pruneContext(messages, DefaultPruningConfig())
	assert.Equal(t, messages, result)
}

func TestPruneContextSoftTrimsOldResults(t *testing.T) {
	big := strings.Repeat("x", 1500)
	messages := toolRound("c1", "query_events", `{"since":"30d","type":"meal"}`, big)
	messages = append(messages,
		ai.Message{Role: ai.RoleUser, Content: "what did I eat?"},
		ai.Message{Role: ai.RoleAssistant, Content: "porridge"},
	)

	result := pruneContext(messages, smallPruningConfig())

	got := result[1].Content
	assert.Less(t, len(got), len(big))
	assert.Contains(t, got, "query_events(since: 30d, type: meal): succeeded")
	assert.Contains(t, got, "\n...\n")
	// The caller's slice is untouched.
	assert.Equal(t, big, messages[1].Content)
}

func TestPruneContextHardClearsWhenStillOverBudget(t *testing.T) {
	cfg := smallPruningConfig()
	cfg.ContextTokens = 100 // 400 char budget, hard at 200
	cfg.SoftTrimHead = 500
	cfg.SoftTrimTail = 500

	big := strings.Repeat("y", 3000)
	var messages []ai.Message
	messages = append(messages, toolRound("c1", "query_events", `{"text":"run"}`, big)...)
	messages = append(messages, toolRound("c2", "query_events", `{"text":"swim"}`, big)...)
	messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: "done"})

	result := pruneContext(messages, cfg)
	for _, i := range []int{1, 3} {
		assert.Contains(t, result[i].Content, cfg.HardClearPlaceholder)
		assert.Contains(t, result[i].Content, "query_events(text:")
	}
}

func TestPruneContextProtectsRecentTurns(t *testing.T) {
	big := strings.Repeat("z", 5000)
	var messages []ai.Message
	messages = append(messages, toolRound("old", "query_events", `{}`, big)...)
	messages = append(messages, toolRound("new", "query_events", `{}`, big)...)

	result := pruneContext(messages, smallPruningConfig())
	assert.Less(t, len(result[1].Content), len(big))
	assert.Equal(t, big, result[3].Content)
}

func TestPruneContextMarksFailedResults(t *testing.T) {
	messages := toolRound("c1", "schedule_wake", `{"time":"soon"}`, toolErrorPrefix+strings.Repeat("bad ", 500))
	messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: "sorry"})

	result := pruneContext(messages, smallPruningConfig())
	assert.Contains(t, result[1].Content, "schedule_wake(time: soon): failed")
}

func TestProtectedFrom(t *testing.T) {
	messages := []ai.Message{
		{Role: ai.RoleUser},      // 0
		{Role: ai.RoleAssistant}, // 1
		{Role: ai.RoleUser},      // 2
		{Role: ai.RoleAssistant}, // 3
		{Role: ai.RoleUser},      // 4
		{Role: ai.RoleAssistant}, // 5
	}
	assert.Equal(t, 3, protectedFrom(messages, 2))
	assert.Equal(t, 1, protectedFrom(messages, 5))
	assert.Equal(t, 1, protectedFrom([]ai.Message{{Role: ai.RoleUser}}, 1))
}

func TestSummarizeCall(t *testing.T) {
	assert.Equal(t, "current_time", summarizeCall(ai.ToolCall{Name: "current_time", Input: json.RawMessage(`{}`)}))
	assert.Equal(t, "log_event(content: ran 5k, type: exercise)",
		summarizeCall(ai.ToolCall{Name: "log_event", Input: json.RawMessage(`{"type":"exercise","content":"ran 5k","n":3}`)}))

	long := summarizeCall(ai.ToolCall{Name: "x", Input: json.RawMessage(`{"a":"` + strings.Repeat("q", 100) + `"}`)})
	require.True(t, strings.HasSuffix(long, "...)"))
}

func TestPruneContextSoftTrimKeepsRunesWhole(t *testing.T) {
	// Two of every three byte offsets fall inside a rune.
	big := strings.Repeat("€", 500)
	messages := toolRound("c1", "query_events", `{"since":"7d"}`, big)
	messages = append(messages,
		ai.Message{Role: ai.RoleUser, Content: "and?"},
		ai.Message{Role: ai.RoleAssistant, Content: "done"},
	)

	result := pruneContext(messages, smallPruningConfig())

	got := result[1].Content
	assert.Contains(t, got, "\n...\n")
	assert.True(t, utf8.ValidString(got))
}

func TestRuneSafeCuts(t *testing.T) {
	s := "aé€😀" // 1, 2, 3 and 4 byte runes
	for n := 0; n <= len(s); n++ {
		head := headBytes(s, n)
		tail := tailBytes(s, n)
		assert.True(t, utf8.ValidString(head), "head %d", n)
		assert.True(t, utf8.ValidString(tail), "tail %d", n)
		assert.LessOrEqual(t, len(head), n)
		assert.LessOrEqual(t, len(tail), n)
		assert.True(t, strings.HasPrefix(s, head))
		assert.True(t, strings.HasSuffix(s, tail))
	}
	assert.Equal(t, "aé", headBytes(s, 4))
	assert.Equal(t, "😀", tailBytes(s, 6))
	assert.Equal(t, "a...", truncate(s, 2))
	assert.Equal(t, s, truncate(s, len(s)))
}

func TestPruneContextEmpty(t *testing.T) {
	assert.Nil(t, pruneContext(nil, DefaultPruningConfig()))
}
