package runner

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/neboloop/bingus/internal/agent/ai"
)

// Token estimation constant
const CharsPerTokenEstimate = 4

// PruningConfig bounds how much old tool output is sent to the model.
type PruningConfig struct {
	ContextTokens        int     // model context budget in tokens
	SoftTrimRatio        float64 // start soft trimming above this share of the budget
	HardClearRatio       float64 // start hard clearing above this share
	KeepLastAssistant    int     // turns at the tail that are never pruned
	SoftTrimMaxChars     int     // results longer than this get trimmed
	SoftTrimHead         int
	SoftTrimTail         int
	HardClearPlaceholder string
}

// DefaultPruningConfig returns the pruning settings used when none are configured.
func DefaultPruningConfig() PruningConfig {
	return PruningConfig{
		ContextTokens:        128000,
		SoftTrimRatio:        0.3,
		HardClearRatio:       0.5,
		KeepLastAssistant:    3,
		SoftTrimMaxChars:     4000,
		SoftTrimHead:         1500,
		SoftTrimTail:         1500,
		HardClearPlaceholder: "[Old tool result cleared]",
	}
}

func (c PruningConfig) withDefaults() PruningConfig {
	d := DefaultPruningConfig()
	if c.ContextTokens <= 0 {
		c.ContextTokens = d.ContextTokens
	}
	if c.SoftTrimRatio <= 0 {
		c.SoftTrimRatio = d.SoftTrimRatio
	}
	if c.HardClearRatio <= 0 {
		c.HardClearRatio = d.HardClearRatio
	}
	if c.KeepLastAssistant <= 0 {
		c.KeepLastAssistant = d.KeepLastAssistant
	}
	if c.SoftTrimMaxChars <= 0 {
		c.SoftTrimMaxChars = d.SoftTrimMaxChars
	}
	if c.SoftTrimHead <= 0 {
		c.SoftTrimHead = d.SoftTrimHead
	}
	if c.SoftTrimTail <= 0 {
		c.SoftTrimTail = d.SoftTrimTail
	}
	if c.HardClearPlaceholder == "" {
		c.HardClearPlaceholder = d.HardClearPlaceholder
	}
	return c
}

// pruneContext applies two-stage pruning to the projected context. The log
// itself is never touched; only the copy sent to the model shrinks.
//
// Stage 1 (soft trim): when estimated chars exceed SoftTrimRatio of the char budget,
// trim unprotected tool results to head + "..." + tail.
//
// Stage 2 (hard clear): when estimated chars still exceed HardClearRatio,
// replace unprotected tool results entirely with a short placeholder.
func pruneContext(messages []ai.Message, cfg PruningConfig) []ai.Message {
	if len(messages) == 0 {
		return messages
	}

	charBudget := cfg.ContextTokens * CharsPerTokenEstimate

	totalChars := 0
	for i := range messages {
		totalChars += estimateMessageChars(&messages[i])
	}

	softThreshold := int(float64(charBudget) * cfg.SoftTrimRatio)
	hardThreshold := int(float64(charBudget) * cfg.HardClearRatio)

	if totalChars <= softThreshold {
		return messages
	}

	toolCallIndex := buildToolCallIndex(messages)
	cutoff := protectedFrom(messages, cfg.KeepLastAssistant)

	result := make([]ai.Message, len(messages))
	copy(result, messages)

	softCount := 0
	for i := 0; i < cutoff; i++ {
		msg := &result[i]
		if msg.Role != ai.RoleTool || len(msg.Content) <= cfg.SoftTrimMaxChars {
			continue
		}
		if cfg.SoftTrimHead+cfg.SoftTrimTail >= len(msg.Content) {
			continue
		}
		oldLen := len(msg.Content)
		head := headBytes(msg.Content, cfg.SoftTrimHead)
		tail := tailBytes(msg.Content, cfg.SoftTrimTail)
		msg.Content = resultHeader(msg, toolCallIndex) + "\n" + head + "\n...\n" + tail
		totalChars -= oldLen - len(msg.Content)
		softCount++
	}
	if softCount > 0 {
		runnerLog.Debugf("soft-trimmed %d tool results (total chars: %d, budget: %d)", softCount, totalChars, charBudget)
	}

	if totalChars <= hardThreshold {
		return result
	}

	hardCount := 0
	for i := 0; i < cutoff; i++ {
		msg := &result[i]
		if msg.Role != ai.RoleTool || len(msg.Content) <= 200 {
			continue
		}
		if strings.Contains(msg.Content, cfg.HardClearPlaceholder) {
			continue
		}
		oldLen := len(msg.Content)
		msg.Content = resultHeader(msg, toolCallIndex) + "\n" + cfg.HardClearPlaceholder
		totalChars -= oldLen - len(msg.Content)
		hardCount++
	}
	if hardCount > 0 {
		runnerLog.Debugf("hard-cleared %d tool results (total chars: %d, budget: %d)", hardCount, totalChars, charBudget)
	}
	return result
}

// protectedFrom returns the index from which every message is kept intact:
// the Nth assistant message from the end, with everything after it.
func protectedFrom(messages []ai.Message, keepLastAssistant int) int {
	assistantCount := 0
	cutoff := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ai.RoleAssistant {
			assistantCount++
			cutoff = i
			if assistantCount >= keepLastAssistant {
				break
			}
		}
	}
	return cutoff
}

func resultHeader(msg *ai.Message, index map[string]string) string {
	status := "succeeded"
	if strings.HasPrefix(msg.Content, toolErrorPrefix) {
		status = "failed"
	}
	if info, ok := index[msg.ToolCallID]; ok {
		return "[" + info + ": " + status + "]"
	}
	return "[" + status + "]"
}

// estimateMessageChars estimates the character count of a message including
// content and tool call arguments.
func estimateMessageChars(msg *ai.Message) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	return chars
}

// buildToolCallIndex maps tool call IDs to a short summary such as
// "query_events(since: 7d, type: meal)".
func buildToolCallIndex(messages []ai.Message) map[string]string {
	index := make(map[string]string)
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			index[tc.ID] = summarizeCall(tc)
		}
	}
	return index
}

func summarizeCall(tc ai.ToolCall) string {
	var input map[string]any
	if json.Unmarshal(tc.Input, &input) != nil || len(input) == 0 {
		return tc.Name
	}
	keys := make([]string, 0, len(input))
	for k, v := range input {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := input[k].(string)
		if len(v) > 40 {
			v = headBytes(v, 40) + "..."
		}
		parts = append(parts, k+": "+v)
	}
	return tc.Name + "(" + strings.Join(parts, ", ") + ")"
}
