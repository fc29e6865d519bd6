package runner

import (
	"time"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/inbox"
)

// DefaultTimezone is used for time markers when none is configured.
const DefaultTimezone = "Europe/London"

const timeMarkerLayout = "Mon 2 Jan, 15:04"

// FormatTimeMarker renders a unix-ms timestamp the way user and system
// messages are stamped for the model, e.g. "Tue 3 Mar, 09:05".
func FormatTimeMarker(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(timeMarkerLayout)
}

// BuildContext projects log entries, oldest first, into model messages.
// User and system text carry a time marker so the model can reason about
// gaps in the conversation; system entries are sent with the user role.
// Tool entries whose payload cannot be decoded are skipped.
func BuildContext(entries []inbox.Entry, loc *time.Location) []ai.Message {
	msgs := make([]ai.Message, 0, len(entries))
	for _, e := range entries {
		switch e.Stream {
		case inbox.StreamUser:
			msgs = append(msgs, ai.Message{
				Role:    ai.RoleUser,
				Content: "[" + FormatTimeMarker(e.CreatedAt, loc) + "] " + e.Payload,
			})
		case inbox.StreamSystem:
			msgs = append(msgs, ai.Message{
				Role:    ai.RoleUser,
				Content: "[system @ " + FormatTimeMarker(e.CreatedAt, loc) + "] " + e.Payload,
			})
		case inbox.StreamAssistant:
			msgs = append(msgs, ai.Message{Role: ai.RoleAssistant, Content: e.Payload})
		case inbox.StreamToolCall:
			p, err := e.Decode()
			if err != nil {
				runnerLog.Warnf("skipping tool-call entry %s: %v", e.ID, err)
				continue
			}
			tc := p.(inbox.ToolCalls)
			msg := ai.Message{Role: ai.RoleAssistant}
			if tc.AssistantContent != nil {
				msg.Content = *tc.AssistantContent
			}
			for _, c := range tc.Calls {
				msg.ToolCalls = append(msg.ToolCalls, ai.ToolCall{ID: c.ID, Name: c.Name, Input: c.Args})
			}
			msgs = append(msgs, msg)
		case inbox.StreamToolResult:
			p, err := e.Decode()
			if err != nil {
				runnerLog.Warnf("skipping tool-result entry %s: %v", e.ID, err)
				continue
			}
			tr := p.(inbox.ToolResult)
			msgs = append(msgs, ai.Message{Role: ai.RoleTool, ToolCallID: tr.CallID, Content: tr.Result})
		}
	}
	return msgs
}
