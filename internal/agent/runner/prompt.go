package runner

import "strings"

// DefaultSystemPrompt is the assistant's base instructions.
const DefaultSystemPrompt = `You are a helpful personal AI assistant. Keep responses concise.
When the user mentions activities, meals, exercise, social events, mood, health, sleep, or other life events, log them using the log_event tool. If the user says "log: ..." always log it. Be judicious: log meaningful events, not every trivial detail. When logging, pick a short descriptive type (meal, exercise, social, mood, health, work, sleep, hobby, errand) and write a concise content string.
You can schedule yourself to wake up later using schedule_wake. Use this when you want to check in, follow up on something, or act on a time-sensitive event. When you wake, you'll receive a system message with the reason you set. Use it to decide what to do.`

const sectionTimeMarkers = `## Message timestamps

User messages start with a timestamp in brackets, e.g. "[Tue 3 Mar, 09:05]". Messages starting with "[system @ ...]" come from the daemon, not the user. Never include these markers in your replies.`

// BuildSystemPrompt joins the base prompt with the time marker note and the
// tool listing. Empty sections are dropped.
func BuildSystemPrompt(base, toolsPrompt string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	sections := []string{strings.TrimSpace(base), sectionTimeMarkers}
	if toolsPrompt = strings.TrimSpace(toolsPrompt); toolsPrompt != "" {
		sections = append(sections, toolsPrompt)
	}
	return strings.Join(sections, "\n\n")
}
