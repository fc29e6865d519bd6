package tools

import (
	"fmt"
	"strings"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/daemon"
	"github.com/neboloop/bingus/internal/journal"
)

// BuiltinConfig carries what the built-in tools need.
type BuiltinConfig struct {
	Journal  *journal.Store
	Schedule daemon.ScheduleStore
	Clock    clock.Clock
	Horizon  WakeHorizon
	// OnScheduleChange runs after schedule_wake or cancel_wake touch the store.
	OnScheduleChange func()
}

// RegisterBuiltins registers every built-in tool. Journal tools are skipped
// when no journal is configured, wake tools when no schedule store is.
func (r *Registry) RegisterBuiltins(cfg BuiltinConfig) {
	r.Register(NewCurrentTimeTool(cfg.Clock))
	if cfg.Journal != nil {
		r.Register(NewLogEventTool(cfg.Journal))
		r.Register(NewQueryEventsTool(cfg.Journal, cfg.Clock))
	}
	if cfg.Schedule != nil {
		r.Register(NewScheduleWakeTool(cfg.Schedule, cfg.Clock, cfg.Horizon, cfg.OnScheduleChange))
		r.Register(NewCancelWakeTool(cfg.Schedule, cfg.OnScheduleChange))
	}
}

// Prompt describes the registered tools for the system prompt.
func (r *Registry) Prompt() string {
	defs := r.List()
	if len(defs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tools\n\nYou can call these tools:\n")
	for _, def := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
	}
	sb.WriteString("\nWhen a tool returns an error, the result starts with \"error:\". " +
		"Read it and decide whether to retry with different arguments.")
	return sb.String()
}
