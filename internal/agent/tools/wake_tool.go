package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/bingus/internal/clock"
	"github.com/neboloop/bingus/internal/daemon"
)

// Wake horizon bounds.
const (
	DefaultMinWakeDelay = time.Minute
	DefaultMaxWakeDelay = 7 * 24 * time.Hour
)

// WakeHorizon bounds how far ahead schedule_wake may aim.
type WakeHorizon struct {
	Min time.Duration
	Max time.Duration
}

// ScheduleWakeTool writes the single pending self-wake. A new schedule
// replaces any earlier one.
type ScheduleWakeTool struct {
	store   daemon.ScheduleStore
	clock   clock.Clock
	horizon WakeHorizon
	// onChange runs after the store is written, so the scheduler can re-arm
	// without waiting for the file watcher.
	onChange func()
}

// NewScheduleWakeTool creates the schedule_wake tool
func NewScheduleWakeTool(store daemon.ScheduleStore, c clock.Clock, horizon WakeHorizon, onChange func()) *ScheduleWakeTool {
	if c == nil {
		c = clock.Real()
	}
	if horizon.Min <= 0 {
		horizon.Min = DefaultMinWakeDelay
	}
	if horizon.Max <= 0 {
		horizon.Max = DefaultMaxWakeDelay
	}
	return &ScheduleWakeTool{store: store, clock: c, horizon: horizon, onChange: onChange}
}

func (t *ScheduleWakeTool) Name() string { return "schedule_wake" }

func (t *ScheduleWakeTool) Description() string {
	return "Schedule a single future wake-up for yourself. Replaces any existing wake. " +
		"Give either an ISO 8601 time or a 5-field cron expression (the next occurrence is used)."
}

func (t *ScheduleWakeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"time": {
				"type": "string",
				"description": "ISO 8601 timestamp, e.g. 2026-03-01T09:00:00Z"
			},
			"cron": {
				"type": "string",
				"description": "5-field cron expression, e.g. '0 9 * * 1' for next Monday 09:00 UTC"
			},
			"reason": {
				"type": "string",
				"description": "Why you want to wake up; you will see it when the wake fires"
			}
		},
		"required": ["reason"]
	}`)
}

type scheduleWakeInput struct {
	Time   string `json:"time"`
	Cron   string `json:"cron"`
	Reason string `json:"reason"`
}

func (t *ScheduleWakeTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params scheduleWakeInput
	if err := decodeArgs(input, &params); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		return nil, errors.New("reason is required")
	}

	now := t.clock.Now()
	fireAt, err := t.resolve(params, now)
	if err != nil {
		return nil, err
	}

	delay := fireAt.Sub(now)
	if delay < t.horizon.Min {
		return nil, fmt.Errorf("wake time must be at least %s in the future (got %ds)", humanDuration(t.horizon.Min), int64(delay.Seconds()))
	}
	if delay > t.horizon.Max {
		return nil, fmt.Errorf("wake time must be at most %s in the future (got %dh)", humanDuration(t.horizon.Max), int64(delay.Hours()))
	}

	if err := t.store.Write(daemon.Schedule{FireAt: fireAt.UTC(), Reason: reason}); err != nil {
		return nil, fmt.Errorf("failed to save wake: %w", err)
	}
	if t.onChange != nil {
		t.onChange()
	}
	return &ToolResult{Content: fmt.Sprintf("Wake scheduled for %s: %s", formatUTC(fireAt), reason)}, nil
}

func (t *ScheduleWakeTool) resolve(params scheduleWakeInput, now time.Time) (time.Time, error) {
	switch {
	case params.Time != "" && params.Cron != "":
		return time.Time{}, errors.New("give either time or cron, not both")
	case params.Cron != "":
		sched, err := cronlib.ParseStandard(params.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", params.Cron, err)
		}
		next := sched.Next(now.UTC())
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", params.Cron)
		}
		return next, nil
	case params.Time != "":
		return parseWakeTime(params.Time)
	default:
		return time.Time{}, errors.New("time or cron is required")
	}
}

// wakeTimeLayouts are tried in order. Models often drop the seconds.
var wakeTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}

func parseWakeTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range wakeTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use ISO 8601, e.g. 2026-03-01T09:00:00Z", value)
}

// humanDuration renders the horizon bounds the way error messages quote them.
func humanDuration(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// CancelWakeTool clears the pending self-wake.
type CancelWakeTool struct {
	store    daemon.ScheduleStore
	onChange func()
}

// NewCancelWakeTool creates the cancel_wake tool
func NewCancelWakeTool(store daemon.ScheduleStore, onChange func()) *CancelWakeTool {
	return &CancelWakeTool{store: store, onChange: onChange}
}

func (t *CancelWakeTool) Name() string { return "cancel_wake" }

func (t *CancelWakeTool) Description() string {
	return "Cancel the pending scheduled wake, if any."
}

func (t *CancelWakeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CancelWakeTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	existing, err := t.store.Read()
	if err != nil {
		existing = nil
	}
	if err := t.store.Clear(); err != nil {
		return nil, fmt.Errorf("failed to cancel wake: %w", err)
	}
	if t.onChange != nil {
		t.onChange()
	}
	if existing == nil {
		return &ToolResult{Content: "No wake was scheduled"}, nil
	}
	return &ToolResult{Content: fmt.Sprintf("Cancelled wake for %s: %s", formatUTC(existing.FireAt), existing.Reason)}, nil
}
