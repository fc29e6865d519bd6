// Package runner drives the responder: it waits on the gate, projects the
// message log into a model request, and either records a reply or runs the
// requested tools and goes round again.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // time markers default to Europe/London
	"unicode/utf8"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/crashlog"
	"github.com/neboloop/bingus/internal/gate"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/lifecycle"
	"github.com/neboloop/bingus/internal/logging"
)

// DefaultContextLimit is how many recent log entries are sent to the model.
const DefaultContextLimit = 200

const (
	noResponseText  = "(no response)"
	toolErrorPrefix = "error: "
)

var runnerLog = logging.Named("runner")

// fatalf handles storage faults. Swapped in tests.
var fatalf = logging.Fatalf

// Log is the part of the message log the responder reads and writes.
type Log interface {
	Append(ctx context.Context, stream inbox.Stream, payload string) (inbox.Entry, error)
	Read(ctx context.Context, streams []inbox.Stream, limit int) ([]inbox.Entry, error)
}

// ToolCaller runs a named tool and returns its text result.
type ToolCaller interface {
	Call(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// Config wires a Runner to its collaborators.
type Config struct {
	Log      Log
	Gate     *gate.Gate
	Provider ai.Provider
	Tools    ToolCaller
	ToolDefs []ai.ToolDefinition

	SystemPrompt string
	Model        string // empty uses the provider's default
	MaxTokens    int

	ContextLimit int            // default: DefaultContextLimit
	Location     *time.Location // time markers; default: Europe/London
	Pruning      PruningConfig

	// Publish receives every assistant entry the runner appends.
	Publish func(inbox.Entry)
	// Events receives run lifecycle events; nil uses the global manager.
	Events *lifecycle.Manager
}

// Runner is the single responder loop.
type Runner struct {
	cfg Config
}

// New creates a runner. Log, Gate and Provider are required.
func New(cfg Config) (*Runner, error) {
	if cfg.Log == nil || cfg.Gate == nil || cfg.Provider == nil {
		return nil, errors.New("runner requires a log, a gate and a provider")
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	if cfg.Location == nil {
		loc, err := LoadLocation("")
		if err != nil {
			return nil, err
		}
		cfg.Location = loc
	}
	cfg.Pruning = cfg.Pruning.withDefaults()
	return &Runner{cfg: cfg}, nil
}

// LoadLocation resolves a timezone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Run loops until ctx is cancelled. Each gate activation produces either
// one reply or one tool round; a tool round re-signals the gate so the
// model sees the results without the gate closing in between.
func (r *Runner) Run(ctx context.Context) error {
	runnerLog.Infof("responder started (provider: %s)", r.cfg.Provider.ID())
	for {
		if err := r.cfg.Gate.Wait(ctx); err != nil {
			runnerLog.Infof("responder stopped: %v", err)
			return err
		}
		r.step(ctx)
	}
}

func (r *Runner) step(ctx context.Context) {
	start := time.Now()
	r.emit(lifecycle.EventAgentRunStart, lifecycle.AgentRunEventData{Provider: r.cfg.Provider.ID()})

	comp, err := r.complete(ctx)
	if err != nil {
		if ctx.Err() != nil {
			runnerLog.Infof("run interrupted: %v", err)
			return
		}
		runnerLog.Errorf("run failed: %v", err)
		r.reply(ctx, fmt.Sprintf("(error: %s)", err))
		r.emit(lifecycle.EventAgentRunError, lifecycle.AgentRunEventData{
			Provider:   r.cfg.Provider.ID(),
			DurationMS: time.Since(start).Milliseconds(),
			Error:      err,
		})
		return
	}

	if comp.Kind == ai.CompletionToolCalls && len(comp.Calls) > 0 {
		r.runTools(ctx, comp)
		r.emit(lifecycle.EventAgentRunComplete, lifecycle.AgentRunEventData{
			Provider:   r.cfg.Provider.ID(),
			ToolCalls:  len(comp.Calls),
			DurationMS: time.Since(start).Milliseconds(),
		})
		r.cfg.Gate.Signal()
		return
	}

	text := comp.Content
	if text == "" {
		text = noResponseText
	}
	r.reply(ctx, text)
	runnerLog.Infof("reply: %s", truncate(text, 100))
	r.emit(lifecycle.EventAgentRunComplete, lifecycle.AgentRunEventData{
		Provider:   r.cfg.Provider.ID(),
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// complete builds the context and calls the model. Panics are turned into
// errors so a bad entry or provider bug cannot kill the loop.
func (r *Runner) complete(ctx context.Context) (comp *ai.Completion, err error) {
	defer func() {
		if p := recover(); p != nil {
			crashlog.LogPanic("runner", p, nil)
			comp, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()

	entries, err := r.cfg.Log.Read(ctx, inbox.ConversationStreams, r.cfg.ContextLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	messages := pruneContext(BuildContext(entries, r.cfg.Location), r.cfg.Pruning)

	return ai.Complete(ctx, r.cfg.Provider, &ai.ChatRequest{
		Messages:  messages,
		Tools:     r.cfg.ToolDefs,
		System:    r.cfg.SystemPrompt,
		Model:     r.cfg.Model,
		MaxTokens: r.cfg.MaxTokens,
	})
}

// runTools records the call batch, then each result in call order.
func (r *Runner) runTools(ctx context.Context, comp *ai.Completion) {
	record := inbox.ToolCalls{Calls: make([]inbox.ToolCallRecord, len(comp.Calls))}
	if comp.Content != "" {
		content := comp.Content
		record.AssistantContent = &content
	}
	for i, c := range comp.Calls {
		record.Calls[i] = inbox.ToolCallRecord{ID: c.ID, Name: c.Name, Args: c.Input}
	}
	r.appendPayload(ctx, inbox.StreamToolCall, record)

	for _, call := range comp.Calls {
		runnerLog.Infof("[tool] %s(%s)", call.Name, call.Input)
		result := r.callTool(ctx, call)
		runnerLog.Infof("[tool] -> %s", truncate(result, 200))
		r.appendPayload(ctx, inbox.StreamToolResult, inbox.ToolResult{CallID: call.ID, Result: result})
	}
}

func (r *Runner) callTool(ctx context.Context, call ai.ToolCall) (result string) {
	if r.cfg.Tools == nil {
		return toolErrorPrefix + "no tools available"
	}
	defer func() {
		if p := recover(); p != nil {
			crashlog.LogPanic("runner", p, map[string]string{"tool": call.Name})
			result = fmt.Sprintf("%spanic: %v", toolErrorPrefix, p)
		}
	}()
	out, err := r.cfg.Tools.Call(ctx, call.Name, call.Input)
	if err != nil {
		return toolErrorPrefix + err.Error()
	}
	return out
}

// reply appends an assistant entry and publishes it.
func (r *Runner) reply(ctx context.Context, text string) {
	entry := r.append(ctx, inbox.StreamAssistant, text)
	if r.cfg.Publish != nil {
		r.cfg.Publish(entry)
	}
}

func (r *Runner) appendPayload(ctx context.Context, stream inbox.Stream, p inbox.Payload) inbox.Entry {
	payload, err := inbox.Encode(stream, p)
	if err != nil {
		fatalf("[runner] %v", err)
		return inbox.Entry{}
	}
	return r.append(ctx, stream, payload)
}

// append writes to the log even if ctx is already cancelled, so a round in
// progress at shutdown is recorded whole.
func (r *Runner) append(ctx context.Context, stream inbox.Stream, payload string) inbox.Entry {
	entry, err := r.cfg.Log.Append(context.WithoutCancel(ctx), stream, payload)
	if err != nil {
		fatalf("[runner] failed to append %s entry: %v", stream, err)
	}
	return entry
}

func (r *Runner) emit(event lifecycle.Event, data lifecycle.AgentRunEventData) {
	if r.cfg.Events != nil {
		r.cfg.Events.Emit(event, data)
		return
	}
	lifecycle.Emit(event, data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return headBytes(s, n) + "..."
}

// headBytes returns at most the first n bytes of s without splitting a rune.
func headBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes returns at most the last n bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
