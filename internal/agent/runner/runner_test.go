package runner

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/db"
	"github.com/neboloop/bingus/internal/gate"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// turn is one scripted model response.
type turn struct {
	text  string
	calls []ai.ToolCall
	err   error
	panic string
}

type scriptedProvider struct {
	mu       sync.Mutex
	turns    []turn
	requests []ai.ChatRequest
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, *req)
	if len(p.turns) == 0 {
		p.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	t := p.turns[0]
	p.turns = p.turns[1:]
	p.mu.Unlock()

	if t.panic != "" {
		panic(t.panic)
	}
	if t.err != nil {
		return nil, t.err
	}
	ch := make(chan ai.StreamEvent, len(t.calls)+2)
	if t.text != "" {
		ch <- ai.StreamEvent{Type: ai.EventTypeText, Text: t.text}
	}
	for i := range t.calls {
		ch <- ai.StreamEvent{Type: ai.EventTypeToolCall, ToolCall: &t.calls[i]}
	}
	ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) request(i int) ai.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type fakeTools struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTools) Call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	switch name {
	case "fail":
		return "", errors.New("boom")
	case "explode":
		panic("kaboom")
	}
	return name + " ok: " + string(input), nil
}

type harness struct {
	log      *inbox.Store
	gate     *gate.Gate
	provider *scriptedProvider
	tools    *fakeTools
	events   *lifecycle.Manager

	mu        sync.Mutex
	published []inbox.Entry
	opens     atomic.Int32
	closes    atomic.Int32
}

func newHarness(t *testing.T, turns ...turn) *harness {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "bingus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	log, err := inbox.New(context.Background(), sqlDB)
	require.NoError(t, err)

	h := &harness{
		log:      log,
		provider: &scriptedProvider{turns: turns},
		tools:    &fakeTools{},
		events:   lifecycle.NewManager(),
	}
	h.gate = gate.New(
		gate.WithOnOpen(func() { h.opens.Add(1) }),
		gate.WithOnClose(func() { h.closes.Add(1) }),
	)
	r, err := New(Config{
		Log:          log,
		Gate:         h.gate,
		Provider:     h.provider,
		Tools:        h.tools,
		SystemPrompt: "be brief",
		Location:     time.UTC,
		Events:       h.events,
		Publish: func(e inbox.Entry) {
			h.mu.Lock()
			h.published = append(h.published, e)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return h
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	_, err := h.log.Append(context.Background(), inbox.StreamUser, text)
	require.NoError(t, err)
	h.gate.Signal()
}

// waitForEntries waits until the log holds n conversation entries.
func (h *harness) waitForEntries(t *testing.T, n int) []inbox.Entry {
	t.Helper()
	var entries []inbox.Entry
	require.Eventually(t, func() bool {
		var err error
		entries, err = h.log.Read(context.Background(), inbox.ConversationStreams, 0)
		require.NoError(t, err)
		return len(entries) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return entries
}

func (h *harness) publishedPayloads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.published))
	for i, e := range h.published {
		out[i] = e.Payload
	}
	return out
}

func streams(entries []inbox.Entry) []inbox.Stream {
	out := make([]inbox.Stream, len(entries))
	for i, e := range entries {
		out[i] = e.Stream
	}
	return out
}

func TestTextReplyRoundTrip(t *testing.T) {
	h := newHarness(t, turn{text: "hi there"})
	h.say(t, "hello")

	entries := h.waitForEntries(t, 2)
	assert.Equal(t, []inbox.Stream{inbox.StreamUser, inbox.StreamAssistant}, streams(entries))
	assert.Equal(t, "hi there", entries[1].Payload)
	require.Eventually(t, func() bool { return len(h.publishedPayloads()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"hi there"}, h.publishedPayloads())

	req := h.provider.request(0)
	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ai.RoleUser, req.Messages[0].Role)
	assert.Regexp(t, `^\[\w{3} \d{1,2} \w{3}, \d{2}:\d{2}\] hello$`, req.Messages[0].Content)
}

func TestEmptyReplyBecomesPlaceholder(t *testing.T) {
	h := newHarness(t, turn{})
	h.say(t, "hello")

	entries := h.waitForEntries(t, 2)
	assert.Equal(t, noResponseText, entries[1].Payload)
}

func TestToolRoundThenReply(t *testing.T) {
	h := newHarness(t,
		turn{text: "checking", calls: []ai.ToolCall{
			{ID: "c1", Name: "current_time", Input: json.RawMessage(`{}`)},
			{ID: "c2", Name: "fail", Input: json.RawMessage(`{"x":1}`)},
			{ID: "c3", Name: "explode"},
		}},
		turn{text: "all done"},
	)
	h.say(t, "what time is it?")

	entries := h.waitForEntries(t, 6)
	assert.Equal(t, []inbox.Stream{
		inbox.StreamUser,
		inbox.StreamToolCall,
		inbox.StreamToolResult,
		inbox.StreamToolResult,
		inbox.StreamToolResult,
		inbox.StreamAssistant,
	}, streams(entries))

	p, err := entries[1].Decode()
	require.NoError(t, err)
	calls := p.(inbox.ToolCalls)
	require.NotNil(t, calls.AssistantContent)
	assert.Equal(t, "checking", *calls.AssistantContent)
	require.Len(t, calls.Calls, 3)
	assert.JSONEq(t, `{}`, string(calls.Calls[2].Args))

	var results []inbox.ToolResult
	for _, e := range entries[2:5] {
		p, err := e.Decode()
		require.NoError(t, err)
		results = append(results, p.(inbox.ToolResult))
	}
	assert.Equal(t, "c1", results[0].CallID)
	assert.Equal(t, "current_time ok: {}", results[0].Result)
	assert.Equal(t, "error: boom", results[1].Result)
	assert.Equal(t, "error: panic: kaboom", results[2].Result)
	assert.Equal(t, "all done", entries[5].Payload)

	// The second request carries the tool round.
	req := h.provider.request(1)
	require.Len(t, req.Messages, 5)
	assert.Equal(t, ai.RoleAssistant, req.Messages[1].Role)
	assert.Len(t, req.Messages[1].ToolCalls, 3)
	assert.Equal(t, ai.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "c1", req.Messages[2].ToolCallID)

	// Only the final reply is published, and the gate stayed open across rounds.
	require.Eventually(t, func() bool { return h.closes.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"all done"}, h.publishedPayloads())
	assert.Equal(t, int32(1), h.opens.Load())
}

func TestProviderErrorIsRecordedAsReply(t *testing.T) {
	h := newHarness(t, turn{err: errors.New("rate limited")})
	var runErrs atomic.Int32
	h.events.On(lifecycle.EventAgentRunError, func(lifecycle.Event, any) { runErrs.Add(1) })
	h.say(t, "hello")

	entries := h.waitForEntries(t, 2)
	assert.Equal(t, "(error: rate limited)", entries[1].Payload)
	require.Eventually(t, func() bool { return runErrs.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"(error: rate limited)"}, h.publishedPayloads())
}

func TestProviderPanicIsRecovered(t *testing.T) {
	h := newHarness(t, turn{panic: "nil map"}, turn{text: "recovered"})
	h.say(t, "first")
	entries := h.waitForEntries(t, 2)
	assert.Equal(t, "(error: panic: nil map)", entries[1].Payload)

	// The loop keeps serving.
	h.say(t, "second")
	entries = h.waitForEntries(t, 4)
	assert.Equal(t, "recovered", entries[3].Payload)
}

func TestReplySeesEveryMessageBeforeTheSignal(t *testing.T) {
	h := newHarness(t, turn{text: "got both"})
	_, err := h.log.Append(context.Background(), inbox.StreamUser, "one")
	require.NoError(t, err)
	_, err = h.log.Append(context.Background(), inbox.StreamUser, "two")
	require.NoError(t, err)
	h.gate.Signal()

	entries := h.waitForEntries(t, 3)
	assert.Equal(t, "got both", entries[2].Payload)
	require.Len(t, h.provider.request(0).Messages, 2)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
