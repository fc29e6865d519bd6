package svc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/config"
	"github.com/neboloop/bingus/internal/daemon"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/realtime"
)

const testToken = "tok"

// echoProvider replies with the last message it was shown.
type echoProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProvider) ID() string { return "echo" }

func (p *echoProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	last := req.Messages[len(req.Messages)-1].Content
	ch := make(chan ai.StreamEvent, 2)
	ch <- ai.StreamEvent{Type: ai.EventTypeText, Text: "echo: " + last}
	ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	close(ch)
	return ch, nil
}

type fakeConn struct {
	mu     sync.Mutex
	frames []any
}

func (c *fakeConn) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(int, string) {}

func (c *fakeConn) RemoteAddr() string { return "test" }

func (c *fakeConn) messages() []realtime.MessageFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.MessageFrame
	for _, f := range c.frames {
		if m, ok := f.(realtime.MessageFrame); ok {
			out = append(out, m)
		}
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

func newService(t *testing.T) *ServiceContext {
	t.Helper()
	c, err := config.LoadFromBytes([]byte("server:\n  authToken: " + testToken + "\npush:\n  backend: none\n"))
	require.NoError(t, err)

	s, err := NewServiceContext(context.Background(), c, t.TempDir(), Options{
		Provider: &echoProvider{},
		Notifier: nopNotifier{},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestBuiltinToolsAreRegistered(t *testing.T) {
	s := newService(t)
	assert.Equal(t, []string{"cancel_wake", "current_time", "log_event", "query_events", "schedule_wake"}, s.Tools.Names())
}

func TestUserMessageGetsAReply(t *testing.T) {
	s := newService(t)
	conn := &fakeConn{}
	session := s.Manager.Accept(conn)
	s.Manager.Handle(context.Background(), session, []byte(`{"type":"auth","token":"`+testToken+`"}`))
	s.Manager.Handle(context.Background(), session, []byte(`{"type":"message","text":"hello there"}`))

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	msgs := conn.messages()
	assert.Equal(t, realtime.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, realtime.RoleAgent, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "echo: "))
	assert.Contains(t, msgs[1].Content, "hello there")

	entries, err := s.Log.Read(context.Background(), inbox.VisibleStreams, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, inbox.StreamAssistant, entries[1].Stream)
}

func TestDueWakeIsRecordedAndAnswered(t *testing.T) {
	s := newService(t)
	conn := &fakeConn{}
	session := s.Manager.Accept(conn)
	s.Manager.Handle(context.Background(), session, []byte(`{"type":"auth","token":"`+testToken+`"}`))

	require.NoError(t, s.Schedule.Write(daemon.Schedule{FireAt: time.Now().Add(-time.Second), Reason: "check on plants"}))
	s.Wake.Check()

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	msgs := conn.messages()
	assert.Equal(t, realtime.RoleSystem, msgs[0].Role)
	assert.Equal(t, WakePrefix+"check on plants", msgs[0].Content)
	assert.Equal(t, realtime.RoleAgent, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "check on plants")

	sched, err := s.Schedule.Read()
	require.NoError(t, err)
	assert.Nil(t, sched)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newService(t)
	s.Close()
	s.Close()
}
