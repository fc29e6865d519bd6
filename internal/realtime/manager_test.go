package realtime

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neboloop/bingus/internal/db"
	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testToken = "s3cret"

type fakeConn struct {
	addr string

	mu       sync.Mutex
	frames   []any
	closed   bool
	code     int
	reason   string
	sendFail bool
}

func (c *fakeConn) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sendFail {
		return ErrClientClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed, c.code, c.reason = true, code, reason
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.frames...)
}

func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

type countingGate struct{ n atomic.Int32 }

func (g *countingGate) Signal() { g.n.Add(1) }

type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *recordingNotifier) Notify(ctx context.Context, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *recordingNotifier) got() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.bodies...)
}

type managerFixture struct {
	m        *Manager
	log      *inbox.Store
	gate     *countingGate
	notifier *recordingNotifier

	userMessages []string
	pushTokens   []string
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "bingus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	log, err := inbox.New(context.Background(), sqlDB)
	require.NoError(t, err)

	f := &managerFixture{log: log, gate: &countingGate{}, notifier: &recordingNotifier{}}
	f.m, err = NewManager(ManagerConfig{
		Token:         testToken,
		Log:           log,
		Gate:          f.gate,
		OnUserMessage: func(text string) { f.userMessages = append(f.userMessages, text) },
		OnPushToken:   func(token string) { f.pushTokens = append(f.pushTokens, token) },
		Notifier:      f.notifier,
		Events:        lifecycle.NewManager(),
	})
	require.NoError(t, err)
	t.Cleanup(f.m.Close)
	return f
}

func (f *managerFixture) handle(s *Session, raw string) {
	f.m.Handle(context.Background(), s, []byte(raw))
}

func (f *managerFixture) connect(t *testing.T, addr string) (*fakeConn, *Session) {
	t.Helper()
	conn := &fakeConn{addr: addr}
	s := f.m.Accept(conn)
	f.handle(s, `{"type":"auth","token":"`+testToken+`"}`)
	require.Equal(t, []any{StatusFrame{Type: FrameAuthOK}}, conn.sent())
	return conn, s
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(ManagerConfig{Log: &inbox.Store{}, Gate: &countingGate{}})
	assert.Error(t, err)
	_, err = NewManager(ManagerConfig{Token: "x"})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	f := newManagerFixture(t)
	conn := &fakeConn{addr: "a"}
	s := f.m.Accept(conn)
	assert.False(t, f.m.IsConnected())

	f.handle(s, `{"type":"auth","token":"s3cret"}`)
	assert.True(t, f.m.IsConnected())
	assert.Equal(t, []any{StatusFrame{Type: FrameAuthOK}}, conn.sent())
}

func TestAuthFailureClosesWith4003(t *testing.T) {
	f := newManagerFixture(t)
	conn := &fakeConn{addr: "a"}
	s := f.m.Accept(conn)

	f.handle(s, `{"type":"auth","token":"wrong"}`)
	assert.Equal(t, []any{StatusFrame{Type: FrameAuthFail}}, conn.sent())
	assert.Equal(t, CloseAuthFailed, conn.closeCode())
	assert.False(t, f.m.IsConnected())
}

func TestFramesBeforeAuthAreIgnored(t *testing.T) {
	f := newManagerFixture(t)
	conn := &fakeConn{addr: "a"}
	s := f.m.Accept(conn)

	f.handle(s, `{"type":"message","text":"sneaky"}`)
	f.handle(s, `{"type":"sync","after":0}`)
	f.handle(s, `{"type":"register_push","deviceToken":"abc"}`)
	f.handle(s, `not json`)

	assert.Empty(t, conn.sent())
	assert.Equal(t, int32(0), f.gate.n.Load())
	assert.Empty(t, f.pushTokens)
	entries, err := f.log.Read(context.Background(), inbox.ConversationStreams, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUserMessageIsStoredEchoedAndSignalled(t *testing.T) {
	f := newManagerFixture(t)
	conn, s := f.connect(t, "a")

	f.handle(s, `{"type":"message","text":"hello"}`)

	entries, err := f.log.Read(context.Background(), inbox.ConversationStreams, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, inbox.StreamUser, entries[0].Stream)
	assert.Equal(t, "hello", entries[0].Payload)

	frames := conn.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, MessageFrame{
		Type:      FrameMessage,
		ID:        entries[0].ID,
		Role:      RoleUser,
		Content:   "hello",
		CreatedAt: entries[0].CreatedAt,
	}, frames[1])
	assert.Equal(t, []string{"hello"}, f.userMessages)
	assert.Equal(t, int32(1), f.gate.n.Load())
}

func TestSyncReturnsVisibleEntriesAfterTimestamp(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	first, err := f.log.Append(ctx, inbox.StreamUser, "one")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, inbox.StreamAssistant, "two")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, inbox.StreamToolResult, `{"callId":"c","result":"hidden"}`)
	require.NoError(t, err)
	_, err = f.log.Append(ctx, inbox.StreamSystem, "three")
	require.NoError(t, err)

	conn, s := f.connect(t, "a")
	f.handle(s, `{"type":"sync","after":`+itoa(first.CreatedAt)+`}`)

	frames := conn.sent()
	require.Len(t, frames, 2)
	resp := frames[1].(SyncResponseFrame)
	assert.Equal(t, FrameSyncResponse, resp.Type)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "two", resp.Messages[0].Content)
	assert.Equal(t, RoleAgent, resp.Messages[0].Role)
	assert.Equal(t, DefaultConversation, resp.Messages[0].ConversationID)
	assert.Equal(t, "three", resp.Messages[1].Content)
	assert.Equal(t, RoleSystem, resp.Messages[1].Role)
}

func TestSyncWithNothingNewSendsEmptyList(t *testing.T) {
	f := newManagerFixture(t)
	conn, s := f.connect(t, "a")
	f.handle(s, `{"type":"sync","after":0}`)

	frames := conn.sent()
	require.Len(t, frames, 2)
	resp := frames[1].(SyncResponseFrame)
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
}

func TestRegisterPush(t *testing.T) {
	f := newManagerFixture(t)
	_, s := f.connect(t, "a")
	f.handle(s, `{"type":"register_push","deviceToken":"abc123"}`)
	assert.Equal(t, []string{"abc123"}, f.pushTokens)
}

func TestAcceptReplacesPreviousSession(t *testing.T) {
	f := newManagerFixture(t)
	oldConn, oldSession := f.connect(t, "old")

	newConn := &fakeConn{addr: "new"}
	newSession := f.m.Accept(newConn)
	assert.Equal(t, CloseReplaced, oldConn.closeCode())
	assert.False(t, f.m.IsConnected(), "the new session must authenticate itself")

	// Frames still arriving on the old session are dropped.
	f.handle(oldSession, `{"type":"message","text":"late"}`)
	assert.Equal(t, int32(0), f.gate.n.Load())

	f.handle(newSession, `{"type":"auth","token":"s3cret"}`)
	assert.True(t, f.m.IsConnected())

	// The old session's disconnect does not clear its successor.
	f.m.Disconnect(oldSession)
	assert.True(t, f.m.IsConnected())

	f.m.Disconnect(newSession)
	assert.False(t, f.m.IsConnected())
	assert.Zero(t, newConn.closeCode())
}

func TestDeliverWhenConnected(t *testing.T) {
	f := newManagerFixture(t)
	conn, _ := f.connect(t, "a")

	entry := inbox.Entry{ID: "e1", Stream: inbox.StreamAssistant, Payload: "reply", CreatedAt: 7}
	f.m.Deliver(entry)
	f.m.DeliverSystem(inbox.Entry{ID: "e2", Stream: inbox.StreamSystem, Payload: "⏰ Wake: x", CreatedAt: 8})

	frames := conn.sent()
	require.Len(t, frames, 3)
	assert.Equal(t, MessageFrame{Type: FrameMessage, ID: "e1", Role: RoleAgent, Content: "reply", CreatedAt: 7}, frames[1])
	assert.Equal(t, RoleSystem, frames[2].(MessageFrame).Role)

	f.m.Close()
	assert.Empty(t, f.notifier.got())
}

func TestDeliverWhileDisconnectedPushes(t *testing.T) {
	f := newManagerFixture(t)
	f.m.Deliver(inbox.Entry{ID: "e1", Stream: inbox.StreamAssistant, Payload: "are you there?"})
	f.m.DeliverSystem(inbox.Entry{ID: "e2", Stream: inbox.StreamSystem, Payload: "system"})

	f.m.Close()
	assert.Equal(t, []string{"are you there?"}, f.notifier.got())
}

func TestDeliverFallsBackToPushWhenSendFails(t *testing.T) {
	f := newManagerFixture(t)
	conn, _ := f.connect(t, "a")
	conn.mu.Lock()
	conn.sendFail = true
	conn.mu.Unlock()

	f.m.Deliver(inbox.Entry{ID: "e1", Payload: "dropped"})
	f.m.Close()
	assert.Equal(t, []string{"dropped"}, f.notifier.got())
}

type failingLog struct{ Log }

func (failingLog) ReadAfter(context.Context, []inbox.Stream, int64) ([]inbox.Entry, error) {
	return nil, errors.New("disk gone")
}

func TestSyncReadErrorSendsNothing(t *testing.T) {
	m, err := NewManager(ManagerConfig{Token: testToken, Log: failingLog{}, Gate: &countingGate{}, Events: lifecycle.NewManager()})
	require.NoError(t, err)
	conn := &fakeConn{addr: "a"}
	s := m.Accept(conn)
	m.Handle(context.Background(), s, []byte(`{"type":"auth","token":"s3cret"}`))
	m.Handle(context.Background(), s, []byte(`{"type":"sync","after":0}`))
	assert.Len(t, conn.sent(), 1)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
