// Package realtime manages the single live client connection: the
// auth/message/sync protocol, delivery of replies, and catch-up sync.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/neboloop/bingus/internal/inbox"
	"github.com/neboloop/bingus/internal/lifecycle"
	"github.com/neboloop/bingus/internal/logging"
)

// pushTimeout bounds one best-effort push notification.
const pushTimeout = 15 * time.Second

var sessionLog = logging.Named("session")

// fatalf handles storage faults. Swapped in tests.
var fatalf = logging.Fatalf

// Conn is a live client connection. Send must not block; Close ends the
// connection with a WebSocket close code after any queued frames.
type Conn interface {
	Send(frame any) error
	Close(code int, reason string)
	RemoteAddr() string
}

// Log is the part of the message log the session reads and writes.
type Log interface {
	Append(ctx context.Context, stream inbox.Stream, payload string) (inbox.Entry, error)
	ReadAfter(ctx context.Context, streams []inbox.Stream, afterMs int64) ([]inbox.Entry, error)
}

// Signaler wakes the responder.
type Signaler interface {
	Signal()
}

// Notifier delivers a push notification while no client is connected.
type Notifier interface {
	Notify(ctx context.Context, body string) error
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Token string
	Log   Log
	Gate  Signaler

	// OnUserMessage runs after a user message is stored, before the gate is signalled.
	OnUserMessage func(text string)
	// OnPushToken receives device tokens from register_push frames.
	OnPushToken func(token string)
	// Notifier is optional; without it Deliver never pushes.
	Notifier Notifier
	// Events receives connect/disconnect events; nil uses the global manager.
	Events *lifecycle.Manager
}

// Session is one accepted connection.
type Session struct {
	conn  Conn
	state sessionState
}

// Manager owns at most one live session. Accepting a connection replaces
// whatever was there.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	current *Session

	pushes sync.WaitGroup
}

// NewManager creates a manager with no session.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Token == "" {
		return nil, errors.New("session manager requires an auth token")
	}
	if cfg.Log == nil || cfg.Gate == nil {
		return nil, errors.New("session manager requires a log and a gate")
	}
	return &Manager{cfg: cfg}, nil
}

// Accept makes conn the live session, closing any previous one with
// CloseReplaced. The new session starts unauthenticated.
func (m *Manager) Accept(conn Conn) *Session {
	s := &Session{conn: conn}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		sessionLog.Infof("replacing connection from %s", prev.conn.RemoteAddr())
		prev.conn.Close(CloseReplaced, "replaced")
	}
	sessionLog.Infof("client connected from %s", conn.RemoteAddr())
	m.emit(lifecycle.EventClientConnected, conn.RemoteAddr())
	return s
}

// Disconnect forgets s if it is still the live session. A replaced
// session's late disconnect leaves its successor alone.
func (m *Manager) Disconnect(s *Session) {
	m.mu.Lock()
	live := m.current == s
	if live {
		m.current = nil
	}
	m.mu.Unlock()

	if live {
		sessionLog.Infof("client disconnected from %s", s.conn.RemoteAddr())
		m.emit(lifecycle.EventClientDisconnected, s.conn.RemoteAddr())
	}
}

// Handle decodes and applies one raw client frame. Frames from a session
// that has been replaced are dropped.
func (m *Manager) Handle(ctx context.Context, s *Session, raw []byte) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		sessionLog.Warnf("bad frame from %s: %v", s.conn.RemoteAddr(), err)
		return
	}

	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	next, effects := transition(s.state, f, m.cfg.Token)
	s.state = next
	m.mu.Unlock()

	if f.Type == FrameAuth {
		if next.authenticated {
			sessionLog.Infof("client authenticated")
		} else {
			sessionLog.Warnf("auth failed from %s", s.conn.RemoteAddr())
		}
	}

	// Writes must not be abandoned halfway because the connection dropped.
	ctx = context.WithoutCancel(ctx)
	for _, e := range effects {
		m.apply(ctx, s, e)
	}
}

func (m *Manager) apply(ctx context.Context, s *Session, e effect) {
	switch e.kind {
	case effectSend:
		m.sendTo(s, e.frame)

	case effectClose:
		s.conn.Close(e.code, e.reason)

	case effectAppendUser:
		entry, err := m.cfg.Log.Append(ctx, inbox.StreamUser, e.text)
		if err != nil {
			fatalf("[session] failed to append user message: %v", err)
			return
		}
		m.sendTo(s, newMessageFrame(entry, RoleUser))
		if m.cfg.OnUserMessage != nil {
			m.cfg.OnUserMessage(e.text)
		}
		m.cfg.Gate.Signal()

	case effectSync:
		entries, err := m.cfg.Log.ReadAfter(ctx, inbox.VisibleStreams, e.after)
		if err != nil {
			sessionLog.Errorf("sync after %d failed: %v", e.after, err)
			return
		}
		m.sendTo(s, newSyncResponse(entries))

	case effectRegisterPush:
		if m.cfg.OnPushToken != nil {
			m.cfg.OnPushToken(e.deviceToken)
		}
	}
}

// Deliver sends an assistant entry to the client. When no authenticated
// client is connected it falls back to a push notification.
func (m *Manager) Deliver(entry inbox.Entry) {
	if m.send(newMessageFrame(entry, RoleAgent)) {
		return
	}
	m.push(entry.Payload)
}

// DeliverSystem sends a system entry to the client. It never pushes.
func (m *Manager) DeliverSystem(entry inbox.Entry) {
	m.send(newMessageFrame(entry, RoleSystem))
}

// IsConnected reports whether an authenticated client is live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.state.authenticated
}

// Close ends the live session and waits for in-flight pushes.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s != nil {
		s.conn.Close(1001, "server shutting down")
	}
	m.pushes.Wait()
}

// send delivers frame to the live authenticated session, reporting
// whether it was handed to the connection.
func (m *Manager) send(frame any) bool {
	m.mu.Lock()
	s := m.current
	ok := s != nil && s.state.authenticated
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.sendTo(s, frame)
}

func (m *Manager) sendTo(s *Session, frame any) bool {
	if err := s.conn.Send(frame); err != nil {
		sessionLog.Warnf("send to %s failed: %v", s.conn.RemoteAddr(), err)
		return false
	}
	return true
}

func (m *Manager) push(body string) {
	if m.cfg.Notifier == nil {
		return
	}
	m.pushes.Add(1)
	go func() {
		defer m.pushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := m.cfg.Notifier.Notify(ctx, body); err != nil {
			sessionLog.Warnf("push failed: %v", err)
		}
	}()
}

func (m *Manager) emit(event lifecycle.Event, data any) {
	if m.cfg.Events != nil {
		m.cfg.Events.Emit(event, data)
		return
	}
	lifecycle.Emit(event, data)
}
