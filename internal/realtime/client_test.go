package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer serves the manager over a real websocket and records the
// server-side clients so tests can wait for their pumps to stop.
type wsServer struct {
	*httptest.Server
	clients  chan *Client
	handlers sync.WaitGroup
}

func newWSServer(t *testing.T, m *Manager) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := &wsServer{clients: make(chan *Client, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.Add(1)
		defer s.handlers.Done()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.clients <- ServeWS(m, conn)
	}))
	t.Cleanup(func() {
		s.Close()
		// Close does not wait for hijacked handlers.
		s.handlers.Wait()
		close(s.clients)
		for c := range s.clients {
			select {
			case <-c.Done():
			case <-time.After(2 * time.Second):
				t.Errorf("client %s did not stop", c.RemoteAddr())
			}
		}
	})
	return s
}

func (s *wsServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func TestWebSocketConversation(t *testing.T) {
	f := newManagerFixture(t)
	srv := newWSServer(t, f.m)
	conn := srv.dial(t)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Token: testToken}))
	assert.Equal(t, FrameAuthOK, readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameMessage, Text: "hello"}))
	echo := readFrame(t, conn)
	assert.Equal(t, FrameMessage, echo["type"])
	assert.Equal(t, RoleUser, echo["role"])
	assert.Equal(t, "hello", echo["content"])
	assert.NotEmpty(t, echo["id"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSync}))
	sync := readFrame(t, conn)
	assert.Equal(t, FrameSyncResponse, sync["type"])
	require.Len(t, sync["messages"], 1)
	assert.Equal(t, DefaultConversation, sync["messages"].([]any)[0].(map[string]any)["conversationId"])
	assert.Equal(t, int32(1), f.gate.n.Load())
}

func TestWebSocketAuthFailure(t *testing.T) {
	f := newManagerFixture(t)
	srv := newWSServer(t, f.m)
	conn := srv.dial(t)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameAuth, Token: "wrong"}))
	assert.Equal(t, FrameAuthFail, readFrame(t, conn)["type"])
	expectClose(t, conn, CloseAuthFailed)
}

func TestWebSocketReplacement(t *testing.T) {
	f := newManagerFixture(t)
	srv := newWSServer(t, f.m)

	first := srv.dial(t)
	require.NoError(t, first.WriteJSON(ClientFrame{Type: FrameAuth, Token: testToken}))
	readFrame(t, first)

	second := srv.dial(t)
	expectClose(t, first, CloseReplaced)

	require.NoError(t, second.WriteJSON(ClientFrame{Type: FrameAuth, Token: testToken}))
	assert.Equal(t, FrameAuthOK, readFrame(t, second)["type"])
	assert.True(t, f.m.IsConnected())

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return !f.m.IsConnected() }, 2*time.Second, 5*time.Millisecond)
}

func TestClientSendAfterCloseFails(t *testing.T) {
	f := newManagerFixture(t)
	srv := newWSServer(t, f.m)
	conn := srv.dial(t)

	client := <-srv.clients
	client.Close(1000, "bye")
	assert.True(t, client.IsClosed())
	assert.ErrorIs(t, client.Send(StatusFrame{Type: FrameAuthOK}), ErrClientClosed)
	expectClose(t, conn, 1000)

	// Put it back so cleanup waits for its pumps.
	srv.clients <- client
}
