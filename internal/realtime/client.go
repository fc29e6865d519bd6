package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 32768 // 32KB

	sendBufferSize = 256
)

// Error types
var (
	ErrClientSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed         = errors.New("client connection closed")
)

// outbound is a queued text frame, or a close request when close is set.
type outbound struct {
	data  []byte
	close []byte
}

// Client is a gorilla websocket connection with its read and write pumps.
// It implements Conn.
type Client struct {
	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; the write pump
	// exits on ctx instead, so a late Send cannot panic.
	send chan outbound

	remote string

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Closed flag so Send fails fast once the connection is going away
	closed   bool
	closedMu sync.RWMutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		send:   make(chan outbound, sendBufferSize),
		remote: conn.RemoteAddr().String(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// Done is closed once both directions of the connection have stopped.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send queues frame as a JSON text message.
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- outbound{data: data}:
		return nil
	default:
		return ErrClientSendBufferFull
	}
}

// Close sends a close frame with code and reason once queued frames are
// written, then drops the connection.
func (c *Client) Close(code int, reason string) {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return
	}
	c.closed = true
	c.closedMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	select {
	case c.send <- outbound{close: msg}:
	default:
		// Queue full: skip the backlog.
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
	}
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *Client) markClosed() {
	c.closedMu.Lock()
	c.closed = true
	c.closedMu.Unlock()
}

// readPump pumps frames from the connection to handle until the peer goes
// away, then calls onClose.
func (c *Client) readPump(handle func([]byte), onClose func()) {
	defer func() {
		c.markClosed()
		c.conn.Close()
		c.cancel()
		onClose()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sessionLog.Warnf("read error from %s: %v", c.remote, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(msg)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if out.close != nil {
				c.conn.WriteMessage(websocket.CloseMessage, out.close)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ServeWS attaches an upgraded connection to the manager and starts its
// pumps. The returned client's Done channel closes when the connection ends.
func ServeWS(m *Manager, conn *websocket.Conn) *Client {
	client := NewClient(conn)
	session := m.Accept(client)

	go client.writePump()
	go client.readPump(
		func(msg []byte) { m.Handle(client.ctx, session, msg) },
		func() { m.Disconnect(session) },
	)
	return client
}
