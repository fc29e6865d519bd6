// Package lifecycle provides event hooks for daemon startup, shutdown and
// responder activity.
package lifecycle

import (
	"sync"

	"github.com/neboloop/bingus/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Server lifecycle events
	EventServerStarted   Event = "server_started"
	EventShutdownStarted Event = "shutdown_started"

	// Client connection events
	EventClientConnected    Event = "client_connected"
	EventClientDisconnected Event = "client_disconnected"

	// Responder run events
	EventAgentRunStart    Event = "agent_run_start"
	EventAgentRunComplete Event = "agent_run_complete"
	EventAgentRunError    Event = "agent_run_error"

	// Wake events
	EventWakeFired Event = "wake_fired"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewManager creates a manager with no handlers
func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

// Global lifecycle manager
var global = NewManager()

// On registers a handler for a lifecycle event
func On(event Event, handler Handler) {
	global.On(event, handler)
}

// Emit dispatches an event to all registered handlers
func Emit(event Event, data any) {
	global.Emit(event, data)
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit dispatches an event to all registered handlers
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := m.handlers[event]
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		// Run handlers synchronously (they can spawn goroutines if needed)
		h(event, data)
	}
}

// AgentRunEventData contains data for responder run events
type AgentRunEventData struct {
	Provider   string
	ToolCalls  int
	DurationMS int64
	Error      error
}

// WakeEventData contains data for wake events
type WakeEventData struct {
	Reason string
}

// OnServerStarted is a convenience function to register a server started handler
func OnServerStarted(handler func()) {
	On(EventServerStarted, func(e Event, data any) {
		handler()
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func OnShutdown(handler func()) {
	On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}

// OnClientConnected registers a handler receiving the client's remote address
func OnClientConnected(handler func(remote string)) {
	On(EventClientConnected, func(e Event, data any) {
		if addr, ok := data.(string); ok {
			handler(addr)
		}
	})
}

// OnClientDisconnected registers a handler receiving the client's remote address
func OnClientDisconnected(handler func(remote string)) {
	On(EventClientDisconnected, func(e Event, data any) {
		if addr, ok := data.(string); ok {
			handler(addr)
		}
	})
}

// OnAgentRunComplete registers a handler for responder run complete events
func OnAgentRunComplete(handler func(data AgentRunEventData)) {
	On(EventAgentRunComplete, func(e Event, data any) {
		if d, ok := data.(AgentRunEventData); ok {
			handler(d)
		}
	})
}

// OnAgentRunError registers a handler for responder run error events
func OnAgentRunError(handler func(data AgentRunEventData)) {
	On(EventAgentRunError, func(e Event, data any) {
		if d, ok := data.(AgentRunEventData); ok {
			handler(d)
		}
	})
}

// OnWakeFired registers a handler for wake events
func OnWakeFired(handler func(data WakeEventData)) {
	On(EventWakeFired, func(e Event, data any) {
		if d, ok := data.(WakeEventData); ok {
			handler(d)
		}
	})
}

// EmitAsync dispatches an event asynchronously
func EmitAsync(event Event, data any) {
	go global.Emit(event, data)
}
