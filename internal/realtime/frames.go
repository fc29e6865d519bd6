package realtime

import "github.com/neboloop/bingus/internal/inbox"

// Frame types. The first four are sent by the client, the rest by the server;
// "message" goes both ways.
const (
	FrameAuth         = "auth"
	FrameMessage      = "message"
	FrameSync         = "sync"
	FrameRegisterPush = "register_push"

	FrameAuthOK       = "auth_ok"
	FrameAuthFail     = "auth_fail"
	FrameSyncResponse = "sync_response"
)

// Close codes sent when the server ends a session.
const (
	CloseReplaced   = 4001
	CloseAuthFailed = 4003
)

// DefaultConversation is the only conversation id the daemon reports.
const DefaultConversation = "default"

// Roles as clients see them.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// ClientFrame is any frame a client may send. Only the fields for Type
// are meaningful.
type ClientFrame struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	Text        string `json:"text,omitempty"`
	After       int64  `json:"after,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// StatusFrame carries no payload (auth_ok, auth_fail).
type StatusFrame struct {
	Type string `json:"type"`
}

// MessageFrame delivers one message to the client.
type MessageFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// StoredMessage is one entry in a sync response.
type StoredMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"`
}

// SyncResponseFrame answers a sync request. Messages is never null.
type SyncResponseFrame struct {
	Type     string          `json:"type"`
	Messages []StoredMessage `json:"messages"`
}

// RoleFor maps a log stream to the role clients display.
func RoleFor(stream inbox.Stream) string {
	switch stream {
	case inbox.StreamAssistant:
		return RoleAgent
	case inbox.StreamSystem:
		return RoleSystem
	}
	return RoleUser
}

func newMessageFrame(e inbox.Entry, role string) MessageFrame {
	return MessageFrame{
		Type:      FrameMessage,
		ID:        e.ID,
		Role:      role,
		Content:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

func newSyncResponse(entries []inbox.Entry) SyncResponseFrame {
	msgs := make([]StoredMessage, len(entries))
	for i, e := range entries {
		msgs[i] = StoredMessage{
			ID:             e.ID,
			ConversationID: DefaultConversation,
			Role:           RoleFor(e.Stream),
			Content:        e.Payload,
			CreatedAt:      e.CreatedAt,
		}
	}
	return SyncResponseFrame{Type: FrameSyncResponse, Messages: msgs}
}
