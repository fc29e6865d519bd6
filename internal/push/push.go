// Package push delivers best-effort notifications while no client is
// connected: Apple push to a registered device, or a local desktop alert.
package push

import (
	"context"

	"github.com/neboloop/bingus/internal/logging"
)

// Title is shown on every notification.
const Title = "Bingus"

// maxBodyLen caps the notification body, in bytes.
const maxBodyLen = 200

var pushLog = logging.Named("push")

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, body string) error
}

// TokenSink receives device tokens registered by clients.
type TokenSink interface {
	SetDeviceToken(token string)
}

// truncateBody trims body to maxBodyLen without splitting a UTF-8 sequence.
func truncateBody(body string) string {
	if len(body) <= maxBodyLen {
		return body
	}
	cut := maxBodyLen
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
