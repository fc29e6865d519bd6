package realtime

import "crypto/subtle"

// sessionState is the per-connection protocol state.
type sessionState struct {
	authenticated bool
}

type effectKind uint8

const (
	effectSend effectKind = iota + 1
	effectClose
	effectAppendUser
	effectSync
	effectRegisterPush
)

// effect is one action the Manager performs after a transition.
type effect struct {
	kind effectKind

	frame any // effectSend

	code   int // effectClose
	reason string

	text        string // effectAppendUser
	after       int64  // effectSync
	deviceToken string // effectRegisterPush
}

// transition applies one client frame. Frames other than auth are ignored
// until the session authenticates; unknown types are always ignored.
func transition(st sessionState, f ClientFrame, token string) (sessionState, []effect) {
	if f.Type == FrameAuth {
		if tokenMatches(f.Token, token) {
			st.authenticated = true
			return st, []effect{{kind: effectSend, frame: StatusFrame{Type: FrameAuthOK}}}
		}
		st.authenticated = false
		return st, []effect{
			{kind: effectSend, frame: StatusFrame{Type: FrameAuthFail}},
			{kind: effectClose, code: CloseAuthFailed, reason: "auth failed"},
		}
	}
	if !st.authenticated {
		return st, nil
	}

	switch f.Type {
	case FrameMessage:
		if f.Text == "" {
			return st, nil
		}
		return st, []effect{{kind: effectAppendUser, text: f.Text}}
	case FrameSync:
		return st, []effect{{kind: effectSync, after: f.After}}
	case FrameRegisterPush:
		if f.DeviceToken == "" {
			return st, nil
		}
		return st, []effect{{kind: effectRegisterPush, deviceToken: f.DeviceToken}}
	}
	return st, nil
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
