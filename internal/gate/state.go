package gate

// effect is a side effect requested by a state transition.
type effect uint8

const (
	effectFireOpen effect = iota + 1
	effectFireClose
	effectRelease
	effectSuspend
)

func (e effect) String() string {
	switch e {
	case effectFireOpen:
		return "open"
	case effectFireClose:
		return "close"
	case effectRelease:
		return "release"
	case effectSuspend:
		return "suspend"
	}
	return "unknown"
}

// state is the Gate's complete state. Transitions are pure: they return
// the next state and the effects the Gate must perform, in order.
type state struct {
	pending bool
	open    bool
	waiting bool
}

func (s state) signal() (state, []effect) {
	var effects []effect
	if !s.open {
		s.open = true
		effects = append(effects, effectFireOpen)
	}
	if s.waiting {
		s.waiting = false
		s.pending = false
		effects = append(effects, effectRelease)
	} else {
		s.pending = true
	}
	return s, effects
}

func (s state) wait() (state, []effect) {
	if s.pending {
		s.pending = false
		return s, nil
	}
	var effects []effect
	if s.open {
		s.open = false
		effects = append(effects, effectFireClose)
	}
	s.waiting = true
	effects = append(effects, effectSuspend)
	return s, effects
}

// abandon drops a suspended waiter whose context was cancelled. The gate
// stays closed; the next Signal reopens it.
func (s state) abandon() state {
	s.waiting = false
	return s
}
