package feed

// State is the lifecycle state of the subscription connection.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disabled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// event drives state transitions.
type event int

const (
	evStart event = iota
	evHandshake
	evClosed
	evAuthFailed
	evExhausted
	evStop
)

// transition returns the next state for s after e.
// Disabled is terminal: nothing leaves it.
func transition(s State, e event) State {
	if s == Disabled {
		return Disabled
	}
	switch e {
	case evStart:
		if s == Disconnected {
			return Connecting
		}
	case evHandshake:
		if s == Connecting || s == Reconnecting {
			return Connected
		}
	case evClosed:
		if s == Connecting || s == Connected || s == Reconnecting {
			return Reconnecting
		}
	case evAuthFailed:
		return Disabled
	case evExhausted, evStop:
		return Disconnected
	}
	return s
}
