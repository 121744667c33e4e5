package client

// State is the connection lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateHandshaking
	StateConnected
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible besides Closed.
func (s State) Terminal() bool {
	return s == StateErrored || s == StateClosed
}
