package live

// State is the connection state of the listener.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}
