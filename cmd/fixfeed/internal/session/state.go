package session

// State is the lifecycle position of a FIX session.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingLogonAck
	Active
	LoggingOut
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingLogonAck:
		return "awaiting_logon_ack"
	case Active:
		return "active"
	case LoggingOut:
		return "logging_out"
	}
	return "unknown"
}
