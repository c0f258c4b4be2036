package handler

type State int

const (
	StateAccepted State = iota
	StateDispatched
	StateResponded
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StateDispatched:
		return "DISPATCHED"
	case StateResponded:
		return "RESPONDED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
