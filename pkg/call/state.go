package call

// State is the call lifecycle state. It only moves forward: a finished call
// is never restarted, a new one is created.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
