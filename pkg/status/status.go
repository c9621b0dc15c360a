package status

type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusProcessing
	StatusSpeaking
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusListening:
		return "LISTENING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}
