// Package transcribe turns a continuous speech stream into interim and final
// transcript segments. A Recognizer is the vendor contract; the Supervisor
// keeps one alive for the whole session, restarting it whenever its stream
// ends early.
package transcribe

import (
	"context"

	"github.com/voceo/voceo/pkg/frames"
)

// Recognizer defines the contract for any streaming STT vendor
// implementation. Results is closed when the vendor stream ends, which is the
// supervisor's restart signal.
type Recognizer interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// Start initializes the vendor connection.
	Start(ctx context.Context) error
	// Close shuts down the vendor connection and closes Results.
	Close() error
	// SendAudio forwards captured audio to the vendor.
	SendAudio(frame frames.AudioFrame) error
	// Results returns transcription/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	SessionID  string
	CallSID    string
	TraceID    string
	SampleRate int
	Language   string
}

// Segment is one transcription result.
type Segment struct {
	Text  string
	Final bool
}
