// Package status tracks the single authoritative system status of a session:
// idle, listening, processing, or speaking. Exactly one writer (the session
// owning the machine) mutates it; observers subscribe for changes.
package status

import (
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/frames"
)

// Change represents a status transition event.
type Change struct {
	From      Status
	To        Status
	Timestamp time.Time
	Reason    string
}

// Listener observes status changes.
type Listener interface {
	OnStatusChange(event Change)
}

// BargeInEmitter receives the flush control frame emitted on barge-in.
type BargeInEmitter interface {
	Emit(frame frames.Frame) error
}

// Machine is the per-session system-status state machine. Transitions are
// validated; invalid ones are rejected rather than forced. A debounce window
// collapses rapid flapping between listening and idle driven by the activity
// detector.
type Machine struct {
	mu      sync.Mutex
	current Status

	debounce   time.Duration
	pending    *time.Timer
	pendingSeq uint64

	listeners []Listener
	emitter   BargeInEmitter
}

// NewMachine creates a status machine starting in IDLE.
func NewMachine(debounce time.Duration, emitter BargeInEmitter) *Machine {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Machine{
		current:  StatusIdle,
		debounce: debounce,
		emitter:  emitter,
	}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func transitionValid(from, to Status) bool {
	valid := map[Status][]Status{
		StatusIdle:       {StatusListening, StatusSpeaking},
		StatusListening:  {StatusProcessing, StatusSpeaking, StatusIdle},
		StatusProcessing: {StatusSpeaking, StatusListening, StatusIdle},
		StatusSpeaking:   {StatusListening, StatusIdle},
	}
	for _, allowed := range valid[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new status immediately, cancelling any pending
// debounced transition.
func (m *Machine) Transition(to Status, reason string) error {
	m.mu.Lock()
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	// A fired-but-blocked debounce callback must also see its schedule as
	// stale, not just a stopped timer.
	m.pendingSeq++
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !transitionValid(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	event := Change{
		From:      m.current,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = to
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStatusChange(event)
	}
	return nil
}

// TransitionDebounced schedules a transition after the debounce window.
// Scheduling again before expiry resets the timer (cancel-and-reschedule);
// an immediate Transition cancels it.
func (m *Machine) TransitionDebounced(to Status, reason string) {
	m.mu.Lock()
	if m.pending != nil {
		m.pending.Stop()
	}
	m.pendingSeq++
	seq := m.pendingSeq
	m.pending = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		stale := m.pendingSeq != seq
		if !stale {
			m.pending = nil
		}
		m.mu.Unlock()
		if !stale {
			_ = m.Transition(to, reason)
		}
	})
	m.mu.Unlock()
}

// AddListener registers a listener for status change events.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnPlaybackComplete handles synthesized audio playback completion.
func (m *Machine) OnPlaybackComplete() {
	if m.Status() == StatusSpeaking {
		_ = m.Transition(StatusListening, "playback complete")
	}
}

// OnBargeIn handles the user speaking over synthesized audio. A flush control
// frame is emitted so playback can be interrupted, then the machine returns
// to LISTENING.
func (m *Machine) OnBargeIn(sessionID string) {
	if m.Status() != StatusSpeaking {
		return
	}
	m.mu.Lock()
	emitter := m.emitter
	m.mu.Unlock()
	if emitter != nil {
		_ = emitter.Emit(frames.NewControlFrame(sessionID, time.Now().UnixNano(), frames.ControlBargeIn, nil))
	}
	_ = m.Transition(StatusListening, "barge-in detected")
}

// InvalidTransitionError represents an invalid status transition attempt.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid status transition from " + e.From.String() + " to " + e.To.String()
}
