package status

import (
	"sync"
	"testing"
	"time"

	"github.com/voceo/voceo/pkg/frames"
)

type captureEmitter struct {
	mu     sync.Mutex
	frames []frames.Frame
}

func (c *captureEmitter) Emit(frame frames.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureEmitter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type captureListener struct {
	mu      sync.Mutex
	changes []Change
}

func (c *captureListener) OnStatusChange(event Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, event)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine(10*time.Millisecond, nil)
	if err := m.Transition(StatusProcessing, "skip listening"); err == nil {
		t.Fatalf("expected invalid transition error from IDLE to PROCESSING")
	}
	if m.Status() != StatusIdle {
		t.Fatalf("expected status unchanged, got %s", m.Status())
	}
}

func TestMachineBargeIn(t *testing.T) {
	emitter := &captureEmitter{}
	m := NewMachine(10*time.Millisecond, emitter)

	if err := m.Transition(StatusListening, "user speaking"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := m.Transition(StatusProcessing, "utterance complete"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if err := m.Transition(StatusSpeaking, "response audio"); err != nil {
		t.Fatalf("transition error: %v", err)
	}

	m.OnBargeIn("sess-1")
	if emitter.Count() != 1 {
		t.Fatalf("expected one barge-in control frame, got %d", emitter.Count())
	}
	if m.Status() != StatusListening {
		t.Fatalf("expected LISTENING after barge-in, got %s", m.Status())
	}

	// Barge-in outside SPEAKING is a no-op.
	m.OnBargeIn("sess-1")
	if emitter.Count() != 1 {
		t.Fatalf("expected no extra frames, got %d", emitter.Count())
	}
}

func TestMachineDebounceCollapsesFlapping(t *testing.T) {
	m := NewMachine(40*time.Millisecond, nil)
	listener := &captureListener{}
	m.AddListener(listener)

	if err := m.Transition(StatusListening, "active"); err != nil {
		t.Fatalf("transition error: %v", err)
	}

	// Rapid reschedules must collapse into a single transition.
	for i := 0; i < 5; i++ {
		m.TransitionDebounced(StatusIdle, "silence")
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if m.Status() != StatusIdle {
		t.Fatalf("expected IDLE after debounce, got %s", m.Status())
	}
	if listener.Count() != 2 {
		t.Fatalf("expected 2 changes (to LISTENING, to IDLE), got %d", listener.Count())
	}
}

func TestMachineImmediateTransitionCancelsPending(t *testing.T) {
	m := NewMachine(30*time.Millisecond, nil)
	if err := m.Transition(StatusListening, "active"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	m.TransitionDebounced(StatusIdle, "silence")
	if err := m.Transition(StatusProcessing, "utterance complete"); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if m.Status() != StatusProcessing {
		t.Fatalf("expected pending idle cancelled, got %s", m.Status())
	}
}

func TestMachineFiredTimerDoesNotOverrideCancellation(t *testing.T) {
	// Race the debounce expiry against the cancelling Transition: even when
	// the timer has already fired and its callback is waiting on the lock,
	// the cancelled transition must never apply afterwards.
	for i := 0; i < 50; i++ {
		m := NewMachine(time.Millisecond, nil)
		if err := m.Transition(StatusListening, "active"); err != nil {
			t.Fatalf("transition error: %v", err)
		}
		if err := m.Transition(StatusProcessing, "utterance complete"); err != nil {
			t.Fatalf("transition error: %v", err)
		}
		m.TransitionDebounced(StatusListening, "no response yet")
		time.Sleep(time.Millisecond)
		if err := m.Transition(StatusSpeaking, "response audio"); err != nil {
			t.Fatalf("transition error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		if m.Status() != StatusSpeaking {
			t.Fatalf("iteration %d: cancelled debounce applied, got %s", i, m.Status())
		}
	}
}

func TestPlaybackComplete(t *testing.T) {
	m := NewMachine(10*time.Millisecond, nil)
	_ = m.Transition(StatusSpeaking, "greeting")
	m.OnPlaybackComplete()
	if m.Status() != StatusListening {
		t.Fatalf("expected LISTENING after playback complete, got %s", m.Status())
	}
}
