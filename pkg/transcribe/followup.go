package transcribe

import (
	"strings"
	"sync"
	"time"
)

// FollowUp debounces follow-up question requests driven by finalized
// transcript segments. Rapid finals collapse to the last one; a text
// identical to the previously sent request is suppressed.
type FollowUp struct {
	delay   time.Duration
	request func(text string)

	mu       sync.Mutex
	timer    *time.Timer
	pending  string
	lastSent string
}

func NewFollowUp(delay time.Duration, request func(text string)) *FollowUp {
	if delay <= 0 {
		delay = time.Second
	}
	return &FollowUp{delay: delay, request: request}
}

// OnFinal records a finalized segment and reschedules the debounce window.
func (f *FollowUp) OnFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	f.mu.Lock()
	f.pending = text
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.delay, f.fire)
	f.mu.Unlock()
}

// Cancel drops any pending request.
func (f *FollowUp) Cancel() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending = ""
	f.mu.Unlock()
}

// Reset additionally forgets the last sent text, so the same question can be
// asked again in a fresh utterance.
func (f *FollowUp) Reset() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending = ""
	f.lastSent = ""
	f.mu.Unlock()
}

func (f *FollowUp) fire() {
	f.mu.Lock()
	text := f.pending
	f.pending = ""
	f.timer = nil
	if text == "" || text == f.lastSent {
		f.mu.Unlock()
		return
	}
	f.lastSent = text
	f.mu.Unlock()
	f.request(text)
}
