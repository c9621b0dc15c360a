package transcribe

import (
	"strings"
	"sync"
)

// Buffer holds the transcript of the current utterance: the finalized
// segments so far plus at most one interim tail. The session clears it when
// playback of the answer finishes or a barge-in invalidates it.
type Buffer struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Apply folds one segment into the buffer. A final segment replaces the
// interim tail it refined.
func (b *Buffer) Apply(seg Segment) {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if seg.Final {
		b.finals = append(b.finals, text)
		b.interim = ""
		return
	}
	b.interim = text
}

// Text returns the current utterance transcript.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := append([]string(nil), b.finals...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

// FinalText returns only the finalized transcript.
func (b *Buffer) FinalText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.finals, " ")
}

// Clear drops all buffered text.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finals = nil
	b.interim = ""
}
