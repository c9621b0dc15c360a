package media

import (
	"context"
	"errors"
	"sync"
)

// FakeCapturer is an in-memory Capturer for tests and the console harness.
// Capability failures are simulated per kind.
type FakeCapturer struct {
	FailAudio bool
	FailVideo bool

	mu      sync.Mutex
	streams []*FakeStream
}

func (c *FakeCapturer) Capture(ctx context.Context, req Request) (Stream, error) {
	if req.Audio && c.FailAudio {
		return nil, errors.New("no microphone")
	}
	if req.Video && c.FailVideo {
		return nil, errors.New("no camera")
	}
	s := &FakeStream{}
	if req.Audio {
		s.audio = &FakeTrack{kind: TrackAudio, enabled: true}
	}
	if req.Video {
		s.video = &FakeTrack{kind: TrackVideo, enabled: true}
	}
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

// Streams returns every stream handed out, for teardown assertions.
func (c *FakeCapturer) Streams() []*FakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeStream(nil), c.streams...)
}

type FakeStream struct {
	mu      sync.Mutex
	audio   *FakeTrack
	video   *FakeTrack
	stopped bool
}

func (s *FakeStream) AudioTrack() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *FakeStream) VideoTrack() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *FakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.audio != nil {
		s.audio.Stop()
	}
	if s.video != nil {
		s.video.Stop()
	}
}

func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type FakeTrack struct {
	mu      sync.Mutex
	kind    TrackKind
	enabled bool
	stopped bool
}

func (t *FakeTrack) Kind() TrackKind { return t.kind }

func (t *FakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *FakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *FakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.enabled = false
}

func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
