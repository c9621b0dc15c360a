package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/transcribe"
)

type STTConfig struct {
	SessionID         string
	CallSID           string
	TraceID           string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitUtteranceEnd  bool
}

// STT emits a fixed transcript on the first audio frame. Useful for exercising
// the supervisor and call wiring without a vendor connection.
type STT struct {
	cfg     STTConfig
	out     chan frames.Frame
	outOnce sync.Once
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewSTT(cfg STTConfig) *STT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &STT{cfg: cfg, out: make(chan frames.Frame, 16)}
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *STT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.outOnce.Do(func() { close(s.out) })
	return nil
}

func (s *STT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.out <- frames.NewTextFrame(s.cfg.SessionID, time.Now().UnixNano(), interim, s.meta("false", ""))
	}
	s.out <- frames.NewTextFrame(s.cfg.SessionID, time.Now().UnixNano(), s.cfg.Transcript, s.meta("true", ""))
	if s.cfg.EmitUtteranceEnd {
		s.out <- frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlUtteranceEnd, s.meta("", "utterance_end"))
	}
	return nil
}

func (s *STT) Results() <-chan frames.Frame { return s.out }

func (s *STT) meta(isFinal, reason string) map[string]string {
	meta := map[string]string{
		frames.MetaSource: "stt",
	}
	if s.cfg.CallSID != "" {
		meta[frames.MetaCallSID] = s.cfg.CallSID
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	if isFinal != "" {
		meta[frames.MetaIsFinal] = isFinal
	}
	if reason != "" {
		meta[frames.MetaReason] = reason
	}
	return meta
}

var _ transcribe.Recognizer = (*STT)(nil)
