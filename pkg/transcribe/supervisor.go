package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/errorsx"
	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/redact"
)

// Factory builds a fresh Recognizer for each (re)start.
type Factory func() (Recognizer, error)

// SegmentHandler receives transcription segments in stream order.
type SegmentHandler func(seg Segment)

// SupervisorConfig tunes the restart loop.
type SupervisorConfig struct {
	// FailureBackoff is the pause before retrying after a start failure.
	// A clean stream end restarts immediately.
	FailureBackoff time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = 200 * time.Millisecond
	}
	return c
}

// Supervisor keeps a recognizer stream alive for the session lifetime. When
// the vendor stream ends while the session is still active, it closes the
// dead instance and starts a fresh one immediately.
type Supervisor struct {
	cfg     SupervisorConfig
	factory Factory
	handler SegmentHandler
	logger  *slog.Logger
	obs     metrics.Observer

	buffer   *Buffer
	followUp *FollowUp

	mu      sync.Mutex
	active  bool
	current Recognizer
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, factory Factory, handler SegmentHandler, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.withDefaults(),
		factory: factory,
		handler: handler,
		logger:  logging.NewComponentLogger(slog.Default(), "transcribe"),
		obs:     metrics.NoopObserver{},
		buffer:  NewBuffer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupervisorOption configures optional supervisor collaborators.
type SupervisorOption func(*Supervisor)

// WithFollowUp installs the debounced follow-up requester fed by final
// segments.
func WithFollowUp(f *FollowUp) SupervisorOption {
	return func(s *Supervisor) { s.followUp = f }
}

// WithObserver installs the metrics observer.
func WithObserver(obs metrics.Observer) SupervisorOption {
	return func(s *Supervisor) { s.obs = obs }
}

// Buffer exposes the current-utterance transcript buffer.
func (s *Supervisor) Buffer() *Buffer { return s.buffer }

// Start launches the restart loop. Returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Stop ends the session: the current recognizer is closed and no restart
// follows. Blocks until the loop exits.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	cancel := s.cancel
	current := s.current
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if current != nil {
		_ = current.Close()
	}
	if s.followUp != nil {
		s.followUp.Cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Active reports whether the session is live.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SendAudio forwards audio to the current recognizer instance. Audio arriving
// between restarts is dropped; the stream resumes on the next instance.
func (s *Supervisor) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return errorsx.Wrap(errors.New("recognizer not running"), errorsx.ReasonSTTSend)
	}
	return current.SendAudio(frame)
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	first := true
	for ctx.Err() == nil && s.Active() {
		rec, err := s.factory()
		if err != nil {
			s.logger.Error("recognizer_create_failed", slog.String("error", err.Error()))
			s.sleep(ctx, s.cfg.FailureBackoff)
			continue
		}
		if err := rec.Start(ctx); err != nil {
			s.logger.Error("recognizer_start_failed",
				slog.String("recognizer", rec.Name()),
				slog.String("error", err.Error()))
			s.obs.RecordEvent(metrics.MetricsEvent{Name: "stt_restart", Time: time.Now(), Tags: map[string]string{"reason": "start_failed"}})
			s.sleep(ctx, s.cfg.FailureBackoff)
			continue
		}
		s.mu.Lock()
		s.current = rec
		s.mu.Unlock()
		if !first {
			s.obs.RecordEvent(metrics.MetricsEvent{Name: "stt_restart", Time: time.Now(), Tags: map[string]string{"reason": "stream_ended"}})
			s.logger.Info("recognizer_restarted", slog.String("recognizer", rec.Name()))
		}
		first = false

		s.consume(rec)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		_ = rec.Close()
	}
}

func (s *Supervisor) consume(rec Recognizer) {
	for f := range rec.Results() {
		switch f.Kind() {
		case frames.KindText:
			tf := f.(frames.TextFrame)
			seg := Segment{
				Text:  tf.Text(),
				Final: tf.Meta()[frames.MetaIsFinal] == "true",
			}
			s.buffer.Apply(seg)
			if s.handler != nil {
				s.handler(seg)
			}
			if seg.Final {
				s.logger.Debug("segment_final", slog.String("text", redact.Text(seg.Text)))
				if s.followUp != nil {
					s.followUp.OnFinal(s.buffer.FinalText())
				}
			}
		case frames.KindControl:
			cf := f.(frames.ControlFrame)
			s.logger.Debug("recognizer_control",
				slog.String("code", string(cf.Code())),
				slog.String("reason", cf.Meta()[frames.MetaReason]))
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
