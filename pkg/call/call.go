// Package call orchestrates one interview call: capture acquisition, the
// activity detector, the transcription supervisor, the realtime session and
// the elapsed timer, under a single lifecycle.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/audio"
	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/media"
	"github.com/voceo/voceo/pkg/status"
	"github.com/voceo/voceo/pkg/transcribe"
	"github.com/voceo/voceo/pkg/vad"
)

// RealtimeSession is the relay connection the call feeds. Implemented by
// client.Session.
type RealtimeSession interface {
	Start(ctx context.Context) error
	Close() error
	SendAudio(samples []float32, rate int)
	SendText(text string)
}

// Transcriber is the supervised recognizer stream. Implemented by
// transcribe.Supervisor.
type Transcriber interface {
	Start(ctx context.Context) error
	Stop() error
	SendAudio(frame frames.AudioFrame) error
	Buffer() *transcribe.Buffer
}

type Config struct {
	SessionID string
	WantVideo bool
	// TickInterval is the elapsed-time tick cadence while active.
	TickInterval time.Duration
	VAD          vad.Config
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Call owns one interview call end to end.
type Call struct {
	cfg    Config
	logger *slog.Logger

	capturer    media.Capturer
	session     RealtimeSession
	transcriber Transcriber
	status      *status.Machine
	detector    *vad.Detector

	onTick func(elapsed time.Duration)

	mu        sync.Mutex
	state     State
	stream    media.Stream
	micOn     bool
	cameraOn  bool
	startedAt time.Time
	tickStop  chan struct{}
	cancel    context.CancelFunc
}

// Option configures optional call collaborators.
type Option func(*Call)

// WithTickHandler installs the per-second elapsed callback.
func WithTickHandler(fn func(elapsed time.Duration)) Option {
	return func(c *Call) { c.onTick = fn }
}

func New(cfg Config, capturer media.Capturer, session RealtimeSession, transcriber Transcriber, machine *status.Machine, opts ...Option) *Call {
	cfg = cfg.withDefaults()
	c := &Call{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(slog.Default(), "call").With(slog.String("session_id", cfg.SessionID)),
		capturer:    capturer,
		session:     session,
		transcriber: transcriber,
		status:      machine,
		state:       StateNotStarted,
	}
	c.detector = vad.NewDetector(cfg.SessionID, cfg.VAD, utteranceSink{c}, vad.WithActivitySink(statusSink{c}))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the call lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed reports time since the call went active.
func (c *Call) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt)
}

// MicOn reports the microphone flag.
func (c *Call) MicOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micOn
}

// CameraOn reports the camera flag.
func (c *Call) CameraOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraOn
}

// Start acquires capture and brings the call active. A missing camera
// degrades to audio-only; a missing microphone aborts the start and the call
// stays NotStarted.
func (c *Call) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state != StateNotStarted {
		state := c.state
		c.mu.Unlock()
		return errors.New("call already " + state.String())
	}
	c.state = StateStarting
	c.mu.Unlock()
	c.logger.Info("call_starting")

	stream, err := media.Open(ctx, c.capturer, c.cfg.WantVideo)
	if err != nil {
		c.mu.Lock()
		c.state = StateNotStarted
		c.mu.Unlock()
		c.logger.Error("capture_failed", slog.String("error", err.Error()))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.transcriber.Start(runCtx); err != nil {
		stream.Stop()
		cancel()
		c.mu.Lock()
		c.state = StateNotStarted
		c.mu.Unlock()
		return err
	}
	if err := c.session.Start(runCtx); err != nil {
		_ = c.transcriber.Stop()
		stream.Stop()
		cancel()
		c.mu.Lock()
		c.state = StateNotStarted
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.micOn = stream.AudioTrack() != nil
	c.cameraOn = stream.VideoTrack() != nil
	c.startedAt = time.Now()
	c.tickStop = make(chan struct{})
	c.state = StateActive
	tickStop := c.tickStop
	c.mu.Unlock()

	go c.tickLoop(tickStop)
	c.logger.Info("call_active",
		slog.Bool("mic", c.MicOn()),
		slog.Bool("camera", c.CameraOn()))
	return nil
}

// End tears the call down synchronously: timer, tracks, transcriber and the
// relay session all stop before End returns. Idempotent.
func (c *Call) End() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateEnded
	stream := c.stream
	c.stream = nil
	tickStop := c.tickStop
	c.tickStop = nil
	cancel := c.cancel
	c.cancel = nil
	c.micOn = false
	c.cameraOn = false
	c.mu.Unlock()

	if tickStop != nil {
		close(tickStop)
	}
	if stream != nil {
		stream.Stop()
	}
	c.detector.Reset()
	_ = c.transcriber.Stop()
	c.transcriber.Buffer().Clear()
	_ = c.session.Close()
	if cancel != nil {
		cancel()
	}
	if c.status != nil {
		_ = c.status.Transition(status.StatusIdle, "call ended")
	}
	c.logger.Info("call_ended", slog.String("from", prev.String()))
}

// ToggleMic flips the microphone track in place. Muting also resets the
// detector so a half-captured utterance is not flushed later.
func (c *Call) ToggleMic(on bool) {
	c.mu.Lock()
	if c.state != StateActive || c.stream == nil {
		c.mu.Unlock()
		return
	}
	track := c.stream.AudioTrack()
	c.micOn = on && track != nil
	c.mu.Unlock()

	if track != nil {
		track.SetEnabled(on)
	}
	if !on {
		c.detector.Reset()
	}
	c.logger.Info("mic_toggled", slog.Bool("on", on))
}

// ToggleCamera flips the camera track in place.
func (c *Call) ToggleCamera(on bool) {
	c.mu.Lock()
	if c.state != StateActive || c.stream == nil {
		c.mu.Unlock()
		return
	}
	track := c.stream.VideoTrack()
	c.cameraOn = on && track != nil
	c.mu.Unlock()

	if track != nil {
		track.SetEnabled(on)
	}
	c.logger.Info("camera_toggled", slog.Bool("on", on))
}

// PushAudio feeds one captured PCM16LE window: the detector accumulates it
// and the realtime session streams it. Ignored while the mic is off or the
// call inactive.
func (c *Call) PushAudio(pcm []byte, rate int) {
	c.mu.Lock()
	live := c.state == StateActive && c.micOn
	c.mu.Unlock()
	if !live {
		return
	}
	c.detector.Push(pcm)
	c.session.SendAudio(audio.SamplesFromPCM16(pcm), rate)
}

func (c *Call) tickLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.onTick != nil {
				c.onTick(c.Elapsed())
			}
		case <-stop:
			return
		}
	}
}

// utteranceSink forwards completed utterances to the transcriber.
type utteranceSink struct{ c *Call }

func (s utteranceSink) Emit(f frames.Frame) error {
	af, ok := f.(frames.AudioFrame)
	if !ok {
		return nil
	}
	// SendAudio copies the payload out synchronously, so the pooled buffer
	// can go back afterwards.
	defer frames.ReleaseAudioFrame(af)
	if err := s.c.transcriber.SendAudio(af); err != nil {
		s.c.logger.Warn("utterance_forward_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// statusSink maps detector activity onto the status machine.
type statusSink struct{ c *Call }

func (s statusSink) OnSpeechStart() {
	if s.c.status != nil {
		_ = s.c.status.Transition(status.StatusListening, "speech detected")
	}
}

func (s statusSink) OnSpeechEnd() {
	if s.c.status != nil {
		s.c.status.TransitionDebounced(status.StatusProcessing, "utterance complete")
	}
}
