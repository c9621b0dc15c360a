// Package vad detects speech activity in a PCM stream by mean absolute
// amplitude. The detector accumulates audio for the current utterance and
// emits it as one frame when a trailing silence window elapses.
package vad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
)

// Emitter receives the utterance frame when the silence window expires.
type Emitter interface {
	Emit(frame frames.Frame) error
}

// ActivitySink observes speech start/end transitions. The session wires this
// to its status machine.
type ActivitySink interface {
	OnSpeechStart()
	OnSpeechEnd()
}

type Config struct {
	// Threshold is the activation level on the 0-255 energy scale.
	Threshold int `mapstructure:"threshold"`
	// SilenceTimeout is the trailing silence that ends an utterance.
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`
	SampleRate     int           `mapstructure:"sample_rate"`
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 15
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 1500 * time.Millisecond
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Detector tracks speech activity for one session. Push is called from the
// capture loop; the utterance frame fires on the timer goroutine.
type Detector struct {
	cfg       Config
	sessionID string
	logger    *slog.Logger
	emitter   Emitter
	sink      ActivitySink
	ptsGen    *frames.PTSGen

	mu           sync.Mutex
	active       bool
	buffer       []byte
	silenceTimer *time.Timer
}

func NewDetector(sessionID string, cfg Config, emitter Emitter, opts ...Option) *Detector {
	d := &Detector{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		logger:    logging.NewComponentLogger(slog.Default(), "vad").With(slog.String("session_id", sessionID)),
		emitter:   emitter,
		ptsGen:    frames.NewPTSGen(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Option configures optional detector collaborators.
type Option func(*Detector)

// WithActivitySink installs the speech start/end observer.
func WithActivitySink(sink ActivitySink) Option {
	return func(d *Detector) { d.sink = sink }
}

// EnergyLevel maps a PCM16LE window to the 0-255 activity scale using mean
// absolute amplitude.
func EnergyLevel(pcm []byte) int {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return int(sum * 255 / (int64(n) * 32767))
}

// Push feeds one capture window and returns its energy level. Active windows
// accumulate into the utterance buffer; the silence timer runs from the
// moment activity stops and is cancelled if activity resumes.
func (d *Detector) Push(pcm []byte) int {
	level := EnergyLevel(pcm)
	d.mu.Lock()
	speaking := level >= d.cfg.Threshold
	if speaking {
		if !d.active {
			d.active = true
			d.stopSilenceTimerLocked()
			d.mu.Unlock()
			d.logger.Debug("speech_started", slog.Int("level", level))
			if d.sink != nil {
				d.sink.OnSpeechStart()
			}
			d.mu.Lock()
		} else {
			d.stopSilenceTimerLocked()
		}
		d.buffer = append(d.buffer, pcm...)
		d.mu.Unlock()
		return level
	}
	if d.active {
		d.buffer = append(d.buffer, pcm...)
		if d.silenceTimer == nil {
			d.silenceTimer = time.AfterFunc(d.cfg.SilenceTimeout, d.onSilenceExpired)
		}
	}
	d.mu.Unlock()
	return level
}

// Flush ends the current utterance immediately, as if the silence window had
// elapsed.
func (d *Detector) Flush() {
	d.onSilenceExpired()
}

// Reset drops any buffered audio and pending timer without emitting.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.stopSilenceTimerLocked()
	d.buffer = nil
	d.active = false
	d.mu.Unlock()
}

// Active reports whether speech is currently detected.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) onSilenceExpired() {
	d.mu.Lock()
	d.stopSilenceTimerLocked()
	wasActive := d.active
	d.active = false
	buf := d.buffer
	d.buffer = nil
	d.mu.Unlock()

	if wasActive && d.sink != nil {
		d.sink.OnSpeechEnd()
	}
	// An empty buffer never produces an utterance; expiry is a no-op then.
	if len(buf) == 0 {
		return
	}
	meta := map[string]string{
		frames.MetaSource:   "vad",
		frames.MetaReason:   "utterance_end",
		frames.MetaEncoding: "linear16",
	}
	// The frame copies into a pooled buffer; the consumer releases it with
	// frames.ReleaseAudioFrame once the audio has been handed off.
	frame := frames.NewAudioFrameFromPool(d.sessionID, d.ptsGen.Next(d.sessionID), buf, d.cfg.SampleRate, 1, meta)
	if err := d.emitter.Emit(frame); err != nil {
		d.logger.Warn("utterance_emit_failed", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("utterance_completed", slog.Int("bytes", len(buf)))
}

func (d *Detector) stopSilenceTimerLocked() {
	if d.silenceTimer != nil {
		d.silenceTimer.Stop()
		d.silenceTimer = nil
	}
}
