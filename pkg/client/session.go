// Package client owns the candidate side of a realtime interview: the
// WebSocket to the relay, local audio encoding, and the playback queue for
// synthesized answers.
package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/audio"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/playback"
	"github.com/voceo/voceo/pkg/wire"
)

const sendQueueSize = 256

// Handlers receive session events. Nil handlers are skipped.
type Handlers struct {
	OnTranscript func(text string)
	OnBargeIn    func()
	OnError      func(msg string)
	OnConnect    func()
	OnDisconnect func()
}

// Session maintains the relay connection for one call. An unexpected close
// triggers reconnection at a fixed interval, indefinitely, until Close.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	obs      metrics.Observer
	queue    *playback.Queue
	handlers Handlers

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closed   bool
	runDone  chan struct{}
	started  bool
	connUp   atomic.Bool
	attempts atomic.Int64
}

func NewSession(cfg Config, queue *playback.Queue, handlers Handlers, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg.withDefaults(),
		logger:   logging.NewComponentLogger(slog.Default(), "client"),
		obs:      metrics.NoopObserver{},
		queue:    queue,
		handlers: handlers,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		runDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures optional session collaborators.
type Option func(*Session)

// WithObserver installs the metrics observer.
func WithObserver(obs metrics.Observer) Option {
	return func(s *Session) { s.obs = obs }
}

// Start launches the connection loop. Returns immediately.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	go s.run(ctx)
	return nil
}

// Close ends the session permanently; no reconnect follows.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	started := s.started
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-s.runDone
	}
	return nil
}

// Connected reports whether the relay socket is currently open.
func (s *Session) Connected() bool {
	return s.connUp.Load()
}

// Attempts reports the number of dials made so far.
func (s *Session) Attempts() int64 {
	return s.attempts.Load()
}

// SendAudio encodes one window of captured audio and forwards it: resample to
// the upstream rate, quantize to int16 LE, base64. Dropped when disconnected.
func (s *Session) SendAudio(samples []float32, rate int) {
	if rate <= 0 {
		rate = s.cfg.CaptureSampleRate
	}
	resampled := audio.Resample(samples, rate, s.cfg.UpstreamSampleRate)
	payload := audio.EncodeBase64PCM16(resampled)
	s.enqueue(wire.NewAudioMessage(payload))
}

// SendText forwards a text message, typically a finalized transcript.
func (s *Session) SendText(text string) {
	s.enqueue(wire.NewTextMessage(text))
}

func (s *Session) enqueue(m wire.Message) {
	if !s.connUp.Load() {
		s.obs.RecordEvent(metrics.MetricsEvent{Name: "message_dropped", Time: time.Now(), Tags: map[string]string{"reason": "disconnected"}})
		return
	}
	enc, err := wire.Encode(m)
	if err != nil {
		return
	}
	select {
	case s.send <- enc:
	default:
		s.obs.RecordEvent(metrics.MetricsEvent{Name: "message_dropped", Time: time.Now(), Tags: map[string]string{"reason": "send_queue_full"}})
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.runDone)
	for {
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		s.attempts.Add(1)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.RelayURL, nil)
		if err != nil {
			s.logger.Warn("relay_dial_failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", s.cfg.ReconnectInterval))
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()
		s.connUp.Store(true)
		s.logger.Info("relay_connected")
		if s.handlers.OnConnect != nil {
			s.handlers.OnConnect()
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.writerLoop(conn, stop)
		}()
		s.readLoop(conn)
		close(stop)
		wg.Wait()

		s.connUp.Store(false)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect()
		}
		if s.isClosed() {
			return
		}
		s.logger.Info("relay_disconnected",
			slog.Duration("retry_in", s.cfg.ReconnectInterval))
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Session) writerLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case msg := <-s.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-stop:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("relay_message_invalid", slog.String("error", err.Error()))
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg wire.Message) {
	switch msg.Type {
	case wire.TypeAudio:
		pcm, err := audio.DecodeBase64(msg.Data)
		if err != nil {
			s.logger.Warn("audio_decode_failed", slog.String("error", err.Error()))
			return
		}
		if s.queue != nil {
			// The player consumes WAV; synthesize the header over raw PCM.
			s.queue.Enqueue(playback.Chunk{
				Data:       audio.WrapWAV(pcm, s.cfg.UpstreamSampleRate, 1),
				SampleRate: s.cfg.UpstreamSampleRate,
			})
		}
	case wire.TypeText:
		if s.handlers.OnTranscript != nil {
			s.handlers.OnTranscript(msg.Data)
		}
	case wire.TypeControl:
		if msg.Data == wire.ControlBargeIn {
			if s.queue != nil {
				s.queue.Clear()
			}
			if s.handlers.OnBargeIn != nil {
				s.handlers.OnBargeIn()
			}
		}
	case wire.TypeError:
		s.logger.Error("relay_error", slog.String("message", msg.Error))
		if s.handlers.OnError != nil {
			s.handlers.OnError(msg.Error)
		}
	default:
		s.logger.Debug("relay_message_ignored", slog.String("type", msg.Type))
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) sleep(ctx context.Context) bool {
	select {
	case <-time.After(s.cfg.ReconnectInterval):
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
