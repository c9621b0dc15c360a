package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/realtime"
	"github.com/voceo/voceo/pkg/wire"
)

// ConnState is the lifecycle state of a session pair.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const sendQueueSize = 256

// bridge owns one client connection and its exclusive upstream counterpart.
// All writes to a socket go through that socket's single writer goroutine,
// so per-direction ordering is the channel's FIFO ordering.
type bridge struct {
	id         string
	cfg        Config
	sessionCfg realtime.SessionConfig
	logger     *slog.Logger
	obs        metrics.Observer

	client *websocket.Conn
	dialer UpstreamDialer

	upMu     sync.Mutex
	upstream *websocket.Conn

	clientSend   chan []byte
	upstreamSend chan []byte
	done         chan struct{}
	closeOnce    sync.Once

	// Handshake gating: audio may not reach upstream before session.update.
	hsMu    sync.Mutex
	hsSent  bool
	pending [][]byte

	state        atomic.Int32
	lastActivity atomic.Int64
	startedAt    time.Time
}

func newBridge(cfg Config, client *websocket.Conn, dialer UpstreamDialer, obs metrics.Observer) *bridge {
	id := uuid.NewString()
	b := &bridge{
		id:           id,
		cfg:          cfg,
		sessionCfg:   cfg.sessionConfig(),
		logger:       logging.NewComponentLogger(slog.Default(), "bridge").With(slog.String("session_id", id)),
		obs:          obs,
		client:       client,
		dialer:       dialer,
		clientSend:   make(chan []byte, sendQueueSize),
		upstreamSend: make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		startedAt:    time.Now(),
	}
	b.state.Store(int32(StateConnecting))
	b.touch()
	return b
}

// State reports the session pair lifecycle state.
func (b *bridge) State() ConnState {
	return ConnState(b.state.Load())
}

func (b *bridge) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

// run dials upstream, wires both directions and blocks until the pair is
// torn down. The caller detaches the bridge afterwards.
func (b *bridge) run(ctx context.Context) {
	b.obs.RecordEvent(metrics.MetricsEvent{Name: "session_open", Time: time.Now(), Tags: map[string]string{"session_id": b.id}})
	b.logger.Info("client_connected")

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	upstream, err := b.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		b.logger.Error("upstream_dial_failed", slog.String("error", err.Error()))
		if enc, encErr := wire.Encode(wire.NewErrorMessage("upstream unavailable")); encErr == nil {
			_ = b.client.WriteMessage(websocket.TextMessage, enc)
		}
		_ = b.client.Close()
		b.state.Store(int32(StateClosed))
		b.obs.RecordEvent(metrics.MetricsEvent{Name: "session_close", Time: time.Now(), Value: time.Since(b.startedAt).Seconds(), Tags: map[string]string{"session_id": b.id}})
		return
	}
	b.upMu.Lock()
	b.upstream = upstream
	b.upMu.Unlock()
	b.state.Store(int32(StateOpen))
	b.obs.RecordEvent(metrics.MetricsEvent{Name: "upstream_open", Time: time.Now(), Tags: map[string]string{"session_id": b.id}})
	b.logger.Info("upstream_connected")

	// The upstream endpoint is not ready for the handshake the instant the
	// socket opens; wait the configured delay before session.update.
	handshakeTimer := time.AfterFunc(b.cfg.handshakeDelay(), b.sendHandshake)
	defer handshakeTimer.Stop()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); b.writerLoop(b.client, b.clientSend, "client") }()
	go func() { defer wg.Done(); b.writerLoop(upstream, b.upstreamSend, "upstream") }()
	go func() { defer wg.Done(); b.clientReadLoop() }()
	go func() { defer wg.Done(); b.upstreamReadLoop(upstream) }()
	wg.Wait()

	b.obs.RecordEvent(metrics.MetricsEvent{Name: "upstream_close", Time: time.Now(), Tags: map[string]string{"session_id": b.id}})
	b.obs.RecordEvent(metrics.MetricsEvent{Name: "session_close", Time: time.Now(), Value: time.Since(b.startedAt).Seconds(), Tags: map[string]string{"session_id": b.id}})
	b.logger.Info("session_closed", slog.Duration("duration", time.Since(b.startedAt)))
}

// sendHandshake emits session.update and releases any audio buffered before
// the handshake, preserving arrival order.
func (b *bridge) sendHandshake() {
	payload, err := realtime.NewSessionUpdate(b.sessionCfg)
	if err != nil {
		b.logger.Error("handshake_marshal_failed", slog.String("error", err.Error()))
		b.teardown("handshake marshal failed")
		return
	}
	b.hsMu.Lock()
	defer b.hsMu.Unlock()
	if b.hsSent {
		return
	}
	b.enqueueUpstream(payload)
	b.hsSent = true
	for _, p := range b.pending {
		b.enqueueUpstream(p)
	}
	if n := len(b.pending); n > 0 {
		b.logger.Info("handshake_flush", slog.Int("buffered_frames", n))
	}
	b.pending = nil
	b.logger.Info("handshake_sent")
}

// sendToUpstream forwards a pre-enveloped payload, buffering it when the
// handshake has not gone out yet. Raw audio must never precede session.update.
func (b *bridge) sendToUpstream(payload []byte) {
	b.hsMu.Lock()
	defer b.hsMu.Unlock()
	if !b.hsSent {
		b.pending = append(b.pending, payload)
		return
	}
	b.enqueueUpstream(payload)
}

func (b *bridge) enqueueUpstream(payload []byte) {
	select {
	case b.upstreamSend <- payload:
	case <-b.done:
	}
}

func (b *bridge) sendToClient(payload []byte) {
	select {
	case b.clientSend <- payload:
	case <-b.done:
	}
}

func (b *bridge) writerLoop(conn *websocket.Conn, ch <-chan []byte, side string) {
	for {
		select {
		case msg := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.Warn("write_failed", slog.String("side", side), slog.String("error", err.Error()))
				b.teardown(side + " write failed")
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *bridge) clientReadLoop() {
	defer b.teardown("client closed")
	for {
		_, data, err := b.client.ReadMessage()
		if err != nil {
			return
		}
		b.touch()
		msg, err := wire.Decode(data)
		if err != nil {
			b.logger.Warn("client_message_invalid", slog.String("error", err.Error()))
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "message_dropped", Time: time.Now(), Tags: map[string]string{"session_id": b.id, "reason": "client_parse"}})
			continue
		}
		switch msg.Type {
		case wire.TypeAudio:
			payload, err := realtime.NewAudioAppend(msg.Data)
			if err != nil {
				b.logger.Warn("audio_envelope_failed", slog.String("error", err.Error()))
				continue
			}
			b.sendToUpstream(payload)
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": b.id, frames.MetaDirection: frames.DirectionClientToUpstream, "kind": "audio"}})
		case wire.TypeText:
			payload, err := realtime.NewUserTextItem(msg.Data)
			if err != nil {
				b.logger.Warn("text_envelope_failed", slog.String("error", err.Error()))
				continue
			}
			b.sendToUpstream(payload)
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": b.id, frames.MetaDirection: frames.DirectionClientToUpstream, "kind": "text"}})
		default:
			b.logger.Debug("client_message_ignored", slog.String("type", msg.Type))
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "message_dropped", Time: time.Now(), Tags: map[string]string{"session_id": b.id, "reason": "client_unknown_type"}})
		}
	}
}

func (b *bridge) upstreamReadLoop(upstream *websocket.Conn) {
	defer b.teardown("upstream closed")
	for {
		_, data, err := upstream.ReadMessage()
		if err != nil {
			return
		}
		b.touch()
		ev, err := realtime.ParseEvent(data)
		if err != nil {
			// A malformed event drops that message only; the pair stays up.
			b.logger.Warn("upstream_event_invalid", slog.String("error", err.Error()))
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "message_dropped", Time: time.Now(), Tags: map[string]string{"session_id": b.id, "reason": "upstream_parse"}})
			continue
		}
		b.handleUpstreamEvent(ev)
	}
}

func (b *bridge) handleUpstreamEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventResponseAudioDelta:
		if ev.Delta == "" {
			return
		}
		if enc, err := wire.Encode(wire.NewAudioMessage(ev.Delta)); err == nil {
			b.sendToClient(enc)
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": b.id, frames.MetaDirection: frames.DirectionUpstreamToClient, "kind": "audio"}})
		}
	case realtime.EventResponseTextDelta:
		if ev.Delta == "" {
			return
		}
		if enc, err := wire.Encode(wire.NewTextMessage(ev.Delta)); err == nil {
			b.sendToClient(enc)
			b.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": b.id, frames.MetaDirection: frames.DirectionUpstreamToClient, "kind": "text"}})
		}
	case realtime.EventSpeechStarted:
		// Upstream VAD heard the user over the assistant: tell the client to
		// flush playback.
		if enc, err := wire.Encode(wire.NewControlMessage(wire.ControlBargeIn)); err == nil {
			b.sendToClient(enc)
		}
		b.logger.Info("speech_started")
	case realtime.EventError:
		msg := "upstream error"
		if ev.Err != nil && ev.Err.Message != "" {
			msg = ev.Err.Message
		}
		b.logger.Error("upstream_error_event", slog.String("message", msg))
		if enc, err := wire.Encode(wire.NewErrorMessage(msg)); err == nil {
			b.sendToClient(enc)
		}
	case realtime.EventUnknown:
		b.logger.Debug("upstream_event_unhandled", slog.String("raw", string(ev.Raw)))
	default:
		if realtime.DiagnosticEvents[ev.Type] {
			b.logger.Info("upstream_event", slog.String("type", string(ev.Type)))
		}
	}
}

// teardown closes both sides of the pair. Safe to call from any goroutine,
// any number of times.
func (b *bridge) teardown(reason string) {
	b.closeOnce.Do(func() {
		b.state.Store(int32(StateClosing))
		close(b.done)
		_ = b.client.Close()
		b.upMu.Lock()
		if b.upstream != nil {
			_ = b.upstream.Close()
		}
		b.upMu.Unlock()
		b.state.Store(int32(StateClosed))
		b.logger.Info("teardown", slog.String("reason", reason))
	})
}
