package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/voceo/voceo/pkg/errorsx"
	"github.com/voceo/voceo/pkg/frames"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/realtime"
)

// Phone sessions bridge Twilio media streams to the same upstream as browser
// sessions. Twilio delivers base64 g711 mu-law frames; the upstream session
// is configured for g711_ulaw so payloads pass through verbatim in both
// directions, exactly like the browser PCM path.

type phoneEvent struct {
	Event string      `json:"event"`
	Start *phoneStart `json:"start,omitempty"`
	Media *phoneMedia `json:"media,omitempty"`
	Stop  *phoneStop  `json:"stop,omitempty"`
}

type phoneStart struct {
	CallSID   string `json:"callSid"`
	StreamSID string `json:"streamSid"`
	From      string `json:"from"`
}

type phoneMedia struct {
	Payload string `json:"payload"`
}

type phoneStop struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePhoneVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Phone.AuthToken != "" && !s.validatePhoneRequest(r) {
		s.logger.Warn("phone_invalid_signature", slog.String("reason_code", string(errorsx.ReasonPhoneInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := s.phoneStreamURL(r)
	greeting := strings.TrimSpace(s.cfg.Phone.Greeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) handlePhoneStream(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	pb := &phoneBridge{
		id:           uuid.NewString(),
		cfg:          s.cfg,
		logger:       logging.NewComponentLogger(slog.Default(), "phone_bridge"),
		obs:          s.obs,
		dialer:       s.dialer,
		twilio:       conn,
		twilioSend:   make(chan []byte, sendQueueSize),
		upstreamSend: make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		startedAt:    time.Now(),
	}
	// Phone bridges drain with the browser sessions on Stop.
	s.attachPhone(pb)
	go func() {
		pb.run()
		s.detachPhone(pb.id)
	}()
}

func (s *Server) validatePhoneRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(s.cfg.Phone.AuthToken)
	return validator.ValidateBody(s.phoneRequestURL(r), body, signature)
}

func (s *Server) phoneRequestURL(r *http.Request) string {
	if s.cfg.Phone.PublicURL != "" {
		return strings.TrimRight(s.cfg.Phone.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) phoneStreamURL(r *http.Request) string {
	if s.cfg.Phone.PublicURL != "" {
		host := strings.TrimPrefix(s.cfg.Phone.PublicURL, "https://")
		host = strings.TrimPrefix(host, "http://")
		return "wss://" + strings.TrimRight(host, "/") + s.cfg.Phone.WSPath
	}
	return "wss://" + r.Host + s.cfg.Phone.WSPath
}

type phoneBridge struct {
	id     string
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
	dialer UpstreamDialer

	twilio    *websocket.Conn
	streamSID string
	callSID   string

	upMu     sync.Mutex
	upstream *websocket.Conn

	twilioSend   chan []byte
	upstreamSend chan []byte
	done         chan struct{}
	closeOnce    sync.Once

	hsMu    sync.Mutex
	hsSent  bool
	pending [][]byte

	startedAt time.Time
}

func (p *phoneBridge) run() {
	defer p.teardown("stream ended")
	for {
		_, data, err := p.twilio.ReadMessage()
		if err != nil {
			return
		}
		var evt phoneEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			p.streamSID = evt.Start.StreamSID
			p.callSID = evt.Start.CallSID
			p.logger = p.logger.With(slog.String("call_sid", p.callSID))
			if !p.connectUpstream() {
				return
			}
		case "media":
			if evt.Media == nil || p.streamSID == "" {
				continue
			}
			// Twilio payloads are already base64 mu-law; pass through.
			payload, err := realtime.NewAudioAppend(evt.Media.Payload)
			if err != nil {
				continue
			}
			p.sendToUpstream(payload)
			p.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": p.streamSID, frames.MetaDirection: frames.DirectionClientToUpstream, "kind": "audio"}})
		case "stop":
			return
		}
	}
}

func (p *phoneBridge) connectUpstream() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	upstream, err := p.dialer.Dial(ctx)
	cancel()
	if err != nil {
		p.logger.Error("upstream_dial_failed", slog.String("error", err.Error()))
		return false
	}
	p.upMu.Lock()
	p.upstream = upstream
	p.upMu.Unlock()
	p.obs.RecordEvent(metrics.MetricsEvent{Name: "session_open", Time: time.Now(), Tags: map[string]string{"session_id": p.streamSID}})
	p.obs.RecordEvent(metrics.MetricsEvent{Name: "upstream_open", Time: time.Now(), Tags: map[string]string{"session_id": p.streamSID}})
	p.logger.Info("upstream_connected")

	time.AfterFunc(p.cfg.handshakeDelay(), p.sendHandshake)

	go p.writerLoop(p.twilio, p.twilioSend, "twilio")
	go p.writerLoop(upstream, p.upstreamSend, "upstream")
	go p.upstreamReadLoop(upstream)
	return true
}

func (p *phoneBridge) sendHandshake() {
	payload, err := realtime.NewSessionUpdate(p.cfg.phoneSessionConfig())
	if err != nil {
		p.teardown("handshake marshal failed")
		return
	}
	p.hsMu.Lock()
	defer p.hsMu.Unlock()
	if p.hsSent {
		return
	}
	p.enqueueUpstream(payload)
	p.hsSent = true
	for _, pending := range p.pending {
		p.enqueueUpstream(pending)
	}
	p.pending = nil
	p.logger.Info("handshake_sent")
}

func (p *phoneBridge) sendToUpstream(payload []byte) {
	p.hsMu.Lock()
	defer p.hsMu.Unlock()
	if !p.hsSent {
		p.pending = append(p.pending, payload)
		return
	}
	p.enqueueUpstream(payload)
}

func (p *phoneBridge) enqueueUpstream(payload []byte) {
	select {
	case p.upstreamSend <- payload:
	case <-p.done:
	}
}

func (p *phoneBridge) sendToTwilio(payload []byte) {
	select {
	case p.twilioSend <- payload:
	case <-p.done:
	}
}

func (p *phoneBridge) writerLoop(conn *websocket.Conn, ch <-chan []byte, side string) {
	for {
		select {
		case msg := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.teardown(side + " write failed")
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *phoneBridge) upstreamReadLoop(upstream *websocket.Conn) {
	defer p.teardown("upstream closed")
	for {
		_, data, err := upstream.ReadMessage()
		if err != nil {
			return
		}
		ev, err := realtime.ParseEvent(data)
		if err != nil {
			p.logger.Warn("upstream_event_invalid", slog.String("error", err.Error()))
			continue
		}
		switch ev.Type {
		case realtime.EventResponseAudioDelta:
			if ev.Delta == "" {
				continue
			}
			msg, err := json.Marshal(map[string]any{
				"event":     "media",
				"streamSid": p.streamSID,
				"media":     map[string]any{"payload": ev.Delta},
			})
			if err == nil {
				p.sendToTwilio(msg)
				p.obs.RecordEvent(metrics.MetricsEvent{Name: "frame_forwarded", Time: time.Now(), Tags: map[string]string{"session_id": p.streamSID, frames.MetaDirection: frames.DirectionUpstreamToClient, "kind": "audio"}})
			}
		case realtime.EventSpeechStarted:
			// Barge-in on the phone path: Twilio discards its queued audio.
			msg, err := json.Marshal(map[string]any{
				"event":     "clear",
				"streamSid": p.streamSID,
			})
			if err == nil {
				p.sendToTwilio(msg)
			}
		default:
			if realtime.DiagnosticEvents[ev.Type] {
				p.logger.Info("upstream_event", slog.String("type", string(ev.Type)))
			}
		}
	}
}

func (p *phoneBridge) teardown(reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.twilio.Close()
		p.upMu.Lock()
		opened := p.upstream != nil
		if opened {
			_ = p.upstream.Close()
		}
		p.upMu.Unlock()
		if opened {
			p.obs.RecordEvent(metrics.MetricsEvent{Name: "upstream_close", Time: time.Now(), Tags: map[string]string{"session_id": p.streamSID}})
			p.obs.RecordEvent(metrics.MetricsEvent{Name: "session_close", Time: time.Now(), Value: time.Since(p.startedAt).Seconds(), Tags: map[string]string{"session_id": p.streamSID}})
		}
		p.logger.Info("teardown", slog.String("reason", reason))
	})
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}
