package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/wire"
)

// upstreamHarness stands in for the realtime API: it accepts one WebSocket
// per dial and records every message it receives, in arrival order.
type upstreamHarness struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	recv  chan []byte
}

func newUpstreamHarness(t *testing.T) *upstreamHarness {
	t.Helper()
	h := &upstreamHarness{
		conns: make(chan *websocket.Conn, 4),
		recv:  make(chan []byte, 64),
	}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.recv <- data
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *upstreamHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *upstreamHarness) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no upstream connection within 2s")
		return nil
	}
}

func (h *upstreamHarness) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-h.recv:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("no upstream message within 2s")
		return nil
	}
}

type urlDialer struct{ url string }

func (d urlDialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	return conn, err
}

type failingDialer struct{}

func (failingDialer) Dial(context.Context) (*websocket.Conn, error) {
	return nil, context.DeadlineExceeded
}

// upstreamMessage covers every envelope the relay sends upstream.
type upstreamMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
	Item  struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
	Session struct {
		InputAudioFormat string `json:"input_audio_format"`
	} `json:"session"`
}

func decodeUpstream(t *testing.T, data []byte) upstreamMessage {
	t.Helper()
	var m upstreamMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode upstream message: %v", err)
	}
	return m
}

func startRelay(t *testing.T, cfg Config, opts ...Option) (*Server, *websocket.Conn) {
	t.Helper()
	s := New(cfg, opts...)
	front := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	t.Cleanup(front.Close)
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http"), nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func sendWire(t *testing.T, conn *websocket.Conn, m wire.Message) {
	t.Helper()
	enc, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, enc); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func readWire(t *testing.T, conn *websocket.Conn) wire.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	m, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode client message: %v", err)
	}
	return m
}

func TestHandshakePrecedesBufferedAudio(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 150}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	// Audio arriving before the handshake delay elapses must be held back
	// and released after session.update, in arrival order.
	for _, payload := range []string{"AAA=", "AAB=", "AAC="} {
		sendWire(t, client, wire.NewAudioMessage(payload))
	}

	first := decodeUpstream(t, up.next(t))
	if first.Type != "session.update" {
		t.Fatalf("first upstream message = %q, want session.update", first.Type)
	}
	if first.Session.InputAudioFormat != "pcm16" {
		t.Fatalf("input_audio_format = %q, want pcm16", first.Session.InputAudioFormat)
	}
	for _, want := range []string{"AAA=", "AAB=", "AAC="} {
		m := decodeUpstream(t, up.next(t))
		if m.Type != "input_audio_buffer.append" {
			t.Fatalf("message type = %q, want input_audio_buffer.append", m.Type)
		}
		if m.Audio != want {
			t.Fatalf("audio payload = %q, want %q", m.Audio, want)
		}
	}
}

func TestTextBecomesConversationItem(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	sendWire(t, client, wire.NewTextMessage("tell me about your last project"))

	var m upstreamMessage
	for {
		m = decodeUpstream(t, up.next(t))
		if m.Type != "session.update" {
			break
		}
	}
	if m.Type != "conversation.item.create" {
		t.Fatalf("message type = %q, want conversation.item.create", m.Type)
	}
	if m.Item.Role != "user" {
		t.Fatalf("item role = %q, want user", m.Item.Role)
	}
	if len(m.Item.Content) != 1 || m.Item.Content[0].Text != "tell me about your last project" {
		t.Fatalf("unexpected item content: %+v", m.Item.Content)
	}
}

func TestUpstreamDeltasReachClient(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	upConn := up.conn(t)
	writeEvent := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		if err := upConn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("upstream write: %v", err)
		}
	}
	writeEvent(map[string]any{"type": "response.audio.delta", "delta": "UENN"})
	writeEvent(map[string]any{"type": "response.text.delta", "delta": "What "})
	writeEvent(map[string]any{"type": "response.text.delta", "delta": "motivates you?"})

	m := readWire(t, client)
	if m.Type != wire.TypeAudio || m.Data != "UENN" {
		t.Fatalf("first client message = %+v, want audio UENN", m)
	}
	m = readWire(t, client)
	if m.Type != wire.TypeText || m.Data != "What " {
		t.Fatalf("second client message = %+v", m)
	}
	m = readWire(t, client)
	if m.Type != wire.TypeText || m.Data != "motivates you?" {
		t.Fatalf("third client message = %+v", m)
	}
}

func TestSpeechStartedForwardsBargeIn(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	upConn := up.conn(t)
	evt := []byte(`{"type":"input_audio_buffer.speech_started"}`)
	if err := upConn.WriteMessage(websocket.TextMessage, evt); err != nil {
		t.Fatalf("upstream write: %v", err)
	}

	m := readWire(t, client)
	if m.Type != wire.TypeControl || m.Data != wire.ControlBargeIn {
		t.Fatalf("client message = %+v, want control barge_in", m)
	}
}

func TestMalformedUpstreamEventKeepsPairAlive(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	upConn := up.conn(t)
	if err := upConn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("upstream write: %v", err)
	}
	if err := upConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"still here"}`)); err != nil {
		t.Fatalf("upstream write: %v", err)
	}

	m := readWire(t, client)
	if m.Type != wire.TypeText || m.Data != "still here" {
		t.Fatalf("client message = %+v, want text after malformed event", m)
	}
}

func TestClientCloseTearsDownUpstream(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	s, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	upConn := up.conn(t)
	_ = client.Close()

	_ = upConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := upConn.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.LiveSessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still attached after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpstreamCloseTearsDownClient(t *testing.T) {
	up := newUpstreamHarness(t)
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(urlDialer{up.url()}))

	upConn := up.conn(t)
	_ = upConn.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			return
		}
	}
}

func TestStopDrainsPhoneStreams(t *testing.T) {
	up := newUpstreamHarness(t)
	s := New(Config{HandshakeDelayMS: 1}, WithUpstreamDialer(urlDialer{up.url()}))
	front := httptest.NewServer(http.HandlerFunc(s.handlePhoneStream))
	t.Cleanup(front.Close)

	phone, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http"), nil)
	if err != nil {
		t.Fatalf("phone dial: %v", err)
	}
	t.Cleanup(func() { _ = phone.Close() })

	start := `{"event":"start","start":{"callSid":"CA100","streamSid":"MZ100","from":"+15550100"}}`
	if err := phone.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("phone write: %v", err)
	}
	up.conn(t)

	deadline := time.Now().Add(2 * time.Second)
	for s.LiveSessions() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("phone session not tracked: live = %d", s.LiveSessions())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_ = phone.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := phone.ReadMessage(); err != nil {
			break
		}
	}
	if n := s.LiveSessions(); n != 0 {
		t.Fatalf("live sessions after drain = %d, want 0", n)
	}
}

func TestDialFailureNotifiesClient(t *testing.T) {
	cfg := Config{HandshakeDelayMS: 1}
	_, client := startRelay(t, cfg, WithUpstreamDialer(failingDialer{}))

	m := readWire(t, client)
	if m.Type != wire.TypeError || m.Error == "" {
		t.Fatalf("client message = %+v, want error envelope", m)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatalf("expected client close after dial failure")
	}
}

func TestFallbackQuestion(t *testing.T) {
	s := New(Config{})
	srv := httptest.NewServer(http.HandlerFunc(s.handleFallbackQuestion))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"text":"I led a migration"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Question == "" {
		t.Fatalf("empty question")
	}

	getResp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := New(Config{
		AllowedOrigins: []string{"app.example.com", ".vercel.app", "https://studio.example.com"},
	})
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://app.example.com", true},
		{"https://preview-abc123.vercel.app", true},
		{"https://studio.example.com", true},
		{"https://evil.example.net", false},
		{"https://app.example.com.evil.net", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/realtime-api", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := s.checkOrigin(r); got != tc.want {
			t.Fatalf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Path != "/api/realtime-api" {
		t.Fatalf("path = %q", cfg.Path)
	}
	if cfg.HandshakeDelayMS != 250 {
		t.Fatalf("handshake delay = %d, want 250", cfg.HandshakeDelayMS)
	}
	if cfg.Voice != "alloy" {
		t.Fatalf("voice = %q", cfg.Voice)
	}
	if cfg.Temperature != 0.8 {
		t.Fatalf("temperature = %v", cfg.Temperature)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("expected permissive origin default when no allow-list set")
	}
	phone := cfg.phoneSessionConfig()
	if phone.InputAudioFormat != "g711_ulaw" || phone.OutputAudioFormat != "g711_ulaw" {
		t.Fatalf("phone formats = %q/%q", phone.InputAudioFormat, phone.OutputAudioFormat)
	}
}
