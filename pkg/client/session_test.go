package client

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/playback"
	"github.com/voceo/voceo/pkg/wire"
)

// fakeRelay accepts WebSocket sessions and records client messages. Accepted
// connections can be dropped to simulate an unexpected close.
type fakeRelay struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
	recv  chan wire.Message
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{recv: make(chan wire.Message, 64)}
	up := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if m, err := wire.Decode(data); err == nil {
				r.recv <- m
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *fakeRelay) conn(t *testing.T, i int) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.conns) > i {
			c := r.conns[i]
			r.mu.Unlock()
			return c
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("connection %d never arrived", i)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (r *fakeRelay) next(t *testing.T) wire.Message {
	t.Helper()
	select {
	case m := <-r.recv:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no client message within 2s")
		return wire.Message{}
	}
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("session never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	relay := newFakeRelay(t)
	s := NewSession(Config{
		RelayURL:          relay.url(),
		ReconnectInterval: 50 * time.Millisecond,
	}, nil, Handlers{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	waitConnected(t, s)

	// Server drops the socket; the session must dial again after the fixed
	// interval.
	_ = relay.conn(t, 0).Close()

	deadline := time.Now().Add(2 * time.Second)
	for relay.connCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no reconnect after unexpected close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitConnected(t, s)
	if s.Attempts() < 2 {
		t.Fatalf("attempts = %d, want >= 2", s.Attempts())
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	relay := newFakeRelay(t)
	s := NewSession(Config{
		RelayURL:          relay.url(),
		ReconnectInterval: 20 * time.Millisecond,
	}, nil, Handlers{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitConnected(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	attempts := s.Attempts()
	time.Sleep(100 * time.Millisecond)
	if s.Attempts() != attempts {
		t.Fatalf("session kept dialing after Close")
	}
}

func TestSendAudioEncodesForUpstream(t *testing.T) {
	relay := newFakeRelay(t)
	s := NewSession(Config{
		RelayURL:           relay.url(),
		ReconnectInterval:  50 * time.Millisecond,
		CaptureSampleRate:  48000,
		UpstreamSampleRate: 24000,
	}, nil, Handlers{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	waitConnected(t, s)

	samples := make([]float32, 960)
	for i := range samples {
		samples[i] = 0.25
	}
	s.SendAudio(samples, 48000)

	m := relay.next(t)
	if m.Type != wire.TypeAudio {
		t.Fatalf("message type = %q, want audio", m.Type)
	}
	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	// 960 samples at 48k resample to 480 at 24k, two bytes each.
	if len(raw) != 960 {
		t.Fatalf("payload bytes = %d, want 960", len(raw))
	}
	if int16(uint16(raw[0])|uint16(raw[1])<<8) <= 0 {
		t.Fatalf("expected positive first sample")
	}
}

func TestIncomingAudioEnqueuedAndBargeInClears(t *testing.T) {
	relay := newFakeRelay(t)
	queue := playback.NewQueue(blockedPlayer{})

	var mu sync.Mutex
	var transcript []string
	bargeIns := 0
	s := NewSession(Config{
		RelayURL:          relay.url(),
		ReconnectInterval: 50 * time.Millisecond,
	}, queue, Handlers{
		OnTranscript: func(text string) {
			mu.Lock()
			transcript = append(transcript, text)
			mu.Unlock()
		},
		OnBargeIn: func() {
			mu.Lock()
			bargeIns++
			mu.Unlock()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	waitConnected(t, s)

	conn := relay.conn(t, 0)
	sendMsg := func(m wire.Message) {
		enc, err := wire.Encode(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, enc); err != nil {
			t.Fatalf("relay write: %v", err)
		}
	}
	pcm := base64.StdEncoding.EncodeToString(make([]byte, 480))
	sendMsg(wire.NewAudioMessage(pcm))
	sendMsg(wire.NewAudioMessage(pcm))
	sendMsg(wire.NewTextMessage("Why Go?"))

	deadline := time.Now().Add(2 * time.Second)
	for queue.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("queue length = %d, want 2", queue.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	sendMsg(wire.NewControlMessage(wire.ControlBargeIn))
	deadline = time.Now().Add(2 * time.Second)
	for queue.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue not cleared on barge-in")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transcript) != 1 || transcript[0] != "Why Go?" {
		t.Fatalf("transcript = %v", transcript)
	}
	if bargeIns != 1 {
		t.Fatalf("barge-in handler calls = %d, want 1", bargeIns)
	}
}

// blockedPlayer never finishes, so enqueued chunks stay countable. The queue
// is not started in that test; chunks accumulate.
type blockedPlayer struct{}

func (blockedPlayer) Play(ctx context.Context, chunk playback.Chunk) error {
	<-ctx.Done()
	return ctx.Err()
}
