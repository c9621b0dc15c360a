// Package relay bridges client WebSocket connections 1:1 to upstream
// realtime-API connections. Each accepted client owns exactly one upstream
// connection for its lifetime; sessions share nothing but static
// configuration. Closing either side of a pair tears down the other.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/metrics"
	"github.com/voceo/voceo/pkg/realtime"
)

// UpstreamDialer opens one upstream connection per client session.
type UpstreamDialer interface {
	Dial(ctx context.Context) (*websocket.Conn, error)
}

// AccessGate is consulted before upgrading a client connection. An
// implementation typically verifies the user id and account entitlement; the
// mechanics live outside the relay.
type AccessGate interface {
	Allow(r *http.Request) error
}

type allowAll struct{}

func (allowAll) Allow(*http.Request) error { return nil }

type Server struct {
	cfg      Config
	dialer   UpstreamDialer
	gate     AccessGate
	obs      metrics.Observer
	promExpo http.Handler
	logger   *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	sessions      map[string]*bridge
	phoneSessions map[string]*phoneBridge

	draining atomic.Bool
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithAccessGate installs the auth/entitlement predicate.
func WithAccessGate(g AccessGate) Option {
	return func(s *Server) { s.gate = g }
}

// WithObserver installs the metrics observer.
func WithObserver(obs metrics.Observer) Option {
	return func(s *Server) { s.obs = obs }
}

// WithMetricsHandler mounts a /metrics endpoint.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promExpo = h }
}

// WithUpstreamDialer replaces the default dialer (used by tests and by the
// console harness).
func WithUpstreamDialer(d UpstreamDialer) Option {
	return func(s *Server) { s.dialer = d }
}

func New(cfg Config, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		dialer: realtime.NewDialer(cfg.Upstream),
		gate:   allowAll{},
		obs:    metrics.NoopObserver{},
		logger: logging.NewComponentLogger(slog.Default(), "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
		},
		sessions:      make(map[string]*bridge),
		phoneSessions: make(map[string]*phoneBridge),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Name() string { return "relay" }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, http.HandlerFunc(s.handleUpgrade))
	mux.HandleFunc("/api/llm", s.handleFallbackQuestion)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.promExpo != nil {
		mux.Handle("/metrics", s.promExpo)
	}
	if s.cfg.Phone.Enabled {
		mux.HandleFunc(s.cfg.Phone.VoicePath, s.handlePhoneVoice)
		mux.HandleFunc(s.cfg.Phone.WSPath, s.handlePhoneStream)
	}
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop drains all live sessions and shuts the listener down.
func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	live := make([]*bridge, 0, len(s.sessions))
	for _, b := range s.sessions {
		live = append(live, b)
	}
	s.sessions = make(map[string]*bridge)
	phones := make([]*phoneBridge, 0, len(s.phoneSessions))
	for _, pb := range s.phoneSessions {
		phones = append(phones, pb)
	}
	s.phoneSessions = make(map[string]*phoneBridge)
	s.mu.Unlock()
	for _, b := range live {
		b.teardown("server draining")
	}
	for _, pb := range phones {
		pb.teardown("server draining")
	}
	return nil
}

// LiveSessions reports the number of live session pairs, browser and phone.
func (s *Server) LiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) + len(s.phoneSessions)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.gate.Allow(r); err != nil {
		s.logger.Warn("client_rejected", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b := newBridge(s.cfg, conn, s.dialer, s.obs)
	s.attach(b)
	// The upgrade hijacks the connection; the request context dies with the
	// handler, so the bridge runs on its own context.
	go func() {
		b.run(context.Background())
		s.detach(b.id)
	}()
}

func (s *Server) attach(b *bridge) {
	s.mu.Lock()
	s.sessions[b.id] = b
	s.mu.Unlock()
}

func (s *Server) detach(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) attachPhone(pb *phoneBridge) {
	s.mu.Lock()
	s.phoneSessions[pb.id] = pb
	s.mu.Unlock()
}

func (s *Server) detachPhone(id string) {
	s.mu.Lock()
	delete(s.phoneSessions, id)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		// Suffix entries like ".vercel.app" match any deployment host.
		if strings.HasPrefix(a, ".") {
			if strings.HasSuffix(originHost, a) {
				return true
			}
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
