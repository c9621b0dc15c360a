package realtime

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/voceo/voceo/pkg/errorsx"
)

const DefaultURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

// DialerConfig carries the upstream endpoint and credential. The credential
// is process-wide static configuration; everything per-session lives on the
// session that owns the connection.
type DialerConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// Dialer opens authenticated upstream connections.
type Dialer struct {
	cfg DialerConfig
	ws  *websocket.Dialer
}

func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Dialer{cfg: cfg, ws: &websocket.Dialer{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}}
}

// Dial opens one upstream WebSocket. Each call returns a connection owned
// exclusively by a single client session.
func (d *Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	conn, resp, err := d.ws.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonUpstreamDial)
	}
	return conn, nil
}
