package relay

import (
	"time"

	"github.com/voceo/voceo/pkg/realtime"
)

// DefaultInstructions is the interviewer persona sent in the session
// handshake when no instructions are configured.
const DefaultInstructions = "You are an AI interview assistant conducting a realistic job interview. " +
	"Ask relevant, challenging questions for the candidate's role and industry, adapt difficulty to their answers, " +
	"keep a natural conversational flow with follow-up questions, and do not interrupt the candidate while they speak. " +
	"Stay professional and encouraging, give brief constructive feedback when useful, and close with a summary " +
	"and a chance for the candidate to ask questions."

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// HandshakeDelayMS is the pause between upstream socket open and the
	// session.update handshake. The upstream endpoint is empirically not
	// ready to accept the handshake immediately on open; this is an
	// operational constant, not a protocol requirement.
	HandshakeDelayMS int `mapstructure:"handshake_delay_ms"`

	Voice        string  `mapstructure:"voice"`
	Instructions string  `mapstructure:"instructions"`
	Temperature  float64 `mapstructure:"temperature"`

	Upstream realtime.DialerConfig `mapstructure:"upstream"`

	Phone PhoneConfig `mapstructure:"phone"`
}

// PhoneConfig enables the telephony dial-in endpoint.
type PhoneConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	VoicePath  string `mapstructure:"voice_path"`
	WSPath     string `mapstructure:"ws_path"`
	PublicURL  string `mapstructure:"public_url"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	Greeting   string `mapstructure:"greeting"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/api/realtime-api"
	}
	if c.HandshakeDelayMS <= 0 {
		c.HandshakeDelayMS = 250
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.Temperature == 0 {
		c.Temperature = 0.8
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.Phone.VoicePath == "" {
		c.Phone.VoicePath = "/voice"
	}
	if c.Phone.WSPath == "" {
		c.Phone.WSPath = "/phone-ws"
	}
	return c
}

func (c Config) handshakeDelay() time.Duration {
	return time.Duration(c.HandshakeDelayMS) * time.Millisecond
}

// sessionConfig builds the handshake payload for a browser session.
func (c Config) sessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		TurnDetection:     &realtime.TurnDetection{Type: "server_vad"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Voice:             c.Voice,
		Instructions:      c.Instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       c.Temperature,
	}
}

// phoneSessionConfig builds the handshake payload for a phone session, which
// carries g711 mu-law in both directions.
func (c Config) phoneSessionConfig() realtime.SessionConfig {
	cfg := c.sessionConfig()
	cfg.InputAudioFormat = "g711_ulaw"
	cfg.OutputAudioFormat = "g711_ulaw"
	return cfg
}
