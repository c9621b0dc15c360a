package client

import "time"

type Config struct {
	// RelayURL is the ws:// or wss:// endpoint of the relay.
	RelayURL string `mapstructure:"relay_url"`
	// FallbackURL is the HTTP endpoint serving canned follow-up questions
	// when the realtime path is down.
	FallbackURL string `mapstructure:"fallback_url"`

	// ReconnectInterval is the fixed pause between reconnect attempts after
	// an unexpected close. Attempts are unbounded.
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`

	// CaptureSampleRate is the rate of locally captured audio.
	CaptureSampleRate int `mapstructure:"capture_sample_rate"`
	// UpstreamSampleRate is the rate the realtime API expects.
	UpstreamSampleRate int `mapstructure:"upstream_sample_rate"`
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.CaptureSampleRate <= 0 {
		c.CaptureSampleRate = 48000
	}
	if c.UpstreamSampleRate <= 0 {
		c.UpstreamSampleRate = 24000
	}
	return c
}
