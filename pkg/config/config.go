// Package config loads the service configuration file. Strings support
// ${ENV} expansion so credentials stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/voceo/voceo/pkg/client"
	"github.com/voceo/voceo/pkg/relay"
)

// VendorConfig selects a provider implementation plus its free-form settings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	// RedactPII scrubs emails and phone numbers from logged transcripts.
	RedactPII bool `mapstructure:"redact_pii"`
}

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Relay         relay.Config        `mapstructure:"relay"`
	Client        client.Config       `mapstructure:"client"`
	STT           VendorConfig        `mapstructure:"stt"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("relay.server_addr", ":8080")
	v.SetDefault("relay.path", "/api/realtime-api")
	v.SetDefault("relay.handshake_delay_ms", 250)
	v.SetDefault("relay.voice", "alloy")
	v.SetDefault("relay.temperature", 0.8)
	v.SetDefault("relay.upstream.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("client.reconnect_interval", "5s")
	v.SetDefault("client.capture_sample_rate", 48000)
	v.SetDefault("client.upstream_sample_rate", 24000)
	v.SetDefault("stt.provider", "mock")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.redact_pii", false)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.STT.Settings = expandSettings(cfg.STT.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Relay.Upstream.APIKey) == "" {
		return fmt.Errorf("relay.upstream.api_key is required")
	}
	if strings.TrimSpace(c.STT.Provider) == "" {
		return fmt.Errorf("stt.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
