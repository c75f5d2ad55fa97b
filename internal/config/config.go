// Package config handles client configuration
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. TALKBACK_SERVER_URL.
const EnvPrefix = "TALKBACK"

type Config struct {
	ServerURL         string        `mapstructure:"server_url"`
	LogLevel          string        `mapstructure:"log_level"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Reconnect         Reconnect     `mapstructure:"reconnect"`
	Stream            Stream        `mapstructure:"stream"`
	Voice             Voice         `mapstructure:"voice"`
	Loopback          Loopback      `mapstructure:"loopback"`
}

// Reconnect tunes the socket reconnection policy.
type Reconnect struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	SlowBaseDelay time.Duration `mapstructure:"slow_base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	QuickFailure  time.Duration `mapstructure:"quick_failure"`
}

type Stream struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type Voice struct {
	CaptureRate      int           `mapstructure:"capture_rate"`
	PlaybackRate     int           `mapstructure:"playback_rate"`
	ChunkDuration    time.Duration `mapstructure:"chunk_duration"`
	Codec            string        `mapstructure:"codec"`
	InputDevice      string        `mapstructure:"input_device"`
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
	AutoGain         bool          `mapstructure:"auto_gain"`
}

type Loopback struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"server_url":                "http://localhost:8000",
	"log_level":                 "info",
	"history_limit":             100,
	"http_timeout":              15 * time.Second,
	"heartbeat_interval":        25 * time.Second,
	"reconnect.max_attempts":    5,
	"reconnect.base_delay":      time.Second,
	"reconnect.slow_base_delay": 5 * time.Second,
	"reconnect.max_delay":       30 * time.Second,
	"reconnect.quick_failure":   time.Second,
	"stream.flush_interval":     50 * time.Millisecond,
	"voice.capture_rate":        16000,
	"voice.playback_rate":       24000,
	"voice.chunk_duration":      100 * time.Millisecond,
	"voice.codec":               "opus",
	"voice.input_device":        "",
	"voice.echo_cancellation":   true,
	"voice.noise_suppression":   true,
	"voice.auto_gain":           true,
	"loopback.addr":             ":8000",
}

// Load reads .env, an optional config file and TALKBACK_* environment
// variables on top of the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL)
	}
	if c.Voice.Codec != "opus" && c.Voice.Codec != "linear16" {
		return fmt.Errorf("voice.codec %q must be opus or linear16", c.Voice.Codec)
	}
	if c.Voice.CaptureRate <= 0 || c.Voice.PlaybackRate <= 0 {
		return fmt.Errorf("voice sample rates must be positive")
	}
	if c.Voice.ChunkDuration <= 0 {
		return fmt.Errorf("voice.chunk_duration must be positive")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	return nil
}

// SocketURL returns the ws(s) endpoint for a purpose ("chat" or "voice").
func (c *Config) SocketURL(purpose, conversationID string) string {
	u, _ := url.Parse(c.ServerURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	base := strings.TrimSuffix(u.Path, "/") + "/ws/" + purpose + "/"
	u.Path = base + conversationID
	u.RawPath = base + url.PathEscape(conversationID)
	return u.String()
}

// APIURL returns the REST base URL.
func (c *Config) APIURL() string {
	return strings.TrimSuffix(c.ServerURL, "/") + "/api"
}
