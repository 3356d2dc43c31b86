package shared

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Environment variable keys
const (
	EnvKeyConfigPath   = "SHOPGUIDE_CONFIG"
	EnvKeyBackendURL   = "SHOPGUIDE_BACKEND_URL"
	EnvKeyBackendToken = "SHOPGUIDE_TOKEN"
	EnvKeyDeviceID     = "SHOPGUIDE_DEVICE_ID"
	EnvKeyTransport    = "SHOPGUIDE_TRANSPORT"
	EnvKeyEndpoint     = "SHOPGUIDE_REALTIME_ENDPOINT"
	EnvKeyWebSocketURL = "SHOPGUIDE_REALTIME_WS_URL"
	EnvKeyModel        = "SHOPGUIDE_REALTIME_MODEL"
	EnvKeyDebug        = "SHOPGUIDE_DEBUG"
)

const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

const (
	DefaultSampleRate       = 24000
	DefaultFrameDurationMs  = 20
	DefaultHandshakeTimeout = 15 * time.Second
)

type Config struct {
	Backend   BackendConfig  `yaml:"backend"`
	Transport string         `yaml:"transport"`
	Realtime  RealtimeConfig `yaml:"realtime"`
	Session   SessionConfig  `yaml:"session"`
	Audio     AudioConfig    `yaml:"audio"`
	Log       LogConfig      `yaml:"log"`
	History   HistoryConfig  `yaml:"history"`
}

type BackendConfig struct {
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	DeviceID string `yaml:"device_id"`
}

type RealtimeConfig struct {
	// WebRTC SDP endpoint; the model is passed as a query parameter.
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// Base for wss://<host>/ai/realtime/ws/<session_id>.
	WebSocketURL       string `yaml:"websocket_url"`
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms"`
}

func (r RealtimeConfig) HandshakeTimeout() time.Duration {
	if r.HandshakeTimeoutMs <= 0 {
		return DefaultHandshakeTimeout
	}
	return time.Duration(r.HandshakeTimeoutMs) * time.Millisecond
}

type SessionConfig struct {
	Schema             string  `yaml:"schema"`
	Instructions       string  `yaml:"instructions"`
	Voice              string  `yaml:"voice"`
	TranscriptionModel string  `yaml:"transcription_model"`
	VADThreshold       float64 `yaml:"vad_threshold"`
	VADPrefixPaddingMs int     `yaml:"vad_prefix_padding_ms"`
	VADSilenceMs       int     `yaml:"vad_silence_duration_ms"`
	VADEagerness       string  `yaml:"vad_eagerness"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Debug      bool   `yaml:"debug"`
}

type HistoryConfig struct {
	Path      string `yaml:"path"`
	SeedLimit int    `yaml:"seed_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:5006/",
		},
		Transport: TransportWebSocket,
		Realtime: RealtimeConfig{
			Endpoint:           "https://api.openai.com/v1/realtime",
			Model:              "gpt-4o-realtime-preview",
			WebSocketURL:       "ws://127.0.0.1:5006",
			HandshakeTimeoutMs: int(DefaultHandshakeTimeout / time.Millisecond),
		},
		Session: SessionConfig{
			Schema:             "beta",
			Instructions:       "You are a friendly in-store shopping guide. Answer briefly and help the user compare products.",
			Voice:              "alloy",
			TranscriptionModel: "whisper-1",
			VADThreshold:       0.5,
			VADPrefixPaddingMs: 300,
			VADSilenceMs:       500,
			VADEagerness:       "auto",
		},
		Audio: AudioConfig{
			SampleRate:      DefaultSampleRate,
			FrameDurationMs: DefaultFrameDurationMs,
		},
		Log: LogConfig{
			File:       "shopguide.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
		History: HistoryConfig{
			Path:      "shopguide.sqlite",
			SeedLimit: 20,
		},
	}
}

// LoadConfig reads path (optional) over the defaults, then applies any
// environment overrides. A .env file in the working directory is loaded
// first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(EnvKeyConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvKeyBackendURL, &c.Backend.BaseURL},
		{EnvKeyBackendToken, &c.Backend.Token},
		{EnvKeyDeviceID, &c.Backend.DeviceID},
		{EnvKeyTransport, &c.Transport},
		{EnvKeyEndpoint, &c.Realtime.Endpoint},
		{EnvKeyWebSocketURL, &c.Realtime.WebSocketURL},
		{EnvKeyModel, &c.Realtime.Model},
	}
	for _, o := range overrides {
		v, err := Getenv(GetenvString, o.key, false, *o.dst)
		if err != nil {
			return err
		}
		*o.dst = v
	}
	debug, err := Getenv(GetenvBool, EnvKeyDebug, false, c.Log.Debug)
	if err != nil {
		return err
	}
	c.Log.Debug = debug
	return nil
}

// Opus frame sizes with a whole number of milliseconds.
var opusFrameDurationsMs = []int{5, 10, 20, 40, 60}

func (c *Config) Validate() error {
	if c == nil {
		return ErrNoConfig
	}
	switch c.Transport {
	case TransportWebSocket:
		if c.Realtime.WebSocketURL == "" {
			return errors.New("realtime.websocket_url is required for the websocket transport")
		}
	case TransportWebRTC:
		if c.Realtime.Endpoint == "" || c.Realtime.Model == "" {
			return errors.New("realtime.endpoint and realtime.model are required for the webrtc transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	// Both ends of the session are fixed to 24 kHz mono PCM16.
	if c.Audio.SampleRate != DefaultSampleRate {
		return fmt.Errorf("audio.sample_rate must be %d, got %d", DefaultSampleRate, c.Audio.SampleRate)
	}
	if c.Audio.FrameDurationMs <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if c.Transport == TransportWebRTC && !slices.Contains(opusFrameDurationsMs, c.Audio.FrameDurationMs) {
		return fmt.Errorf("audio.frame_duration_ms must be one of %v for the webrtc transport, got %d",
			opusFrameDurationsMs, c.Audio.FrameDurationMs)
	}
	switch c.Session.Schema {
	case "beta", "ga":
	default:
		return fmt.Errorf("unknown session schema %q", c.Session.Schema)
	}
	return nil
}
