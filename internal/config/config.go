// Package config provides the configuration schema and loader for the
// Voxwire conversational audio pipeline.
package config

import "time"

// LogLevel controls log verbosity for the Voxwire server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Boundary   BoundaryConfig   `yaml:"boundary"`
	Transcribe TranscribeConfig `yaml:"transcription"`
	Audio      AudioConfig      `yaml:"audio"`
	Turn       TurnConfig       `yaml:"turn"`
	Database   DatabaseConfig   `yaml:"database"`
}

// ServerConfig holds network and logging settings for the Voxwire server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BoundaryConfig points at the reasoning/synthesis boundary that allocates
// sessions and answers finalized turns.
type BoundaryConfig struct {
	// BaseURL is the boundary's HTTP base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates this pipeline against the boundary.
	APIKey string `yaml:"api_key"`

	// RequestTimeout bounds each round trip. Zero uses the client default.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TranscribeConfig holds defaults for the streaming transcription link.
// Per-session values returned by the boundary at session start take
// precedence over these.
type TranscribeConfig struct {
	// URL is the provider's streaming WebSocket endpoint.
	URL string `yaml:"url"`

	// Model selects the provider's recognition model.
	Model string `yaml:"model"`

	// Language is the default BCP-47 recognition language.
	Language string `yaml:"language"`

	// Boundary reports whether the provider emits explicit end-of-turn
	// events. When false, turn ends are inferred from silence.
	Boundary bool `yaml:"boundary_events"`

	// Keepalive is the idle keepalive interval for the link. Zero disables.
	Keepalive time.Duration `yaml:"keepalive"`
}

// AudioConfig fixes the pipeline's sample rates.
type AudioConfig struct {
	// CaptureRate is the microphone capture rate in Hz sent upstream.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the rate synthesized audio is delivered at.
	PlaybackRate int `yaml:"playback_rate"`

	// RelayRate is the server-side rate of the supervisory relay stream.
	RelayRate int `yaml:"relay_rate"`

	// Lookahead bounds the playback scheduler's latency buildup.
	// Zero uses the package default (200ms).
	Lookahead time.Duration `yaml:"lookahead"`
}

// TurnConfig tunes the silence-timeout turn detection strategy.
type TurnConfig struct {
	// SilenceThreshold is the silence span that finalizes a turn.
	// Zero uses the default (2s).
	SilenceThreshold time.Duration `yaml:"silence_threshold"`

	// PollInterval is the silence re-check cadence. Zero uses the
	// default (500ms).
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DatabaseConfig configures the flow/session store. An empty DSN disables
// persistence; compiled flows then live only in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Defaults applied by Validate when fields are unset.
const (
	DefaultListenAddr   = ":8080"
	DefaultCaptureRate  = 16000
	DefaultPlaybackRate = 48000
	DefaultRelayRate    = 16000
)
