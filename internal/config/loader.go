package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, applies
// defaults for unset fields, and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}

	if cfg.Boundary.BaseURL == "" {
		errs = append(errs, errors.New("boundary.base_url must be set"))
	}
	if cfg.Boundary.RequestTimeout < 0 {
		errs = append(errs, errors.New("boundary.request_timeout must not be negative"))
	}

	if cfg.Transcribe.URL == "" {
		errs = append(errs, errors.New("transcription.url must be set"))
	}
	if cfg.Transcribe.Keepalive < 0 {
		errs = append(errs, errors.New("transcription.keepalive must not be negative"))
	}

	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Audio.RelayRate == 0 {
		cfg.Audio.RelayRate = DefaultRelayRate
	}
	if cfg.Audio.CaptureRate < 0 || cfg.Audio.PlaybackRate < 0 || cfg.Audio.RelayRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if cfg.Audio.Lookahead < 0 {
		errs = append(errs, errors.New("audio.lookahead must not be negative"))
	}

	if cfg.Turn.SilenceThreshold < 0 {
		errs = append(errs, errors.New("turn.silence_threshold must not be negative"))
	}
	if cfg.Turn.PollInterval < 0 {
		errs = append(errs, errors.New("turn.poll_interval must not be negative"))
	}

	return errors.Join(errs...)
}
