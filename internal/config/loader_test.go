package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
)

const minimalYAML = `
boundary:
  base_url: https://boundary.example.com
transcription:
  url: wss://stt.example.com/v1/listen
`

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Fatalf("listen addr = %q, want default %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Audio.CaptureRate != config.DefaultCaptureRate ||
		cfg.Audio.PlaybackRate != config.DefaultPlaybackRate ||
		cfg.Audio.RelayRate != config.DefaultRelayRate {
		t.Fatalf("audio defaults not applied: %+v", cfg.Audio)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	yml := `
server:
  listen_addr: ":9090"
  log_level: debug
boundary:
  base_url: https://boundary.example.com
  api_key: secret
  request_timeout: 15s
transcription:
  url: wss://stt.example.com/v1/listen
  model: nova-2
  language: en-IN
  boundary_events: true
  keepalive: 5s
audio:
  capture_rate: 8000
  playback_rate: 24000
  relay_rate: 8000
  lookahead: 300ms
turn:
  silence_threshold: 1500ms
  poll_interval: 250ms
database:
  dsn: postgres://voxwire@localhost/voxwire
`
	cfg, err := config.LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Boundary.RequestTimeout != 15*time.Second {
		t.Fatalf("request timeout = %v", cfg.Boundary.RequestTimeout)
	}
	if !cfg.Transcribe.Boundary || cfg.Transcribe.Keepalive != 5*time.Second {
		t.Fatalf("transcription = %+v", cfg.Transcribe)
	}
	if cfg.Audio.CaptureRate != 8000 || cfg.Audio.Lookahead != 300*time.Millisecond {
		t.Fatalf("audio = %+v", cfg.Audio)
	}
	if cfg.Turn.SilenceThreshold != 1500*time.Millisecond {
		t.Fatalf("turn = %+v", cfg.Turn)
	}
	if cfg.Database.DSN == "" {
		t.Fatal("dsn not decoded")
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yml := minimalYAML + `
transcrption_typo:
  url: wss://oops
`
	if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestValidateReportsAllFailures(t *testing.T) {
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: "loud"},
		Boundary:   config.BoundaryConfig{RequestTimeout: -time.Second},
		Transcribe: config.TranscribeConfig{Keepalive: -time.Second},
		Turn:       config.TurnConfig{PollInterval: -time.Millisecond},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation failures")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"boundary.base_url",
		"boundary.request_timeout",
		"transcription.url",
		"transcription.keepalive",
		"turn.poll_interval",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("joined error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	cfg := &config.Config{
		Boundary:   config.BoundaryConfig{BaseURL: "https://boundary.example.com"},
		Transcribe: config.TranscribeConfig{URL: "wss://stt.example.com"},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxwire.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Boundary.BaseURL == "" {
		t.Fatal("config not decoded from file")
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file must be an error")
	}
}
