package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
	s2smock "github.com/MrWong99/voxagent/pkg/provider/s2s/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

provider:
  name: gemini
  api_key: test-key
  model: gemini-2.5-flash-native-audio-preview-09-2025
  options:
    voice: Zephyr

session:
  language: es-ES
  instructions: "You are a concierge. Speak {language}."
  languages:
    - code: en-US
      name: English
    - code: es-ES
      name: Spanish

audio:
  frame_size: 2048
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Provider.Name != "gemini" || cfg.Provider.APIKey != "test-key" {
		t.Errorf("provider: got %+v", cfg.Provider)
	}
	if got := cfg.Provider.Option("voice"); got != "Zephyr" {
		t.Errorf("voice option: got %q", got)
	}
	if cfg.Session.Language != "es-ES" || len(cfg.Session.Languages) != 2 {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.Audio.FrameSize != 2048 {
		t.Errorf("frame_size: got %d", cfg.Audio.FrameSize)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Provider.Name != config.DefaultProvider {
		t.Errorf("provider: got %q", cfg.Provider.Name)
	}
	if cfg.Session.Language != config.DefaultLanguage {
		t.Errorf("language: got %q", cfg.Session.Language)
	}
	if cfg.Audio.FrameSize != config.DefaultFrameSize {
		t.Errorf("frame_size: got %d", cfg.Audio.FrameSize)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/voxagent.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{"verbose", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestProviderEntry_Option(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"voice": "Puck", "rate": 3}}
	if got := e.Option("voice"); got != "Puck" {
		t.Errorf("Option(voice) = %q", got)
	}
	if got := e.Option("rate"); got != "" {
		t.Errorf("Option(rate) = %q, want empty for non-string", got)
	}
	if got := (config.ProviderEntry{}).Option("voice"); got != "" {
		t.Errorf("Option on nil map = %q", got)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateS2S(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterS2S("mock", func(e config.ProviderEntry) (s2s.Provider, error) {
		got = e
		return &s2smock.Provider{}, nil
	})

	p, err := reg.CreateS2S(config.ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if _, err := p.Connect(context.Background(), s2s.SessionConfig{}); err != nil {
		t.Errorf("Connect on created provider: %v", err)
	}
	if got.Model != "m1" {
		t.Errorf("factory received %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateS2S(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("error: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterS2S("keyed", func(config.ProviderEntry) (s2s.Provider, error) {
		return nil, config.ErrMissingAPIKey
	})
	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "keyed"}); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Errorf("error: got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, n := range []string{"openai", "gemini"} {
		reg.RegisterS2S(n, func(config.ProviderEntry) (s2s.Provider, error) { return nil, nil })
	}
	if got := strings.Join(reg.Names(), ","); got != "gemini,openai" {
		t.Errorf("Names() = %q", got)
	}
}
