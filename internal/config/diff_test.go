package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxagent/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Provider: config.ProviderEntry{Name: "gemini", Options: map[string]any{"voice": "Zephyr"}},
		Session:  config.SessionConfig{Instructions: "Speak {language}."},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		check       func(config.ConfigDiff) bool
		wantRestart []string
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(d config.ConfigDiff) bool {
				return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
			},
		},
		{
			name:   "language",
			mutate: func(c *config.Config) { c.Session.Language = "ja-JP" },
			check: func(d config.ConfigDiff) bool {
				return d.LanguageChanged && d.NewLanguage == "ja-JP" && !d.InstructionsChanged
			},
		},
		{
			name:   "instructions",
			mutate: func(c *config.Config) { c.Session.Instructions = "" },
			check: func(d config.ConfigDiff) bool {
				return d.InstructionsChanged && d.NewInstructions == ""
			},
		},
		{
			name:        "voice needs restart",
			mutate:      func(c *config.Config) { c.Provider.Options = map[string]any{"voice": "Puck"} },
			check:       func(d config.ConfigDiff) bool { return !d.LanguageChanged },
			wantRestart: []string{"provider"},
		},
		{
			name: "listen addr and audio",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":1"
				c.Audio.FrameSize = 1024
			},
			check:       func(d config.ConfigDiff) bool { return d.Changed() },
			wantRestart: []string{"server.listen_addr", "audio"},
		},
		{
			name: "language list",
			mutate: func(c *config.Config) {
				c.Session.Languages = []config.LanguageEntry{{Code: "en-US", Name: "English"}}
			},
			check:       func(d config.ConfigDiff) bool { return d.Changed() },
			wantRestart: []string{"session.languages"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			newCfg := baseConfig()
			tc.mutate(newCfg)
			d := config.Diff(baseConfig(), newCfg)
			if !tc.check(d) {
				t.Errorf("unexpected diff: %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
