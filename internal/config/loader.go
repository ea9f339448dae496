package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known remote agent providers.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini", "openai"}

// APIKeyEnv lists the environment variables consulted, in order, when the
// provider has no api_key configured.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY", "OPENAI_API_KEY"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if name := cfg.Provider.Name; name != "" && !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", name,
			"known", ValidProviderNames,
		)
	}

	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}

	seen := make(map[string]int, len(cfg.Session.Languages))
	for i, l := range cfg.Session.Languages {
		prefix := fmt.Sprintf("session.languages[%d]", i)
		if l.Code == "" {
			errs = append(errs, fmt.Errorf("%s.code is required", prefix))
			continue
		}
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		key := strings.ToLower(l.Code)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s.code %q is a duplicate of session.languages[%d]", prefix, l.Code, prev))
		}
		seen[key] = i
	}
	if len(cfg.Session.Languages) > 0 && cfg.Session.Language != "" {
		if _, ok := seen[strings.ToLower(cfg.Session.Language)]; !ok {
			errs = append(errs, fmt.Errorf("session.language %q is not in session.languages", cfg.Session.Language))
		}
	}

	if cfg.Session.Instructions != "" && !strings.Contains(cfg.Session.Instructions, "{language}") {
		slog.Warn("session.instructions has no {language} placeholder; the selected language will not reach the agent")
	}

	return errors.Join(errs...)
}

// LoadEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv fills the provider API key from the first non-empty variable of
// [APIKeyEnv] when the config does not set one.
func ApplyEnv(cfg *Config) {
	if cfg.Provider.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			cfg.Provider.APIKey = v
			return
		}
	}
}
