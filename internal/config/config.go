// Package config provides the configuration schema, loader, and provider registry
// for the voxagent server.
package config

// LogLevel controls log verbosity for the voxagent server.
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

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultProvider   = "gemini"
	DefaultLanguage   = "en-US"
	DefaultFrameSize  = 4096
)

// Config is the root configuration structure for voxagent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Session  SessionConfig `yaml:"session"`
	Audio    AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP control surface listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry configures the remote voice agent. The Name field is used to
// look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty it
	// is read from the environment by [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above, such as "voice".
	Options map[string]any `yaml:"options"`
}

// Option returns the string value of a provider option, or "" when absent.
func (e ProviderEntry) Option(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// SessionConfig holds the conversation settings applied to each new session.
type SessionConfig struct {
	// Language is the BCP 47 code of the initially selected language.
	Language string `yaml:"language"`

	// Instructions is the system instruction template. The placeholder
	// "{language}" is replaced with the language display name.
	Instructions string `yaml:"instructions"`

	// Languages overrides the built-in language list.
	Languages []LanguageEntry `yaml:"languages"`
}

// LanguageEntry is one selectable conversation language.
type LanguageEntry struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// AudioConfig holds local audio device settings.
type AudioConfig struct {
	// FrameSize is the number of capture samples per outbound frame.
	FrameSize int `yaml:"frame_size"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = DefaultLanguage
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
}
