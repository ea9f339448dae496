package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LanguageChanged and InstructionsChanged are applied to the next session
	// without a restart.
	LanguageChanged     bool
	NewLanguage         string
	InstructionsChanged bool
	NewInstructions     string

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.InstructionsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session.Language != new.Session.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Session.Language
	}
	if old.Session.Instructions != new.Session.Instructions {
		d.InstructionsChanged = true
		d.NewInstructions = new.Session.Instructions
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Provider.Name != new.Provider.Name ||
		old.Provider.APIKey != new.Provider.APIKey ||
		old.Provider.BaseURL != new.Provider.BaseURL ||
		old.Provider.Model != new.Provider.Model ||
		old.Provider.Option("voice") != new.Provider.Option("voice") {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if !slices.Equal(old.Session.Languages, new.Session.Languages) {
		d.RestartRequired = append(d.RestartRequired, "session.languages")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	return d
}
