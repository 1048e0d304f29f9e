package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TogglesChanged bool
	NewToggles     TogglesConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: the log level
// and the default protection toggles. Everything else (listener addresses,
// classifier endpoints, storage DSN) requires a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Toggles != new.Toggles {
		d.TogglesChanged = true
		d.NewToggles = new.Toggles
	}

	return d
}
