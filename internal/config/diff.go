package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// pipeline topology changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when the synthesis default language or speaker
	// changed. New tasks pick the new voice; in-flight tasks keep theirs.
	VoiceChanged bool

	// RateChanged is set when the assistant admission rate or burst changed.
	RateChanged bool
}

// Empty reports whether the diff carries no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.RateChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Synthesis.DefaultLanguage != new.Synthesis.DefaultLanguage ||
		old.Synthesis.DefaultSpeaker != new.Synthesis.DefaultSpeaker {
		d.VoiceChanged = true
	}

	if old.Assistant.RatePerSecond != new.Assistant.RatePerSecond ||
		old.Assistant.RateBurst != new.Assistant.RateBurst {
		d.RateChanged = true
	}

	return d
}
