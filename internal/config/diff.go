package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TimeoutsChanged bool
	NewTimeouts     TimeoutsConfig

	SearchChanged bool
	NewSearch     SearchConfig

	MusicWaitChanged bool
	NewMusicWait     Duration
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TimeoutsChanged || d.SearchChanged || d.MusicWaitChanged
}

// Diff compares old and new configs and returns what changed.
// Bus and redis connection settings require a restart and are not tracked.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Timeouts != new.Timeouts {
		d.TimeoutsChanged = true
		d.NewTimeouts = new.Timeouts
	}
	if old.Search != new.Search {
		d.SearchChanged = true
		d.NewSearch = new.Search
	}
	if old.Session.MusicWait != new.Session.MusicWait {
		d.MusicWaitChanged = true
		d.NewMusicWait = new.Session.MusicWait
	}

	return d
}
