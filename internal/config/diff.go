package config

// ConfigDiff describes what changed between two configs. Log level and the
// receptionist persona can be applied without a restart; persona changes
// take effect on the next voice session since instructions are built at
// session start. Everything else needs a process restart.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	ReceptionistChanged bool

	// RestartRequired lists the changed sections that cannot be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ReceptionistChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Receptionist != new.Receptionist {
		d.ReceptionistChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Gemini != new.Gemini {
		d.RestartRequired = append(d.RestartRequired, "gemini")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}

	return d
}
