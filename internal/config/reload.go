package config

import (
	"reflect"
)

// Sections that cannot be applied to a running daemon and need a restart.
// The orchestrator snapshots coordination and evolution settings at
// construction; the journal, API secret and ingest bridge are built once
// during setup.
var restartRequired = map[string]bool{
	"Server":       true,
	"Coordination": true,
	"Evolution":    true,
	"Journal":      true,
	"Security":     true,
	"Ingest":       true,
}

// ReloadResult describes what changed between two configurations and whether
// the running daemon can apply it.
type ReloadResult struct {
	Changed []string // sections that differ
	Applied []string // safe to apply at runtime
	Skipped []string // require restart
}

// Diff compares two configurations section by section. Only the scheduler
// job table and the server log level can change on a running daemon, so a
// Server diff that touches anything beyond the log level needs a restart.
func Diff(old, next *Config) ReloadResult {
	var res ReloadResult

	sections := []struct {
		name     string
		old, new any
	}{
		{"Server", old.Server, next.Server},
		{"Coordination", old.Coordination, next.Coordination},
		{"Evolution", old.Evolution, next.Evolution},
		{"Journal", old.Journal, next.Journal},
		{"Security", old.Security, next.Security},
		{"Ingest", old.Ingest, next.Ingest},
		{"Scheduler", old.Scheduler, next.Scheduler},
	}

	for _, s := range sections {
		if reflect.DeepEqual(s.old, s.new) {
			continue
		}
		res.Changed = append(res.Changed, s.name)

		if s.name == "Server" && logLevelOnlyChange(old.Server, next.Server) {
			res.Applied = append(res.Applied, s.name)
			continue
		}
		if restartRequired[s.name] {
			res.Skipped = append(res.Skipped, s.name)
			continue
		}
		res.Applied = append(res.Applied, s.name)
	}

	return res
}

func logLevelOnlyChange(old, next ServerConfig) bool {
	old.LogLevel = ""
	next.LogLevel = ""
	return old == next
}
