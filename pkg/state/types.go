package state

import "path/filepath"

type Paths struct {
	DB        string
	Store     string // pebble data
	State     string
	Retention string // retention lease
	Logs      string // audit log
	Tmp       string
	Crash     string // crash dumps
}

func PathsFor(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		DB:    dbPath,
		Store: filepath.Join(dbPath, "store"),

		State:     statePath,
		Retention: filepath.Join(statePath, "retention"),
		Logs:      filepath.Join(statePath, "logs"),
		Tmp:       filepath.Join(statePath, "tmp"),
		Crash:     filepath.Join(statePath, "crash"),
	}
}

func (p Paths) all() []string {
	return []string{p.Store, p.Retention, p.Logs, p.Tmp, p.Crash}
}
