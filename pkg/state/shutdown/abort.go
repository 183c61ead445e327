package shutdown

import (
	"fmt"
	"os"

	"clipshare/pkg/state"
	"clipshare/pkg/state/logger"
)

// Abort logs a fatal startup error, writes a crash dump under dbPath and
// exits with status 2.
func Abort(contextMsg string, err error, dbPath string) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dir := state.PathsVar.Crash
	if dir == "" {
		dir = state.PathsFor(dbPath).Crash
	}
	path, derr := state.WriteCrashDump(dir, contextMsg, err)
	if derr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v (crash dump failed: %v)\n", contextMsg, err, derr)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\ncrash dump written: %s\n", contextMsg, err, path)
	}
	logger.Sync()
	os.Exit(2)
}
