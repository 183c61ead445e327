package state

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"clipshare/pkg/state/logger"
)

// WriteCrashDump writes reason, err and every goroutine stack to a new file
// under dir and returns its path.
func WriteCrashDump(dir, reason string, err error) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("crash path not initialized")
	}
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", e
	}
	now := time.Now()
	dumpPath := filepath.Join(dir, fmt.Sprintf("crash-%d.log", now.UnixNano()))
	f, ferr := os.Create(dumpPath)
	if ferr != nil {
		return "", ferr
	}
	defer f.Close()

	fmt.Fprintf(f, "time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	if err != nil {
		fmt.Fprintf(f, "error: %v\n", err)
	}
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, werr := f.Write(buf[:n])
	return dumpPath, werr
}

// Crash writes a crash dump to the crash folder and terminates the process.
func Crash(reason string, err error) {
	path, derr := WriteCrashDump(PathsVar.Crash, reason, err)
	if derr != nil {
		logger.Error("crash_dump_failed", "reason", reason, "error", err, "dump_error", derr)
		os.Exit(1)
	}
	logger.Error("crash_dump_written_exiting", "path", path, "reason", reason, "error", err)
	logger.Sync()
	os.Exit(1)
}
