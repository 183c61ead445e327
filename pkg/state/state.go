// Package state owns the on-disk layout under the db path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EnsureStateDirs creates the layout under dbPath. Every directory must be a
// real, writable directory and not a symlink.
func EnsureStateDirs(p Paths) error {
	for _, dir := range p.all() {
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
		}

		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}

		// check writable by creating and deleting temp file
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}

var (
	PathsVar Paths
	initOnce sync.Once
	initErr  error
)

// Init resolves and creates the layout once; later calls return the first
// result.
func Init(dbPath string) error {
	initOnce.Do(func() {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = "./.clipshare"
		}
		PathsVar = PathsFor(filepath.Clean(path))
		initErr = EnsureStateDirs(PathsVar)
	})
	return initErr
}
