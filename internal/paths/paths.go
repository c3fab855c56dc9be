// Package paths defines the daemon's on-disk layout under the data dir.
package paths

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns ~/.vitrina.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vitrina")
}

// DBPath returns the SQLite database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "vitrina.db")
}

// LockPath returns the exclusive lock file path.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "LOCK")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "vitrinad.log")
}

// ConfigPath returns the config file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "vitrina.toml")
}

// EnsureDir creates the data directory tree with owner-only permissions.
func EnsureDir(dataDir string) error {
	for _, d := range []string{dataDir, filepath.Join(dataDir, "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
