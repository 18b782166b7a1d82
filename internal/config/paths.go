package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the per-user state directory under $HOME.
	DefaultDirName = ".onasis"

	ConfigFileName = "config.json"
	LockFileName   = "config.json.lock"
	HistoryDBName  = "history.db"
	RecallIndexDir = "recall.bleve"
	LogsDirName    = "logs"
)

// Dir resolves the state directory and creates it when missing.
// ONASIS_CONFIG_DIR overrides the default $HOME/.onasis.
func Dir() (string, error) {
	dir := os.Getenv("ONASIS_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return dir, nil
}

// LogDir returns the log directory under the state directory.
func LogDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}
