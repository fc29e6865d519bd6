// Package defaults resolves the daemon's data directory and the files
// kept in it.
//
//	~/.bingus/
//	  messages.db        message log and event journal
//	  wake.json          pending self-wake
//	  device_token.txt   APNs device token (when no keychain is available)
//	  bingus.lock        single-instance lock
//
// Override with BINGUS_DATA_DIR environment variable.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	WakeFile = "wake.json"
	LockFile = "bingus.lock"
	DBFile   = "messages.db"
)

// DataDir returns the data directory: $BINGUS_DATA_DIR, else ~/.bingus.
func DataDir() (string, error) {
	if dir := os.Getenv("BINGUS_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".bingus"), nil
}

// EnsureDataDir resolves dir (DataDir when empty) and creates it.
func EnsureDataDir(dir string) (string, error) {
	if dir == "" {
		var err error
		if dir, err = DataDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// WakePath is the schedule file inside dir.
func WakePath(dir string) string {
	return filepath.Join(dir, WakeFile)
}
