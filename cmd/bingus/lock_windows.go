//go:build windows

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/neboloop/bingus/internal/defaults"
)

// acquireLock takes an exclusive lock on the data directory's lock file
func acquireLock(dataDir string) (*os.File, error) {
	lockPath := filepath.Join(dataDir, defaults.LockFile)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	handle := windows.Handle(file.Fd())
	overlapped := &windows.Overlapped{}
	err = windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, overlapped)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("cannot acquire lock %s", lockPath)
	}

	file.Truncate(0)
	file.Seek(0, 0)
	fmt.Fprintf(file, "%d\n", os.Getpid())
	file.Sync()

	return file, nil
}

// releaseLock releases the lock file
func releaseLock(file *os.File) {
	if file != nil {
		handle := windows.Handle(file.Fd())
		overlapped := &windows.Overlapped{}
		windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
		file.Close()
	}
}
