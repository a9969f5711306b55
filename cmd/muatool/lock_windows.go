//go:build windows

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/muatool/dashboard/internal/defaults"
)

var errLocked = errors.New("another MuaTool instance is running")

// acquireLock takes an exclusive lock so only one dashboard runs per user.
func acquireLock(dataDir string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(dataDir, defaults.LockFile), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	handle := windows.Handle(file.Fd())
	err = windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &windows.Overlapped{})
	if err != nil {
		file.Close()
		return nil, errLocked
	}

	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	fmt.Fprintf(file, "%d\n", os.Getpid())
	_ = file.Sync()
	return file, nil
}

func releaseLock(file *os.File) {
	if file != nil {
		handle := windows.Handle(file.Fd())
		_ = windows.UnlockFileEx(handle, 0, 1, 0, &windows.Overlapped{})
		file.Close()
	}
}
