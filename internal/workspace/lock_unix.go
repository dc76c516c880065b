//go:build !windows

package workspace

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockDir takes an exclusive, non-blocking advisory lock on <dir>/.lock.
var lockDir = func(dir string) (*os.File, error) {
	f, err := os.OpenFile(lockPath(dir), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock workspace: %w", err)
	}
	return f, nil
}

// unlockDir releases the lock. The lock file goes with the directory.
func unlockDir(f *os.File) error {
	if f == nil {
		return nil
	}
	// LOCK_UN cannot fail on a descriptor we hold
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
