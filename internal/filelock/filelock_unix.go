//go:build !windows

// Package filelock provides scoped, timeout-bounded exclusive advisory
// locking over a lockfile path. It is the primitive every mutation of
// the handoff queue directories and binding files goes through.
//
// The Windows build of the teacher repo (internal/instance) took an
// exclusive lock with CreateFile/LockFileEx via golang.org/x/sys/windows;
// this POSIX build does the equivalent with flock(2) via
// golang.org/x/sys/unix, polling on EWOULDBLOCK exactly the way the
// Windows side polled on ERROR_LOCK_VIOLATION.
package filelock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Handle is an acquired lock. Release is idempotent: calling it twice,
// or on a zero Handle, is a no-op.
type Handle struct {
	file *os.File
}

// pollInterval is the fixed poll period mandated by spec: 100ms.
const pollInterval = 100 * time.Millisecond

// Acquire attempts to take an exclusive advisory lock on path, creating
// the lockfile if necessary, polling every 100ms until timeout elapses.
// It returns this package's *TimeoutError when the budget runs out
// before the lock is free.
func Acquire(path string, timeout time.Duration) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Handle{file: f}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, fmt.Errorf("filelock: flock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, &TimeoutError{Path: path, Timeout: timeout}
		}
		time.Sleep(pollInterval)
	}
}

// Release drops the lock and closes the underlying file descriptor. It
// is safe to call on a nil handle (no-op) and safe to call twice.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()
	h.file = nil
	if err != nil {
		return fmt.Errorf("filelock: unlock: %w", err)
	}
	return closeErr
}

// TimeoutError reports that a lock could not be acquired within its
// budget.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("filelock: timed out after %s waiting for %s", e.Timeout, e.Path)
}
