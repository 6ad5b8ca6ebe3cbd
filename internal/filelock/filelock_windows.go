//go:build windows

package filelock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// Handle is an acquired lock. Release is idempotent.
type Handle struct {
	file *os.File
}

const pollInterval = 100 * time.Millisecond

// Acquire mirrors the unix build's semantics using LockFileEx in
// exclusive, non-blocking mode, polling on ERROR_LOCK_VIOLATION the
// way the teacher's internal/instance package polled process checks.
func Acquire(path string, timeout time.Duration) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}

	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped

	deadline := time.Now().Add(timeout)
	for {
		err := windows.LockFileEx(
			handle,
			windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
			0,
			1, 0,
			&overlapped,
		)
		if err == nil {
			return &Handle{file: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, &TimeoutError{Path: path, Timeout: timeout}
		}
		time.Sleep(pollInterval)
	}
}

// Release unlocks and closes the file. Safe to call on nil or twice.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	handle := windows.Handle(h.file.Fd())
	var overlapped windows.Overlapped
	_ = windows.UnlockFileEx(handle, 0, 1, 0, &overlapped)
	err := h.file.Close()
	h.file = nil
	return err
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
