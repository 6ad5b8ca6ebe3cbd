// Package atomicfile provides crash-safe "write then make visible"
// semantics: every write lands on disk under a temporary name in the
// same directory as its destination and only becomes visible to
// readers via a single rename syscall, which is atomic on a POSIX
// filesystem. This is the one place in the module that performs a raw
// write+rename; the handoff queue, binding files, and .status sidecar
// files all go through it.
//
// Grounded on hugo-lorenzo-mato-quorum-ai's internal/adapters/state
// atomic_unix.go, which wraps github.com/google/renameio for the same
// reason: config/state writes that must never leave a half-written
// file visible under its final name.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Write atomically replaces path's contents with data. perm is applied
// to the temporary file before the rename.
func Write(path string, data []byte, perm os.FileMode) error {
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("atomicfile: write %s: %w", path, err)
	}
	return nil
}

// WriteNew is like Write but fails if path already exists. It is used
// for handoff enqueue, where an existing file with the same name would
// indicate an id collision within the same second and must never be
// silently overwritten.
func WriteNew(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("atomicfile: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: stat %s: %w", path, err)
	}
	return Write(path, data, perm)
}

// Rename moves a file from src to dst atomically, creating dst's
// parent directory if it does not already exist. Used for the
// pending/ -> processed/ acknowledge step.
func Rename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("atomicfile: creating %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("atomicfile: rename %s -> %s: %w", src, dst, err)
	}
	return nil
}
