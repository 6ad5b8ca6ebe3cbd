// Package incidentlog implements the append-only incident log
// described in spec.md §6: a flat text file recording external-assigner
// delivery failures and router escalations for later inspection.
// Append returns its error to the caller; the stop-gate discards it, so
// an append failure never blocks the protocol it's reporting on.
//
// Grounded on ODSapper-CLIAIMONITOR's types.ActivityLog persistence
// pattern (timestamped, append-oriented event records), adapted from
// a structured dashboard feed into a flat audit file matching spec.md's
// exact line format.
package incidentlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Log is an append-only writer for <stateRoot>/incidents.log.
type Log struct {
	path string
}

// Open returns a Log rooted at <stateRoot>/incidents.log.
func Open(stateRoot string) (*Log, error) {
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return nil, err
	}
	return &Log{path: filepath.Join(stateRoot, "incidents.log")}, nil
}

// Append writes one line: "[YYYY-MM-DD HH:MM:SS] <EVENT> | <project> | <details>".
func (l *Log) Append(now time.Time, event, project, details string) error {
	line := fmt.Sprintf("[%s] %s | %s | %s\n", now.Format("2006-01-02 15:04:05"), event, project, details)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("incidentlog: open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("incidentlog: append: %w", err)
	}
	return nil
}
