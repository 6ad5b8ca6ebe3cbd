// Package handoffqueue implements the durable, crash-safe handoff
// queue described in spec.md §4.4: a pending/ directory of
// not-yet-acknowledged handoff records and a processed/ directory of
// acknowledged ones, both guarded by a single lockfile and mutated
// only via atomic rename.
//
// Grounded on the atomic-write pattern in hugo-lorenzo-mato-quorum-ai's
// internal/adapters/state (via internal/atomicfile) and on
// ODSapper-CLIAIMONITOR's internal/events/store.go for the general
// shape of a small append-style persistence package; the filename
// schema and stale-handoff comparison are new to this domain and are
// grounded directly in spec.md §4.4 and
// original_source/app/.claude/hooks/validate-phase-complete.py's
// check_handoff_done (superseding its 5-minute marker rule with the
// assignment-timestamp comparison spec.md mandates instead).
package handoffqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nolanhq/stopgate/internal/atomicfile"
	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/filelock"
	"github.com/nolanhq/stopgate/internal/types"
	"gopkg.in/yaml.v3"
)

const lockTimeout = 8 * time.Second

// timestampLayout is the ISO-seconds-precision layout used inside
// handoff records (spec.md §6).
const timestampLayout = "2006-01-02T15:04:05"

// minuteLayout is the precision the stale-handoff comparison operates
// at (spec.md §4.4: "normalized to YYYY-MM-DD HH:MM").
const minuteLayout = "2006-01-02 15:04"

// Queue is a handle on the handoff directories rooted at
// <stateRoot>/handoffs.
type Queue struct {
	root string // <stateRoot>/handoffs
}

// Open returns a Queue rooted at <stateRoot>/handoffs, creating the
// pending/ and processed/ directories if they do not exist.
func Open(stateRoot string) (*Queue, error) {
	root := filepath.Join(stateRoot, "handoffs")
	for _, sub := range []string{"pending", "processed"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("handoffqueue: creating %s: %w", sub, err)
		}
	}
	return &Queue{root: root}, nil
}

func (q *Queue) pendingDir() string   { return filepath.Join(q.root, "pending") }
func (q *Queue) processedDir() string { return filepath.Join(q.root, "processed") }
func (q *Queue) lockPath() string     { return filepath.Join(q.root, ".lock-pending") }

// NewID mints a traceable handoff id: HO_<date>_<time>_<agent>_<6 hex>.
func NewID(agent string, now time.Time) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("HO_%s_%s_%s_%s", now.Format("20060102"), now.Format("150405"), agent, hex)
}

// Filename builds the queue filename for a handoff: the timestamp and
// agent are embedded so glob-based queries never need to open the
// file.
func Filename(now time.Time, agent, id string) string {
	return fmt.Sprintf("%s_%s_%s_%s.handoff", now.Format("20060102"), now.Format("150405"), agent, id)
}

// Enqueue atomically writes a new handoff record to pending/. The
// queue write is the only visible side effect of this call: no marker,
// no wake notification, no state-file mutation happens here or before
// it returns.
func (q *Queue) Enqueue(h types.Handoff, now time.Time) (string, error) {
	lock, err := filelock.Acquire(q.lockPath(), lockTimeout)
	if err != nil {
		return "", &coreerrors.QueueError{HandoffID: h.ID, Reason: "failed to acquire pending lock", Err: err}
	}
	defer lock.Release()

	if h.Timestamp == "" {
		h.Timestamp = now.Format(timestampLayout)
	}
	h.Acknowledged = false

	data, err := yaml.Marshal(h)
	if err != nil {
		return "", &coreerrors.QueueError{HandoffID: h.ID, Reason: "failed to serialize handoff record", Err: err}
	}

	name := Filename(now, h.FromAgent, h.ID)
	path := filepath.Join(q.pendingDir(), name)
	if err := atomicfile.WriteNew(path, data, 0o644); err != nil {
		return "", &coreerrors.QueueError{HandoffID: h.ID, Reason: "failed to write handoff queue file", Err: err}
	}
	return name, nil
}

// AckResult summarizes one batch-acknowledge pass.
type AckResult struct {
	Acknowledged int
	Failed       int
	Errors       []error
}

// AcknowledgeAll moves every record currently in pending/ into
// processed/, under the shared lock. Per-file failures are counted and
// returned but never abort the batch; running this twice with nothing
// new in pending/ is a no-op (idempotent).
func (q *Queue) AcknowledgeAll() (AckResult, error) {
	var result AckResult

	lock, err := filelock.Acquire(q.lockPath(), lockTimeout)
	if err != nil {
		return result, &coreerrors.QueueError{Reason: "failed to acquire pending lock for batch ack", Err: err}
	}
	defer lock.Release()

	entries, err := os.ReadDir(q.pendingDir())
	if err != nil {
		return result, &coreerrors.QueueError{Reason: "failed to list pending directory", Err: err}
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".handoff") {
			continue
		}
		src := filepath.Join(q.pendingDir(), e.Name())
		dst := filepath.Join(q.processedDir(), e.Name())
		if err := atomicfile.Rename(src, dst); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Acknowledged++
	}
	return result, nil
}

// Location identifies which directory a record was found in.
type Location int

const (
	LocationNone Location = iota
	LocationPending
	LocationProcessed
)

// FindByID globs `*<id>*.handoff` in processed/ then pending/ and
// returns the parsed record and where it was found.
func (q *Queue) FindByID(id string) (*types.Handoff, Location, error) {
	for _, dir := range []struct {
		path string
		loc  Location
	}{
		{q.processedDir(), LocationProcessed},
		{q.pendingDir(), LocationPending},
	} {
		matches, err := filepath.Glob(filepath.Join(dir.path, "*"+id+"*.handoff"))
		if err != nil {
			return nil, LocationNone, err
		}
		if len(matches) == 0 {
			continue
		}
		h, err := loadRecord(matches[0])
		if err != nil {
			return nil, LocationNone, err
		}
		return h, dir.loc, nil
	}
	return nil, LocationNone, nil
}

// Candidate is a handoff record found while searching for an existing
// in-flight handoff for (agent, project), paired with where it lives.
type Candidate struct {
	Handoff  types.Handoff
	Location Location
}

// FindForAgent globs `*_<agent>_*.handoff` in processed/ then
// pending/, returning every candidate so the caller (internal/stopgate)
// can apply the stale-handoff rule against the current assignment.
func (q *Queue) FindForAgent(agent string) ([]Candidate, error) {
	var candidates []Candidate
	for _, dir := range []struct {
		path string
		loc  Location
	}{
		{q.processedDir(), LocationProcessed},
		{q.pendingDir(), LocationPending},
	} {
		matches, err := filepath.Glob(filepath.Join(dir.path, "*_"+agent+"_*.handoff"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			h, err := loadRecord(m)
			if err != nil {
				continue // corrupt record: skip, treat as not found
			}
			candidates = append(candidates, Candidate{Handoff: *h, Location: dir.loc})
		}
	}
	return candidates, nil
}

func loadRecord(path string) (*types.Handoff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h types.Handoff
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, &coreerrors.QueueError{Reason: fmt.Sprintf("corrupt handoff record %s", path), Err: err}
	}
	return &h, nil
}

// IsStale implements spec.md §4.4's stale-handoff rule: a handoff is
// stale (and must be ignored, forcing a new one) when its timestamp is
// strictly older than the assignment's timestamp, both normalized to
// minute precision. An assignment lacking a timestamp while the
// handoff has one is treated as corrupt (handoff forced anew). If
// neither has a timestamp the handoff is accepted, for legacy
// compatibility.
func IsStale(handoffTimestamp, assignmentTimestamp string) bool {
	h, hErr := parseToMinute(handoffTimestamp)
	a, aErr := parseToMinute(assignmentTimestamp)

	switch {
	case hErr != nil && aErr != nil:
		return false // neither parses: legacy-compatible acceptance
	case hErr == nil && aErr != nil:
		return true // assignment timestamp missing while handoff has one: corrupt, force new
	case hErr != nil && aErr == nil:
		return true // assignment has a timestamp the handoff lacks: corrupt, force new
	default:
		return h.Before(a)
	}
}

func parseToMinute(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{minuteLayout, timestampLayout, time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			hh, mm := t.Hour(), t.Minute()
			return time.Date(y, m, d, hh, mm, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Pending/Processed expose the queue's directory paths for callers
// (currently this package's tests) that need to enumerate records
// without a Queue method for every possible query.
func (q *Queue) PendingDir() string   { return q.pendingDir() }
func (q *Queue) ProcessedDir() string { return q.processedDir() }
