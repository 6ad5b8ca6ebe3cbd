package handoffqueue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nolanhq/stopgate/internal/types"
)

func newHandoff(agent, to, project, id string) types.Handoff {
	return types.Handoff{
		ID:        id,
		FromAgent: agent,
		ToAgent:   to,
		Project:   project,
		Team:      "default",
		Status:    types.StatusComplete,
	}
}

func TestEnqueueThenAckThenProcessed(t *testing.T) {
	state := t.TempDir()
	q, err := Open(state)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)
	id := NewID("ana", now)
	h := newHandoff("ana", "bill", "widgets", id)

	name, err := q.Enqueue(h, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := os.Stat(filepath.Join(q.PendingDir(), name)); err != nil {
		t.Fatalf("expected pending file to exist: %v", err)
	}

	result, err := q.AcknowledgeAll()
	if err != nil {
		t.Fatalf("AcknowledgeAll: %v", err)
	}
	if result.Acknowledged != 1 || result.Failed != 0 {
		t.Fatalf("got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(q.PendingDir(), name)); !os.IsNotExist(err) {
		t.Fatalf("expected pending file to be gone after ack")
	}
	if _, err := os.Stat(filepath.Join(q.ProcessedDir(), name)); err != nil {
		t.Fatalf("expected processed file to exist: %v", err)
	}
}

func TestAcknowledgeAllIsIdempotent(t *testing.T) {
	state := t.TempDir()
	q, err := Open(state)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	h := newHandoff("ana", "bill", "widgets", NewID("ana", now))
	if _, err := q.Enqueue(h, now); err != nil {
		t.Fatal(err)
	}
	if _, err := q.AcknowledgeAll(); err != nil {
		t.Fatal(err)
	}

	before, _ := os.ReadDir(q.ProcessedDir())
	if _, err := q.AcknowledgeAll(); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadDir(q.ProcessedDir())
	if len(before) != len(after) {
		t.Fatalf("second ack pass changed processed/: before=%d after=%d", len(before), len(after))
	}
}

func TestConcurrentEnqueuesSameSecondGetDistinctFilenames(t *testing.T) {
	state := t.TempDir()
	q, err := Open(state)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)
	id1 := NewID("ana", now)
	id2 := NewID("ana", now)
	if id1 == id2 {
		t.Fatalf("expected distinct ids within the same second, got %q twice", id1)
	}

	name1, err := q.Enqueue(newHandoff("ana", "bill", "widgets", id1), now)
	if err != nil {
		t.Fatal(err)
	}
	name2, err := q.Enqueue(newHandoff("ana", "bill", "widgets", id2), now)
	if err != nil {
		t.Fatal(err)
	}
	if name1 == name2 {
		t.Fatalf("expected distinct filenames, got %q twice", name1)
	}
}

func TestFindForAgentAppliesAcrossBothDirectories(t *testing.T) {
	state := t.TempDir()
	q, err := Open(state)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	h := newHandoff("ana", "bill", "widgets", NewID("ana", now))
	if _, err := q.Enqueue(h, now); err != nil {
		t.Fatal(err)
	}

	candidates, err := q.FindForAgent("ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Location != LocationPending {
		t.Fatalf("expected pending location")
	}
}

func TestIsStaleComparesAtMinutePrecision(t *testing.T) {
	cases := []struct {
		name       string
		handoffTS  string
		assignedTS string
		wantStale  bool
	}{
		{"handoff older is stale", "2026-01-10 10:00", "2026-01-10 15:30", true},
		{"handoff newer is fresh", "2026-01-10 16:00", "2026-01-10 15:30", false},
		{"equal minute is fresh", "2026-01-10 15:30", "2026-01-10 15:30", false},
		{"missing assignment timestamp with handoff present is corrupt (forced new)", "2026-01-10 15:30", "", true},
		{"missing handoff timestamp with assignment is corrupt (forced new)", "", "2026-01-10 15:30", true},
		{"both missing accepted for legacy compat", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsStale(c.handoffTS, c.assignedTS); got != c.wantStale {
				t.Fatalf("IsStale(%q, %q) = %v, want %v", c.handoffTS, c.assignedTS, got, c.wantStale)
			}
		})
	}
}

func TestEnqueueRejectsDuplicateFilename(t *testing.T) {
	state := t.TempDir()
	q, err := Open(state)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)
	id := "HO_20260110_153000_ana_abc123"
	h := newHandoff("ana", "bill", "widgets", id)

	if _, err := q.Enqueue(h, now); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(h, now); err == nil {
		t.Fatalf("expected second enqueue with identical filename to fail")
	}
}
