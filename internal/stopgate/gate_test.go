package stopgate

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nolanhq/stopgate/internal/handoffqueue"
	"github.com/nolanhq/stopgate/internal/notifier"
	"github.com/nolanhq/stopgate/internal/paths"
	"github.com/nolanhq/stopgate/internal/types"
)

const singlePhaseTeamYAML = `
name: default
schema_version: 2
agents:
  - name: writer
    output: draft.md
    file_permissions: restricted
    workflow_participant: true
  - name: notetaker
    output: status.md
    file_permissions: permissive
    workflow_participant: false
phases:
  - name: draft
    owner: writer
workflow:
  note_taker: notetaker
  ack_timeout_seconds: 1
  ack_poll_interval_seconds: 3600
`

const twoPhaseTeamYAML = `
name: default
schema_version: 2
agents:
  - name: writer
    output: draft.md
    file_permissions: restricted
    workflow_participant: true
  - name: reviewer
    output: review.md
    file_permissions: restricted
    workflow_participant: true
  - name: notetaker
    output: status.md
    file_permissions: permissive
    workflow_participant: false
phases:
  - name: draft
    owner: writer
  - name: review
    owner: reviewer
    requires: []
workflow:
  note_taker: notetaker
  ack_timeout_seconds: 1
  ack_poll_interval_seconds: 3600
`

// testHarness bundles the directory layout every Decide test needs:
// <root>/teams/default.yaml, <root>/state, and <root>/projects/<name>.
type testHarness struct {
	root    string
	project string
}

func newHarness(t *testing.T, teamYAML string) testHarness {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "teams"), 0o755); err != nil {
		t.Fatalf("mkdir teams: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "teams", "default.yaml"), []byte(teamYAML), 0o644); err != nil {
		t.Fatalf("write team yaml: %v", err)
	}
	project := filepath.Join(root, "projects", "widgets")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}
	return testHarness{root: root, project: project}
}

func (h testHarness) env(agentName string) paths.Env {
	return paths.Env{
		NolanRoot: h.root,
		AgentName: agentName,
		TeamName:  "default",
		DocsPath:  h.project,
	}
}

func newTestGate(logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.New(os.Stderr, "[test] ", 0)
	}
	rec := notifier.NewRecording()
	return &Gate{
		Notifier: rec,
		Assigner: ExternalAssigner{},
		Logger:   logger,
		Now:      time.Now,
	}
}

func TestDecideForceStopApprovesUnconditionally(t *testing.T) {
	g := newTestGate(nil)
	env := paths.Env{ForceStop: true}
	v := g.Decide(context.Background(), env, []byte(`{}`))
	if v.Decision != "approve" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecideBlocksOnInvalidJSON(t *testing.T) {
	g := newTestGate(nil)
	v := g.Decide(context.Background(), paths.Env{}, []byte(`not json`))
	if v.Decision != "block" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecideBlocksWhenAgentIdentityUnknown(t *testing.T) {
	g := newTestGate(nil)
	env := paths.Env{} // no AgentName, no DocsPath
	v := g.Decide(context.Background(), env, []byte(`{}`))
	if v.Decision != "block" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecideApprovesOrphanAgentWithNoActiveProject(t *testing.T) {
	g := newTestGate(nil)
	root := t.TempDir()
	env := paths.Env{NolanRoot: root, AgentName: "wanderer"}
	v := g.Decide(context.Background(), env, []byte(`{}`))
	if v.Decision != "approve" {
		t.Fatalf("got %+v", v)
	}
}

func TestDecideBlocksOnCorruptTeamConfig(t *testing.T) {
	h := newHarness(t, "not: [valid, team")
	g := newTestGate(nil)
	v := g.Decide(context.Background(), h.env("writer"), []byte(`{}`))
	if v.Decision != "block" {
		t.Fatalf("expected corrupt config to block loudly, got %+v", v)
	}
}

func TestDecideBlocksOnMissingRequiredSection(t *testing.T) {
	h := newHarness(t, `
name: default
schema_version: 2
agents:
  - name: writer
    output: draft.md
    file_permissions: restricted
    workflow_participant: true
    required_sections: ["## Summary"]
  - name: notetaker
    output: status.md
    file_permissions: permissive
    workflow_participant: false
phases:
  - name: draft
    owner: writer
workflow:
  note_taker: notetaker
`)
	if err := os.WriteFile(filepath.Join(h.project, "draft.md"), []byte("no headings here"), 0o644); err != nil {
		t.Fatalf("write draft: %v", err)
	}

	g := newTestGate(nil)
	v := g.Decide(context.Background(), h.env("writer"), []byte(`{}`))
	if v.Decision != "block" {
		t.Fatalf("expected missing section to block, got %+v", v)
	}
}

func TestDecideApprovesMultiInstanceAgentUnconditionally(t *testing.T) {
	h := newHarness(t, `
name: default
schema_version: 2
agents:
  - name: scout
    file_permissions: no_projects
    workflow_participant: true
    multi_instance: true
    max_instances: 2
    instance_names: ["scout-1", "scout-2"]
  - name: notetaker
    output: status.md
    file_permissions: permissive
    workflow_participant: false
phases:
  - name: scan
    owner: scout
workflow:
  note_taker: notetaker
`)
	g := newTestGate(nil)
	v := g.Decide(context.Background(), h.env("scout"), []byte(`{}`))
	if v.Decision != "approve" {
		t.Fatalf("expected multi_instance agent to approve unconditionally, got %+v", v)
	}
}

func TestDecideApprovesNonParticipantAgent(t *testing.T) {
	h := newHarness(t, `
name: default
schema_version: 2
agents:
  - name: observer
    file_permissions: no_projects
    workflow_participant: false
  - name: notetaker
    output: status.md
    file_permissions: permissive
    workflow_participant: false
phases:
  - name: draft
    owner: notetaker
workflow:
  note_taker: notetaker
`)
	g := newTestGate(nil)
	v := g.Decide(context.Background(), h.env("observer"), []byte(`{}`))
	if v.Decision != "approve" {
		t.Fatalf("expected non-participant agent to approve unconditionally, got %+v", v)
	}
}

func TestDecideNoteTakerBatchAcknowledgesPendingQueue(t *testing.T) {
	h := newHarness(t, singlePhaseTeamYAML)
	if err := os.WriteFile(filepath.Join(h.project, "status.md"), []byte("# Notes\n"), 0o644); err != nil {
		t.Fatalf("write status.md: %v", err)
	}
	stateRoot := filepath.Join(h.root, "state")

	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}
	now := time.Now()
	if _, err := queue.Enqueue(newTestHandoff("writer", "notetaker", "widgets", "HO_1"), now); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	g := newTestGate(nil)
	v := g.Decide(context.Background(), h.env("notetaker"), []byte(`{}`))
	if v.Decision != "approve" {
		t.Fatalf("got %+v", v)
	}
	if _, loc, _ := queue.FindByID("HO_1"); loc != handoffqueue.LocationProcessed {
		t.Fatalf("expected batch-ack to move handoff to processed/, location=%v", loc)
	}
}

func TestDecideEnqueuesHandoffAndTimesOutWaitingForAckWithoutWedging(t *testing.T) {
	h := newHarness(t, singlePhaseTeamYAML)
	if err := os.WriteFile(filepath.Join(h.project, "draft.md"), []byte("done"), 0o644); err != nil {
		t.Fatalf("write draft: %v", err)
	}

	g := newTestGate(nil)
	// The team config sets a 3600s poll interval, so only ctx
	// cancellation (not the poll timer) can end the wait quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	v := g.Decide(ctx, h.env("writer"), []byte(`{}`))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Decide took %s; waitForAck appears to have wedged", elapsed)
	}
	if v.Decision != "approve" {
		t.Fatalf("got %+v", v)
	}

	stateRoot := filepath.Join(h.root, "state")
	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}
	candidates, err := queue.FindForAgent("writer")
	if err != nil {
		t.Fatalf("FindForAgent: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected exactly one handoff enqueued for writer, got %d", len(candidates))
	}
	if candidates[0].Handoff.ToAgent != "notetaker" {
		t.Fatalf("expected terminal phase to route to the note-taker, got %+v", candidates[0].Handoff)
	}
}

func TestDecideStaleHandoffIsIgnoredForcingANewOne(t *testing.T) {
	h := newHarness(t, singlePhaseTeamYAML)
	if err := os.WriteFile(filepath.Join(h.project, "draft.md"), []byte("done"), 0o644); err != nil {
		t.Fatalf("write draft: %v", err)
	}

	stateRoot := filepath.Join(h.root, "state")
	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}

	stale := newTestHandoff("writer", "notetaker", h.project, "HO_STALE")
	staleTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := queue.Enqueue(stale, staleTime); err != nil {
		t.Fatalf("Enqueue stale: %v", err)
	}

	g := newTestGate(nil)
	g.Now = func() time.Time { return time.Now() }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	g.Decide(ctx, h.env("writer"), []byte(`{}`))

	candidates, err := queue.FindForAgent("writer")
	if err != nil {
		t.Fatalf("FindForAgent: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected the stale handoff to be left alone and a fresh one enqueued alongside it, got %d candidates", len(candidates))
	}
}

func TestDecideAutoProgressionRoutesRejectionBackward(t *testing.T) {
	h := newHarness(t, twoPhaseTeamYAML)
	reviewBody := "## Review\n\n<!-- REJECTED: needs more detail -->\n"
	if err := os.WriteFile(filepath.Join(h.project, "review.md"), []byte(reviewBody), 0o644); err != nil {
		t.Fatalf("write review.md: %v", err)
	}

	g := newTestGate(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	g.Decide(ctx, h.env("reviewer"), []byte(`{}`))

	statusData, err := os.ReadFile(filepath.Join(h.project, "review.md.status"))
	if err != nil {
		t.Fatalf("expected a .status sibling file: %v", err)
	}
	status := string(statusData)
	if !strings.Contains(status, "assign") || !strings.Contains(status, "needs more detail") {
		t.Fatalf("expected status file to record an assign action with the rejection reason, got: %s", status)
	}

	stateRoot := filepath.Join(h.root, "state")
	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		t.Fatalf("Open queue: %v", err)
	}
	candidates, err := queue.FindForAgent("reviewer")
	if err != nil {
		t.Fatalf("FindForAgent: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Handoff.ToAgent != "notetaker" {
		t.Fatalf("expected the forward handoff to still go to the note-taker regardless of the rejection marker, got %+v", candidates)
	}
}

func newTestHandoff(from, to, project, id string) types.Handoff {
	return types.Handoff{ID: id, FromAgent: from, ToAgent: to, Project: project, Team: "default", Status: types.StatusComplete}
}
