// Package stopgate implements C7, the stop-gate controller: the state
// machine that decides whether an agent may stop, and if not, drives
// the synchronous handoff protocol to the next agent in the workflow.
// It is the one package that wires every other package together; none
// of C1-C6/C8 import it back.
//
// Grounded on original_source/app/.claude/hooks/validate-phase-complete.py
// (the python ancestor of this entire state machine) for step ordering,
// and on ODSapper-CLIAIMONITOR's cmd/captain-register/main.go for the
// small stdin-in/stdout-out CLI wiring style reused by cmd/stop-gate.
package stopgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nolanhq/stopgate/internal/atomicfile"
	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/eventbus"
	"github.com/nolanhq/stopgate/internal/handoffhistory"
	"github.com/nolanhq/stopgate/internal/handoffqueue"
	"github.com/nolanhq/stopgate/internal/incidentlog"
	"github.com/nolanhq/stopgate/internal/notifier"
	"github.com/nolanhq/stopgate/internal/paths"
	"github.com/nolanhq/stopgate/internal/phaserouter"
	"github.com/nolanhq/stopgate/internal/statusreport"
	"github.com/nolanhq/stopgate/internal/teamconfig"
	"github.com/nolanhq/stopgate/internal/types"
	"gopkg.in/yaml.v3"
)

// rejectionMarker is the literal auto-progression marker spec.md §4.7
// step 5 looks for in an agent's output artifact.
const rejectionMarker = "<!-- REJECTED:"

// Assigner invokes whatever external system actually notifies a human
// or tracking system of a new assignment. The default implementation
// shells out; tests substitute a recording stub.
type Assigner interface {
	Assign(ctx context.Context, project, nextPhase, nextAgent string) error
}

// ExternalAssigner runs a configured command with
// (project, nextPhase, nextAgent) as arguments. Empty Command makes
// Assign a no-op, matching deployments that drive assignment entirely
// through the wake notification instead.
type ExternalAssigner struct {
	Command []string
	Timeout time.Duration
}

// Assign runs the configured command, if any.
func (a ExternalAssigner) Assign(ctx context.Context, project, nextPhase, nextAgent string) error {
	if len(a.Command) == 0 {
		return nil
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, a.Command[1:]...), project, nextPhase, nextAgent)
	cmd := exec.CommandContext(ctx, a.Command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("stopgate: external assigner failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Gate wires C1-C6, C8, and the optional event bus/history store
// together into the stop-gate state machine.
type Gate struct {
	NolanRoot string
	Notifier  notifier.Notifier
	Desktop   *notifier.DesktopNotifier
	Assigner  Assigner
	Events    *eventbus.Bus          // optional; nil disables publishing
	History   *handoffhistory.Store // optional; nil disables recording
	Logger    *log.Logger
	Now       func() time.Time
}

// NewGate builds a Gate with production defaults: a tmux-backed
// notifier, an external assigner that is a no-op until configured, and
// no event bus.
func NewGate(nolanRoot string, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{
		NolanRoot: nolanRoot,
		Notifier:  notifier.NewTmuxNotifier(logger),
		Desktop:   notifier.NewDesktopNotifier("stop-gate", logger),
		Assigner:  ExternalAssigner{},
		Logger:    logger,
		Now:       time.Now,
	}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Decide runs the full state machine for one invocation and returns the
// verdict. env is the process environment already parsed by
// internal/paths; hookInput is the raw JSON document read from standard
// input (its fields are opaque to the core — Decide only needs to
// confirm it parses).
func (g *Gate) Decide(ctx context.Context, env paths.Env, hookInput []byte) types.Verdict {
	if !json.Valid(hookInput) {
		return types.Block("stop-gate: standard input did not contain a valid JSON document")
	}

	// Step 1: emergency override.
	if env.ForceStop {
		g.Logger.Printf("[stop-gate] force-stop override active; approving unconditionally")
		return types.Approve()
	}

	// Step 2: context resolution.
	project, err := paths.ActiveProject(env, func(msg string) { g.Logger.Printf("[stop-gate] %s", msg) })
	if err != nil {
		var ctxErr *coreerrors.ContextError
		if isContextError(err, &ctxErr) {
			if env.AgentName == "" {
				return types.Block("Cannot determine agent identity")
			}
			g.Logger.Printf("[stop-gate] agent %q has no active project (orphan agent may sleep): %v", env.AgentName, err)
			return types.Approve()
		}
		return types.Block(fmt.Sprintf("stop-gate: resolving active project: %v", err))
	}

	// Step 3: team load.
	teamName := env.TeamName
	if teamName == "" {
		teamName, err = paths.ResolveTeamName(project)
		if err != nil {
			return types.Block(fmt.Sprintf("stop-gate: resolving team for project %q: %v", project, err))
		}
	}
	nolanRoot := g.NolanRoot
	if nolanRoot == "" {
		nolanRoot = env.NolanRoot
	}
	team, err := teamconfig.Load(nolanRoot, teamName)
	if err != nil {
		return types.Block(fmt.Sprintf("stop-gate: loading team %q: %v", teamName, err))
	}

	agent := team.AgentByName(env.AgentName)
	if agent == nil {
		return types.Block(fmt.Sprintf("stop-gate: agent %q is not declared in team %q", env.AgentName, teamName))
	}

	// Step 4: multi-instance exemption.
	if agent.MultiInstance {
		g.Logger.Printf("[stop-gate] agent %q is multi_instance; approving unconditionally", agent.Name)
		return types.Approve()
	}

	// Step 5: artifact validation.
	if agent.HasOutput() {
		outputPath := filepath.Join(project, agent.Output)
		exists, missing, err := teamconfig.CheckOutput(outputPath, agent.RequiredSections)
		if err != nil {
			return types.Block(fmt.Sprintf("stop-gate: checking output %q: %v", outputPath, err))
		}
		if !exists {
			return types.Block(fmt.Sprintf("output %q does not exist", agent.Output))
		}
		if len(missing) > 0 {
			return types.Block(fmt.Sprintf("Missing sections in %s: %s", agent.Output, strings.Join(missing, ", ")))
		}
	}

	// Step 6: workflow-participant check. The note-taker is never a
	// workflow participant, so it is exempted here to reach step 7.
	noteTaker := team.Workflow.NoteTakerAgent()
	isNoteTaker := noteTaker != "" && agent.Name == noteTaker
	if !agent.WorkflowParticipant && !isNoteTaker {
		g.Logger.Printf("[stop-gate] agent %q opts out of the workflow; approving unconditionally", agent.Name)
		return types.Approve()
	}

	stateRoot, err := env.StateRoot()
	if err != nil {
		return types.Block(fmt.Sprintf("stop-gate: resolving state root: %v", err))
	}

	// Step 7: role branch.
	if isNoteTaker {
		return g.batchAck(stateRoot, team, project, agent)
	}

	if verdict, ok := g.handoffProtocol(ctx, stateRoot, team, project, agent); ok {
		return verdict
	}

	// Step 8: IN_PROGRESS guard.
	if blocked := g.inProgressGuard(project, team); blocked != nil {
		return *blocked
	}

	// Step 9.
	return types.Approve()
}

func isContextError(err error, target **coreerrors.ContextError) bool {
	if ce, ok := err.(*coreerrors.ContextError); ok {
		*target = ce
		return true
	}
	return false
}

// batchAck implements step 7's note-taker branch: drain every pending
// handoff, log the counts, and approve unconditionally.
func (g *Gate) batchAck(stateRoot string, team *types.Team, project string, agent *types.Agent) types.Verdict {
	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		g.Logger.Printf("[stop-gate] note-taker %q could not open handoff queue: %v", agent.Name, err)
		return types.Approve()
	}

	result, err := queue.AcknowledgeAll()
	if err != nil {
		g.Logger.Printf("[stop-gate] note-taker %q batch-ack failed: %v", agent.Name, err)
		return types.Approve()
	}

	g.Logger.Printf("[stop-gate] note-taker %q batch-ack: %d acknowledged, %d failed", agent.Name, result.Acknowledged, result.Failed)
	if result.Acknowledged > 0 {
		g.publish(eventbus.KindHandoffAcknowledged, project, map[string]string{
			"agent": agent.Name, "count": fmt.Sprintf("%d", result.Acknowledged),
		})
	}
	return types.Approve()
}

// handoffProtocol implements the synchronous handoff protocol. The
// second return value is true only when the protocol ends in a block
// verdict (queue open, search, or enqueue failure); after a completed
// wait it is false, and the caller falls through to the IN_PROGRESS
// guard.
func (g *Gate) handoffProtocol(ctx context.Context, stateRoot string, team *types.Team, project string, agent *types.Agent) (types.Verdict, bool) {
	queue, err := handoffqueue.Open(stateRoot)
	if err != nil {
		return types.Block(fmt.Sprintf("stop-gate: opening handoff queue: %v", err)), true
	}

	now := g.now()
	assignmentTimestamp := now.Format("2006-01-02 15:04")

	id, location, err := g.findExisting(queue, agent.Name, project, assignmentTimestamp)
	if err != nil {
		return types.Block(fmt.Sprintf("stop-gate: searching for existing handoff: %v", err)), true
	}

	switch location {
	case handoffqueue.LocationProcessed:
		// Already acknowledged; nothing further to wait for.
	case handoffqueue.LocationPending:
		g.waitForAck(ctx, queue, id, team.Workflow.AckPollInterval(), team.Workflow.AckTimeout())
	default:
		id, err = g.enqueueNext(queue, team, project, agent, now)
		if err != nil {
			return types.Block(err.Error()), true
		}
		g.waitForAck(ctx, queue, id, team.Workflow.AckPollInterval(), team.Workflow.AckTimeout())
	}

	g.autoProgress(stateRoot, team, project, agent, now)

	if err := paths.ClearBinding(stateRoot, team.Name, agent.Name); err != nil {
		g.Logger.Printf("[stop-gate] clearing binding for %q: %v", agent.Name, err)
	}

	return types.Verdict{}, false
}

// findExisting implements step 1 of the synchronous handoff protocol.
func (g *Gate) findExisting(queue *handoffqueue.Queue, agent, project, assignmentTimestamp string) (string, handoffqueue.Location, error) {
	candidates, err := queue.FindForAgent(agent)
	if err != nil {
		return "", handoffqueue.LocationNone, err
	}

	for _, c := range candidates {
		if c.Handoff.Project != project {
			continue
		}
		if handoffqueue.IsStale(c.Handoff.Timestamp, assignmentTimestamp) {
			continue
		}
		return c.Handoff.ID, c.Location, nil
	}
	return "", handoffqueue.LocationNone, nil
}

// enqueueNext implements step 2: determine the next agent via the
// phase router, then atomically enqueue, before any wake or state
// mutation.
func (g *Gate) enqueueNext(queue *handoffqueue.Queue, team *types.Team, project string, agent *types.Agent, now time.Time) (string, error) {
	phaseName, decision := currentPhaseAndDecision(team, agent)
	route := phaserouter.Route(team, phaseName, decision)

	nextAgent := route.NextAgent
	if route.Action == types.ActionComplete {
		nextAgent = team.Workflow.NoteTakerAgent()
	}
	if nextAgent == "" {
		return "", fmt.Errorf("stop-gate: router could not determine a next agent: %s", route.Reason)
	}

	id := handoffqueue.NewID(agent.Name, now)
	status := types.StatusComplete
	if decision == types.DecisionRejected {
		status = types.StatusRejected
	}

	handoff := types.Handoff{
		ID: id, FromAgent: agent.Name, ToAgent: nextAgent,
		Project: project, Team: team.Name, Status: status,
	}

	if _, err := queue.Enqueue(handoff, now); err != nil {
		return "", fmt.Errorf("stop-gate: enqueueing handoff: %w", err)
	}
	g.recordHistory(handoff, now)

	g.publish(eventbus.KindHandoffEnqueued, project, map[string]string{
		"id": id, "from_agent": agent.Name, "to_agent": nextAgent,
	})
	g.publish(eventbus.KindRouterDecision, project, map[string]string{
		"action": string(route.Action), "next_phase": route.NextPhase, "next_agent": nextAgent,
	})

	// Step 3: wake. Failures are logged, never propagated.
	if g.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		line := notifier.WakeLine(id, agent.Name, project, nextAgent)
		if delivered, err := g.Notifier.Wake(ctx, team.Name, nextAgent, line); err != nil || !delivered {
			g.Logger.Printf("[stop-gate] wake delivery to %q did not succeed: %v", nextAgent, err)
		}
	}

	return id, nil
}

// currentPhaseAndDecision derives the router inputs for the forward
// enqueue: the first phase the agent owns, always with an approved
// decision. It does not read the output artifact; autoProgress looks
// for the rejection marker separately.
func currentPhaseAndDecision(team *types.Team, agent *types.Agent) (string, types.Decision) {
	for _, p := range team.Phases {
		if p.Owner == agent.Name {
			return p.Name, types.DecisionApproved
		}
	}
	return "", types.DecisionApproved
}

// waitForAck implements step 4: poll until the record is in processed/
// and absent from pending/, or the timeout elapses.
func (g *Gate) waitForAck(ctx context.Context, queue *handoffqueue.Queue, id string, pollIntervalSeconds, timeoutSeconds int) {
	if id == "" {
		return
	}
	deadline := g.now().Add(time.Duration(timeoutSeconds) * time.Second)
	interval := time.Duration(pollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 6 * time.Second
	}

	for {
		handoff, location, err := queue.FindByID(id)
		if err != nil {
			g.Logger.Printf("[stop-gate] ack-wait: error checking handoff %s: %v", id, err)
		}
		if location == handoffqueue.LocationProcessed || location == handoffqueue.LocationNone {
			if location == handoffqueue.LocationNone {
				g.Logger.Printf("[stop-gate] ack-wait: handoff %s vanished from both directories; treating as acknowledged", id)
			} else {
				h := *handoff
				h.Acknowledged = true
				g.recordHistory(h, g.now())
				g.publish(eventbus.KindHandoffAcknowledged, h.Project, map[string]string{"id": id})
			}
			return
		}
		if g.now().After(deadline) {
			g.Logger.Printf("[stop-gate] ACK timeout: handoff %s was not acknowledged within its budget", id)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// autoProgress implements step 5: inspect the agent's output for a
// rejection marker, write a sibling .status file, invoke the external
// assigner, and notify/record on completion or failure.
func (g *Gate) autoProgress(stateRoot string, team *types.Team, project string, agent *types.Agent, now time.Time) {
	if team.SchemaVersion < 2 || !agent.HasOutput() {
		return
	}

	outputPath := filepath.Join(project, agent.Output)
	decision := types.DecisionApproved
	reason := ""
	if body, err := readFileBestEffort(outputPath); err == nil {
		if idx := strings.Index(body, rejectionMarker); idx >= 0 {
			decision = types.DecisionRejected
			reason = extractRejectionReason(body[idx:])
		}
	}

	phaseName, _ := currentPhaseAndDecision(team, agent)
	route := phaserouter.Route(team, phaseName, decision)

	status := types.StatusFile{Status: string(route.Action), Reason: reason, Timestamp: now.Format(time.RFC3339)}
	if err := writeStatusFile(outputPath, status); err != nil {
		g.Logger.Printf("[stop-gate] writing status file for %s: %v", outputPath, err)
	}

	incidentLog, logErr := incidentlog.Open(stateRoot)

	switch route.Action {
	case types.ActionAssign:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := g.Assigner.Assign(ctx, project, route.NextPhase, route.NextAgent)
		cancel()
		if err != nil {
			g.Logger.Printf("[stop-gate] external assigner failed: %v", err)
			if logErr == nil {
				incidentLog.Append(now, "DELIVERY_FAILED", project, err.Error())
			}
		}
	case types.ActionComplete:
		if g.Desktop != nil {
			if err := g.Desktop.NotifyWorkflowComplete(project); err != nil {
				g.Logger.Printf("[stop-gate] workflow-complete toast failed: %v", err)
			}
		}
	case types.ActionEscalate:
		if g.Desktop != nil {
			if err := g.Desktop.NotifyEscalation(project, route.Reason); err != nil {
				g.Logger.Printf("[stop-gate] escalation toast failed: %v", err)
			}
		}
		if logErr == nil {
			incidentLog.Append(now, "ESCALATED", project, route.Reason)
		}
	}
}

func extractRejectionReason(marker string) string {
	rest := strings.TrimPrefix(marker, rejectionMarker)
	if end := strings.Index(rest, "-->"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return strings.TrimSpace(rest)
}

// inProgressGuard implements step 8.
func (g *Gate) inProgressGuard(project string, team *types.Team) *types.Verdict {
	report, err := statusreport.Status(project, team)
	if err != nil {
		return nil // no note-taker output yet; nothing to guard against
	}
	if statusreport.InProgress(report.Body) {
		v := types.Block(fmt.Sprintf("%s output still marked STATUS: IN_PROGRESS", report.NotesFile))
		return &v
	}
	return nil
}

func (g *Gate) publish(kind eventbus.Kind, project string, payload map[string]string) {
	if g.Events == nil {
		return
	}
	g.Events.Publish(eventbus.NewEvent(kind, project, payload))
}

func (g *Gate) recordHistory(h types.Handoff, now time.Time) {
	if g.History == nil {
		return
	}
	if err := g.History.Record(h, now); err != nil {
		g.Logger.Printf("[stop-gate] recording handoff history for %s: %v", h.ID, err)
	}
}

func readFileBestEffort(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeStatusFile writes the sibling audit record spec.md §4.7 step 5
// requires, next to an agent's output artifact.
func writeStatusFile(outputPath string, status types.StatusFile) error {
	data, err := yaml.Marshal(status)
	if err != nil {
		return fmt.Errorf("stopgate: serializing status file: %w", err)
	}
	return atomicfile.Write(outputPath+".status", data, 0o644)
}

// DecodeVerdict marshals v as the exact JSON shape spec.md §6 mandates.
func DecodeVerdict(w io.Writer, v types.Verdict) error {
	return json.NewEncoder(w).Encode(v)
}
