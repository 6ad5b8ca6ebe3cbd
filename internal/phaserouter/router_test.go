package phaserouter

import (
	"testing"

	"github.com/nolanhq/stopgate/internal/types"
)

func twoPhaseTeam() *types.Team {
	return &types.Team{
		Name:          "default",
		SchemaVersion: 2,
		Agents: []types.Agent{
			{Name: "ana"},
			{Name: "bill"},
		},
		Phases: []types.Phase{
			{Name: "Research", Owner: "ana", Output: "research.md"},
			{Name: "Plan", Owner: "bill", Output: "plan.md"},
		},
	}
}

func TestRouteApprovedNonTerminalAssignsNext(t *testing.T) {
	got := Route(twoPhaseTeam(), "Research", types.DecisionApproved)
	want := types.RouterResult{Action: types.ActionAssign, NextPhase: "Plan", NextAgent: "bill"}
	if got.Action != want.Action || got.NextPhase != want.NextPhase || got.NextAgent != want.NextAgent {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRouteApprovedTerminalCompletes(t *testing.T) {
	got := Route(twoPhaseTeam(), "Plan", types.DecisionApproved)
	if got.Action != types.ActionComplete {
		t.Fatalf("got %+v, want complete", got)
	}
}

func TestRouteRejectedNonZeroAssignsPrevious(t *testing.T) {
	got := Route(twoPhaseTeam(), "Plan", types.DecisionRejected)
	want := types.RouterResult{Action: types.ActionAssign, NextPhase: "Research", NextAgent: "ana"}
	if got.Action != want.Action || got.NextPhase != want.NextPhase || got.NextAgent != want.NextAgent {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRouteRejectedPhaseZeroEscalates(t *testing.T) {
	got := Route(twoPhaseTeam(), "Research", types.DecisionRejected)
	if got.Action != types.ActionEscalate {
		t.Fatalf("got %+v, want escalate", got)
	}
}

func TestRouteUnknownPhaseEscalates(t *testing.T) {
	got := Route(twoPhaseTeam(), "Ghost", types.DecisionApproved)
	if got.Action != types.ActionEscalate {
		t.Fatalf("got %+v, want escalate", got)
	}
}

func TestRouteIsPure(t *testing.T) {
	team := twoPhaseTeam()
	first := Route(team, "Research", types.DecisionApproved)
	second := Route(team, "Research", types.DecisionApproved)
	if first != second {
		t.Fatalf("router is not pure: %+v != %+v", first, second)
	}
}

func legacyTeam() *types.Team {
	return &types.Team{
		Name:          "legacy",
		SchemaVersion: 1,
		Agents: []types.Agent{
			{Name: "ana"},
			{Name: "bill"},
		},
		Phases: []types.Phase{
			{Name: "Research", Owner: "ana", Output: "research.md", Next: "Plan"},
			{Name: "Plan", Owner: "bill", Output: "plan.md", OnReject: "Research"},
		},
	}
}

func TestRouteLegacyFollowsNextEdge(t *testing.T) {
	got := Route(legacyTeam(), "Research", types.DecisionApproved)
	want := types.RouterResult{Action: types.ActionAssign, NextPhase: "Plan", NextAgent: "bill"}
	if got.Action != want.Action || got.NextPhase != want.NextPhase || got.NextAgent != want.NextAgent {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRouteLegacyFollowsOnRejectEdge(t *testing.T) {
	got := Route(legacyTeam(), "Plan", types.DecisionRejected)
	want := types.RouterResult{Action: types.ActionAssign, NextPhase: "Research", NextAgent: "ana"}
	if got.Action != want.Action || got.NextPhase != want.NextPhase || got.NextAgent != want.NextAgent {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRouteLegacyNoNextCompletes(t *testing.T) {
	got := Route(legacyTeam(), "Plan", types.DecisionApproved)
	if got.Action != types.ActionComplete {
		t.Fatalf("got %+v, want complete", got)
	}
}

func TestRouteLegacyNoOnRejectEscalates(t *testing.T) {
	got := Route(legacyTeam(), "Research", types.DecisionRejected)
	if got.Action != types.ActionEscalate {
		t.Fatalf("got %+v, want escalate", got)
	}
}

func TestRouteLegacyOnRejectMayJumpNonAdjacentPhase(t *testing.T) {
	team := legacyTeam()
	team.Phases = append(team.Phases, types.Phase{Name: "Review", Owner: "ana", Output: "review.md", OnReject: "Research"})
	got := Route(team, "Review", types.DecisionRejected)
	want := types.RouterResult{Action: types.ActionAssign, NextPhase: "Research", NextAgent: "ana"}
	if got.Action != want.Action || got.NextPhase != want.NextPhase || got.NextAgent != want.NextAgent {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
