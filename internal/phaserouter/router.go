// Package phaserouter implements C5: a pure function from (team,
// current phase, decision) to the next routing action. It never
// touches the filesystem or the clock; identical inputs always
// produce identical outputs, which is both spec.md §8's testable
// property and the reason this logic lives in its own package rather
// than inline inside internal/stopgate.
//
// Grounded on original_source/app/scripts/workflow-router.py's
// get_agent_for_phase/main for the legacy (schema < 2) next/on_reject
// routing, and on spec.md §4.5 for the schema >= 2 array-position
// rules that superseded it.
package phaserouter

import (
	"fmt"

	"github.com/nolanhq/stopgate/internal/types"
)

// Route computes the next action for a team's current phase and a
// approve/reject decision. Teams with schema_version >= 2 use
// array-position routing; teams with an older schema use their
// explicit next/on_reject edges.
func Route(team *types.Team, phaseName string, decision types.Decision) types.RouterResult {
	if team.SchemaVersion < 2 {
		return routeLegacy(team, phaseName, decision)
	}
	return routeModern(team, phaseName, decision)
}

func routeModern(team *types.Team, phaseName string, decision types.Decision) types.RouterResult {
	idx := team.PhaseIndex(phaseName)
	if idx < 0 {
		return escalate(fmt.Sprintf("unknown phase %q", phaseName))
	}

	switch decision {
	case types.DecisionApproved:
		if idx == len(team.Phases)-1 {
			return types.RouterResult{Action: types.ActionComplete, Reason: "terminal phase approved"}
		}
		next := team.Phases[idx+1]
		owner := team.AgentByName(next.Owner)
		if owner == nil {
			return escalate(fmt.Sprintf("phase %q has no known owner for agent %q", next.Name, next.Owner))
		}
		return types.RouterResult{Action: types.ActionAssign, NextPhase: next.Name, NextAgent: owner.Name}

	case types.DecisionRejected:
		if idx == 0 {
			return escalate("rejected at phase 0; no predecessor to return to")
		}
		prev := team.Phases[idx-1]
		owner := team.AgentByName(prev.Owner)
		if owner == nil {
			return escalate(fmt.Sprintf("phase %q has no known owner for agent %q", prev.Name, prev.Owner))
		}
		return types.RouterResult{Action: types.ActionAssign, NextPhase: prev.Name, NextAgent: owner.Name}

	default:
		return escalate(fmt.Sprintf("unrecognized decision %q", decision))
	}
}

func routeLegacy(team *types.Team, phaseName string, decision types.Decision) types.RouterResult {
	phase := team.PhaseByName(phaseName)
	if phase == nil {
		return escalate(fmt.Sprintf("unknown phase %q", phaseName))
	}

	switch decision {
	case types.DecisionApproved:
		if phase.Next == "" {
			return types.RouterResult{Action: types.ActionComplete, Reason: "no next phase declared"}
		}
		target := team.PhaseByName(phase.Next)
		if target == nil {
			return escalate(fmt.Sprintf("phase %q: next names unknown phase %q", phase.Name, phase.Next))
		}
		owner := team.AgentByName(target.Owner)
		if owner == nil {
			return escalate(fmt.Sprintf("phase %q has no known owner for agent %q", target.Name, target.Owner))
		}
		return types.RouterResult{Action: types.ActionAssign, NextPhase: target.Name, NextAgent: owner.Name}

	case types.DecisionRejected:
		if phase.OnReject == "" {
			return escalate(fmt.Sprintf("phase %q has no on_reject edge", phase.Name))
		}
		target := team.PhaseByName(phase.OnReject)
		if target == nil {
			return escalate(fmt.Sprintf("phase %q: on_reject names unknown phase %q", phase.Name, phase.OnReject))
		}
		owner := team.AgentByName(target.Owner)
		if owner == nil {
			return escalate(fmt.Sprintf("phase %q has no known owner for agent %q", target.Name, target.Owner))
		}
		return types.RouterResult{Action: types.ActionAssign, NextPhase: target.Name, NextAgent: owner.Name}

	default:
		return escalate(fmt.Sprintf("unrecognized decision %q", decision))
	}
}

func escalate(reason string) types.RouterResult {
	return types.RouterResult{Action: types.ActionEscalate, Reason: reason}
}
