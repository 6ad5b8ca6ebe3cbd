// Command phase-router implements C5's CLI surface: argv is a project
// path, a current phase name, and an optional decision ("approved" or
// "rejected", default "approved"). It prints the router's JSON result
// and exits 1 on error (the error itself is still emitted as JSON).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nolanhq/stopgate/internal/paths"
	"github.com/nolanhq/stopgate/internal/phaserouter"
	"github.com/nolanhq/stopgate/internal/teamconfig"
	"github.com/nolanhq/stopgate/internal/types"
)

func main() {
	if len(os.Args) < 3 {
		fail("usage: phase-router <project-path> <phase-name> [approved|rejected]")
	}
	projectPath := os.Args[1]
	phaseName := os.Args[2]

	decision := types.DecisionApproved
	if len(os.Args) > 3 {
		switch os.Args[3] {
		case "approved":
			decision = types.DecisionApproved
		case "rejected":
			decision = types.DecisionRejected
		default:
			fail(fmt.Sprintf("unrecognized decision %q: must be approved or rejected", os.Args[3]))
		}
	}

	env := paths.FromProcess()
	teamName := env.TeamName
	var err error
	if teamName == "" {
		teamName, err = paths.ResolveTeamName(projectPath)
		if err != nil {
			fail(fmt.Sprintf("resolving team: %v", err))
		}
	}

	team, err := teamconfig.Load(env.NolanRoot, teamName)
	if err != nil {
		fail(fmt.Sprintf("loading team %q: %v", teamName, err))
	}

	result := phaserouter.Route(team, phaseName, decision)
	emit(result, 0)
}

func fail(reason string) {
	emit(types.RouterResult{Action: types.ActionEscalate, Reason: reason}, 1)
}

func emit(result types.RouterResult, exitCode int) {
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintln(os.Stdout, `{"action":"escalate","reason":"phase-router: failed to encode result"}`)
		os.Exit(1)
	}
	fmt.Println(string(data))
	os.Exit(exitCode)
}
