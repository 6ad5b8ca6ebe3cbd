// Command project-status implements C8's CLI surface: given a project
// name, prints the note-taker's derived status and exits 1 if the
// project or its team config cannot be resolved.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nolanhq/stopgate/internal/paths"
	"github.com/nolanhq/stopgate/internal/statusreport"
	"github.com/nolanhq/stopgate/internal/teamconfig"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: project-status <project-name>")
		os.Exit(1)
	}
	project := os.Args[1]

	env := paths.FromProcess()
	root, err := env.ProjectsRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "project-status: %v\n", err)
		os.Exit(1)
	}
	projectDir := filepath.Join(root, project)
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "project-status: no such project %q\n", project)
		os.Exit(1)
	}

	teamName := env.TeamName
	if teamName == "" {
		teamName, err = paths.ResolveTeamName(projectDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "project-status: resolving team: %v\n", err)
			os.Exit(1)
		}
	}

	team, err := teamconfig.Load(env.NolanRoot, teamName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "project-status: loading team %q: %v\n", teamName, err)
		os.Exit(1)
	}

	report, err := statusreport.Status(projectDir, team)
	if err != nil {
		fmt.Fprintf(os.Stderr, "project-status: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Project: %s\n", report.Project)
	fmt.Printf("Notes file: %s\n", report.NotesFile)
	fmt.Printf("Status: %s\n\n", report.StatusLine)
	fmt.Println(report.Body)
}
