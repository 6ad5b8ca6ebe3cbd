// Package statusreport implements C8: a read-only projection of a
// project's current state, derived entirely from the note-taker's
// output file content. It never consults the handoff queue or a
// binding file — only the one artifact the coordinating agent
// maintains, matching spec.md §4.8's content-based, strictly ordered
// detection rule.
//
// Grounded on original_source/scripts/project-status-helper.py's
// parse_team_name/get_note_taker_file/detect_status, enriched with
// github.com/dustin/go-humanize for the "assigned 3m ago" style
// relative-time rendering the python ancestor didn't have.
package statusreport

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/types"
)

// agentLinePattern extracts the agent name out of a "**Agent**: name"
// line, matching the python ancestor's regex.
var agentLinePattern = regexp.MustCompile(`\*\*Agent\*\*:\s*(\S+)`)

// assignedLinePattern extracts an assignment timestamp, matching the
// "**Assigned**: YYYY-MM-DD HH:MM" convention used in notes files.
var assignedLinePattern = regexp.MustCompile(`\*\*Assigned\*\*:\s*([0-9:\- ]+)`)

// Report is the derived, human-facing status of a project.
type Report struct {
	Project      string
	NotesFile    string
	StatusLine   string
	Body         string
	DelegatedTo  string
	AssignedAgo  string
	HasAssignee  bool
}

// NoteTakerOutputFile resolves the note-taker/coordinator's output
// filename from a team. The note_taker field wins over coordinator
// when both are present (spec.md §9 Open Question resolution).
func NoteTakerOutputFile(team *types.Team) (string, error) {
	name := team.Workflow.NoteTakerAgent()
	if name == "" {
		return "", &coreerrors.ConfigError{Path: team.Name, Reason: "no note_taker or coordinator declared"}
	}
	agent := team.AgentByName(name)
	if agent == nil {
		return "", &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("note_taker/coordinator %q is not a declared agent", name)}
	}
	if agent.Output == "" {
		return "", &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("note_taker/coordinator %q declares no output file", name)}
	}
	return agent.Output, nil
}

// Status reads a project's note-taker output file and derives its
// status line, strictly in the order spec.md §4.8 gives:
//
//  1. A "## Current Assignment" section with "**Agent**: <name>" ->
//     DELEGATED to <name>, followed by " (assigned <age>)" when the
//     section also has a parseable "**Assigned**:" line.
//  2. Otherwise -> PENDING (no assignment).
func Status(projectDir string, team *types.Team) (Report, error) {
	outputFile, err := NoteTakerOutputFile(team)
	if err != nil {
		return Report{}, err
	}

	path := filepath.Join(projectDir, outputFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("reading notes file: %v", err), Err: err}
	}
	body := string(data)

	report := Report{
		Project:   filepath.Base(projectDir),
		NotesFile: outputFile,
		Body:      body,
	}

	section := currentAssignmentSection(body)
	if section != "" {
		if m := agentLinePattern.FindStringSubmatch(section); m != nil {
			report.DelegatedTo = m[1]
			report.HasAssignee = true
			report.StatusLine = fmt.Sprintf("DELEGATED to %s", m[1])

			if ts := assignedLinePattern.FindStringSubmatch(section); ts != nil {
				if assigned, err := parseAssignmentTime(strings.TrimSpace(ts[1])); err == nil {
					report.AssignedAgo = humanize.Time(assigned)
					report.StatusLine = fmt.Sprintf("%s (assigned %s)", report.StatusLine, report.AssignedAgo)
				}
			}
			return report, nil
		}
	}

	report.StatusLine = "PENDING (no assignment)"
	return report, nil
}

// currentAssignmentSection extracts the body of a "## Current
// Assignment" markdown section, up to the next "## " heading or end of
// file.
func currentAssignmentSection(body string) string {
	const heading = "## Current Assignment"
	idx := strings.Index(body, heading)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(heading):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		return rest[:next]
	}
	return rest
}

func parseAssignmentTime(s string) (time.Time, error) {
	layouts := []string{"2006-01-02 15:04", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("statusreport: unparseable assignment timestamp %q", s)
}

// InProgress reports whether a file contains the literal (case
// insensitive) marker "STATUS: IN_PROGRESS", used by the stop-gate's
// IN_PROGRESS guard (spec.md §4.7 step 8).
func InProgress(body string) bool {
	return strings.Contains(strings.ToUpper(body), "STATUS: IN_PROGRESS")
}
