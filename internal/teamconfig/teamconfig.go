// Package teamconfig loads and validates team workflow declarations:
// the single place in the module that parses team YAML and enforces
// the invariants in spec.md §3/§4.2. Every other package receives an
// already-validated *types.Team and never touches team YAML directly.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/agents/config.go for the
// load/lookup shape, on jorge-barreto-orc's internal/config/validate.go
// for the field-by-field explicit-message validation style, and on
// original_source/scripts/validate-team-config.py for the exact rule
// set (including the 1MiB size cap and depth-10 nesting cap, both
// carried forward as hard DoS-protection errors, not warnings).
package teamconfig

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/types"
	"gopkg.in/yaml.v3"
)

// maxFileSize is the hard cap on a team YAML document, matching the
// python ancestor's 1 MiB check.
const maxFileSize = 1 << 20

// maxNestingDepth is the hard cap on YAML node nesting, matching the
// python ancestor's depth-10 check.
const maxNestingDepth = 10

// Load resolves <nolanRoot>/teams/<team>.yaml by a recursive search
// (mirroring workflow-router.py's teams_dir.rglob), parses it, and
// validates it. The first matching file found wins; ties are resolved
// by filepath.WalkDir's lexical order.
func Load(nolanRoot, team string) (*types.Team, error) {
	teamsDir := filepath.Join(nolanRoot, "teams")
	var found string
	target := team + ".yaml"

	err := filepath.WalkDir(teamsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == target {
			found = path
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, &coreerrors.ConfigError{Path: teamsDir, Reason: fmt.Sprintf("searching for %s: %v", target, err), Err: err}
	}
	if found == "" {
		return nil, &coreerrors.ConfigError{Path: teamsDir, Reason: fmt.Sprintf("team config not found: %s", team)}
	}

	return LoadFile(found)
}

// LoadFile parses and validates a single team YAML file at path.
func LoadFile(path string) (*types.Team, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("stat: %v", err), Err: err}
	}
	if info.Size() > maxFileSize {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("file size %d exceeds %d byte limit", info.Size(), maxFileSize)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("read: %v", err), Err: err}
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("invalid YAML: %v", err), Err: err}
	}
	if depth := nodeDepth(&node, 0); depth > maxNestingDepth {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("nesting depth %d exceeds %d limit", depth, maxNestingDepth)}
	}

	var team types.Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return nil, &coreerrors.ConfigError{Path: path, Reason: fmt.Sprintf("invalid team document: %v", err), Err: err}
	}

	if err := Validate(&team); err != nil {
		return nil, err
	}
	return &team, nil
}

func nodeDepth(n *yaml.Node, current int) int {
	if n == nil {
		return current
	}
	max := current
	for _, c := range n.Content {
		if d := nodeDepth(c, current+1); d > max {
			max = d
		}
	}
	return max
}

// Validate enforces every invariant spec.md §3/§4.2 names. It returns
// the first violation found as a *coreerrors.ConfigError.
func Validate(team *types.Team) error {
	if team.Name == "" {
		return &coreerrors.ConfigError{Reason: "team: 'name' is required"}
	}
	if len(team.Agents) == 0 {
		return &coreerrors.ConfigError{Path: team.Name, Reason: "team: at least one agent is required"}
	}

	seenNames := make(map[string]bool, len(team.Agents))
	seenOutputs := make(map[string]string, len(team.Agents))
	for i, a := range team.Agents {
		if a.Name == "" {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %d: 'name' is required", i)}
		}
		if !types.ValidAgentName(a.Name) {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: name must match ^[a-z][a-z0-9-]*$", a.Name)}
		}
		if seenNames[a.Name] {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("duplicate agent name %q", a.Name)}
		}
		seenNames[a.Name] = true

		switch a.FilePermissions {
		case types.PermissionRestricted, types.PermissionPermissive, types.PermissionNoProjects:
		default:
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: invalid file_permissions %q", a.Name, a.FilePermissions)}
		}
		if a.FilePermissions == types.PermissionRestricted && a.Output == "" {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: restricted agents require a non-null output", a.Name)}
		}
		if a.FilePermissions == types.PermissionNoProjects && a.Output != "" {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: no_projects agents require a null output", a.Name)}
		}

		if a.Output != "" {
			if owner, exists := seenOutputs[a.Output]; exists {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("output filename %q claimed by both %q and %q", a.Output, owner, a.Name)}
			}
			seenOutputs[a.Output] = a.Name
		}

		if a.MultiInstance {
			if a.MaxInstances <= 0 {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: multi_instance requires max_instances > 0", a.Name)}
			}
			if len(a.InstanceNames) < a.MaxInstances {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q: instance_names (%d) shorter than max_instances (%d)", a.Name, len(a.InstanceNames), a.MaxInstances)}
			}
		}
	}

	noteTaker := team.Workflow.NoteTakerAgent()
	if noteTaker != "" {
		nt := team.AgentByName(noteTaker)
		if nt == nil {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("workflow note_taker/coordinator %q is not a declared agent", noteTaker)}
		}
		if nt.WorkflowParticipant {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("agent %q is the note-taker/coordinator and must have workflow_participant: false", noteTaker)}
		}
	}

	if len(team.Phases) == 0 {
		return &coreerrors.ConfigError{Path: team.Name, Reason: "team: at least one phase is required"}
	}

	// context.md is considered produced before phase 0 regardless of
	// whether any agent's output field happens to name it.
	produced := map[string]bool{"context.md": true}
	for i, p := range team.Phases {
		if p.Name == "" {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("phase %d: 'name' is required", i)}
		}
		if team.AgentByName(p.Owner) == nil {
			return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("phase %q: owner %q is not a declared agent", p.Name, p.Owner)}
		}
		for _, req := range p.Predecessors {
			if !produced[req] {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("phase %q: requires %q which is not produced by an earlier phase", p.Name, req)}
			}
		}
		if p.Output != "" {
			produced[p.Output] = true
		}
		if team.SchemaVersion < 2 && p.OnReject != "" {
			if team.PhaseByName(p.OnReject) == nil {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("phase %q: on_reject names unknown phase %q", p.Name, p.OnReject)}
			}
		}
		if team.SchemaVersion < 2 && p.Next != "" {
			if team.PhaseByName(p.Next) == nil {
				return &coreerrors.ConfigError{Path: team.Name, Reason: fmt.Sprintf("phase %q: next names unknown phase %q", p.Name, p.Next)}
			}
		}
	}

	return nil
}

// CheckOutput validates an agent's output artifact against its
// required sections. It returns whether the file exists at all and
// the list of missing section headings (empty if all are present),
// matching the source hook's check_agent_output: a case-sensitive
// substring match, monotone in the file's content (appending text can
// never remove a section that is already present).
//
// A missing file blocks independently of requiredSections: exists is
// false even when requiredSections is empty, so callers must not infer
// "file present" from an empty missing list alone.
func CheckOutput(outputPath string, requiredSections []string) (exists bool, missing []string, err error) {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, requiredSections, nil
		}
		return false, nil, err
	}
	body := string(data)
	for _, section := range requiredSections {
		if !strings.Contains(body, section) {
			missing = append(missing, section)
		}
	}
	return true, missing, nil
}
