// Package paths resolves the coordination core's directory layout and
// the single active project for a given agent, from process
// environment and durable binding files. It is deliberately the
// simplest package in the module: every rule here exists specifically
// to avoid the one anti-pattern spec.md forbids outright — guessing an
// active project from "most recently modified directory". Ambiguous
// state is always an error.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/agents/projects.go for
// the ProjectValidationError shape, and on
// original_source/app/.claude/hooks/validate-phase-complete.py's
// get_projects_base/get_docs_path for the env precedence chain.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nolanhq/stopgate/internal/atomicfile"
	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/filelock"
	"gopkg.in/yaml.v3"
)

// Environment variable names consulted by Resolve, in the priority
// order spec.md §4.1 defines.
const (
	EnvDocsPath    = "DOCS_PATH"
	EnvProjectsDir = "PROJECTS_DIR"
	EnvAgentDir    = "AGENT_DIR"
	EnvNolanRoot   = "NOLAN_ROOT"
	EnvAgentName   = "AGENT_NAME"
	EnvTeamName    = "TEAM_NAME"
	EnvForceStop   = "STOP_GATE_FORCE_ALLOW"
)

const bindingLockTimeout = 2 * time.Second

// Env is the subset of process environment the resolver needs. Tests
// construct it directly instead of mutating the real process
// environment.
type Env struct {
	DocsPath    string
	ProjectsDir string
	AgentDir    string
	NolanRoot   string
	AgentName   string
	TeamName    string
	ForceStop   bool
}

// FromProcess reads Env from os.Getenv, matching real invocations.
func FromProcess() Env {
	return Env{
		DocsPath:    os.Getenv(EnvDocsPath),
		ProjectsDir: os.Getenv(EnvProjectsDir),
		AgentDir:    os.Getenv(EnvAgentDir),
		NolanRoot:   os.Getenv(EnvNolanRoot),
		AgentName:   os.Getenv(EnvAgentName),
		TeamName:    os.Getenv(EnvTeamName),
		ForceStop:   truthy(os.Getenv(EnvForceStop)),
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ProjectsRoot derives the projects directory from the environment's
// PROJECTS_DIR, or failing that AGENT_DIR/projects, or failing that
// NOLAN_ROOT/projects.
func (e Env) ProjectsRoot() (string, error) {
	if e.ProjectsDir != "" {
		return e.ProjectsDir, nil
	}
	if e.AgentDir != "" {
		return filepath.Join(e.AgentDir, "projects"), nil
	}
	if e.NolanRoot != "" {
		return filepath.Join(e.NolanRoot, "projects"), nil
	}
	return "", &coreerrors.ContextError{Reason: "no PROJECTS_DIR, AGENT_DIR, or NOLAN_ROOT set; cannot locate projects root"}
}

// StateRoot derives the state directory (bindings/, handoffs/,
// incidents.log) from NOLAN_ROOT/state, or failing that
// AGENT_DIR/state, or failing that a "state" sibling of PROJECTS_DIR.
func (e Env) StateRoot() (string, error) {
	if e.NolanRoot != "" {
		return filepath.Join(e.NolanRoot, "state"), nil
	}
	if e.AgentDir != "" {
		return filepath.Join(e.AgentDir, "state"), nil
	}
	if e.ProjectsDir != "" {
		return filepath.Join(filepath.Dir(e.ProjectsDir), "state"), nil
	}
	return "", &coreerrors.ContextError{Reason: "no NOLAN_ROOT, AGENT_DIR, or PROJECTS_DIR set; cannot locate state root"}
}

// bindingPath returns the namespaced binding file path for (state,
// team, agent).
func bindingPath(stateRoot, team, agent string) string {
	return filepath.Join(stateRoot, "bindings", team, "active-"+agent)
}

// legacyBindingPath returns the deprecated unnamespaced binding file
// path, read as a fallback and logged as deprecated.
func legacyBindingPath(stateRoot, agent string) string {
	return filepath.Join(stateRoot, "active-"+agent)
}

// ActiveProject resolves the one project directory an agent is
// currently bound to, following the exact precedence in spec.md §4.1:
//
//  1. DOCS_PATH, if set and the directory exists.
//  2. The namespaced binding file under an advisory lock.
//  3. The legacy unnamespaced binding file (deprecation warning).
//  4. An explicit ContextError — never a directory-listing guess.
func ActiveProject(env Env, warn func(string)) (string, error) {
	if warn == nil {
		warn = func(string) {}
	}

	if env.DocsPath != "" {
		if info, err := os.Stat(env.DocsPath); err == nil && info.IsDir() {
			return env.DocsPath, nil
		}
	}

	if env.AgentName == "" {
		return "", &coreerrors.ContextError{Reason: "AGENT_NAME not set; cannot resolve an active project binding"}
	}

	stateRoot, err := env.StateRoot()
	if err != nil {
		return "", err
	}

	team := env.TeamName
	if team == "" {
		team = "default"
	}

	path := bindingPath(stateRoot, team, env.AgentName)
	if project, err := readBinding(path); err == nil && project != "" {
		if dir, ok := projectDir(env, project); ok {
			return dir, nil
		}
	}

	legacy := legacyBindingPath(stateRoot, env.AgentName)
	if project, err := readBinding(legacy); err == nil && project != "" {
		if dir, ok := projectDir(env, project); ok {
			warn(fmt.Sprintf("using legacy unnamespaced binding %s; migrate to %s", legacy, path))
			return dir, nil
		}
	}

	return "", &coreerrors.ContextError{Reason: fmt.Sprintf("no active project bound for agent %q", env.AgentName)}
}

// projectDir returns the directory of the named project under the
// projects root, and whether that directory exists.
func projectDir(env Env, project string) (string, bool) {
	root, err := env.ProjectsRoot()
	if err != nil {
		return "", false
	}
	dir := filepath.Join(root, project)
	info, err := os.Stat(dir)
	return dir, err == nil && info.IsDir()
}

// readBinding reads a single-line binding file under a bounded lock.
// A missing file or an empty body are both treated as "no binding",
// not errors, so callers can try the next source in the chain.
func readBinding(path string) (string, error) {
	lockPath := path + ".lock"
	handle, err := filelock.Acquire(lockPath, bindingLockTimeout)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteBinding atomically sets the active-project binding for
// (stateRoot, team, agent) to project, under the same per-binding
// lock used by reads.
func WriteBinding(stateRoot, team, agent, project string) error {
	path := bindingPath(stateRoot, team, agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	lockPath := path + ".lock"
	handle, err := filelock.Acquire(lockPath, bindingLockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	return atomicfile.Write(path, []byte(project), 0o644)
}

// ClearBinding removes the active-project binding for (stateRoot,
// team, agent), along with the legacy unnamespaced binding if it also
// names this agent. Called only after a handoff has been acknowledged
// (or its wait has timed out) — never before, or a retried stop-gate
// invocation would lose its place.
func ClearBinding(stateRoot, team, agent string) error {
	path := bindingPath(stateRoot, team, agent)
	lockPath := path + ".lock"
	handle, err := filelock.Acquire(lockPath, bindingLockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	legacy := legacyBindingPath(stateRoot, agent)
	if err := os.Remove(legacy); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ResolveTeamName reads a project's .team file, which may be either a
// bare team name or a YAML document with a top-level "team:" field.
// Grounded on workflow-router.py's parse_team_name.
func ResolveTeamName(projectDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, ".team"))
	if err != nil {
		return "", &coreerrors.ContextError{Reason: fmt.Sprintf("reading .team in %s: %v", projectDir, err), Err: err}
	}
	return ParseTeamName(data)
}

// ParseTeamName implements the bare-string-or-YAML-doc parsing rule
// for .team file contents.
func ParseTeamName(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", &coreerrors.ContextError{Reason: ".team file is empty"}
	}
	if !strings.Contains(trimmed, ":") {
		return trimmed, nil
	}

	var doc struct {
		Team string `yaml:"team"`
	}
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil || doc.Team == "" {
		// Not a recognizable document; the original content was not a
		// plain name but also didn't parse as {team: ...}. Treat the
		// whole trimmed body as the name, matching the permissive
		// behavior of the python ancestor.
		return trimmed, nil
	}
	return doc.Team, nil
}
