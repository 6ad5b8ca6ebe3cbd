// Package types holds the data model shared across the coordination
// core: teams, agents, phases, handoff records, and the small set of
// value objects that cross package boundaries. Nothing in this package
// touches the filesystem; it is pure data plus the validation helpers
// that only need the struct's own fields.
package types

import "regexp"

// agentNamePattern is the regex every Agent.Name must satisfy.
var agentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidAgentName reports whether name matches the required agent
// identifier shape.
func ValidAgentName(name string) bool {
	return agentNamePattern.MatchString(name)
}

// FilePermission is the access class an agent descriptor declares for
// itself.
type FilePermission string

const (
	PermissionRestricted FilePermission = "restricted"
	PermissionPermissive FilePermission = "permissive"
	PermissionNoProjects FilePermission = "no_projects"
)

// Agent is a team member descriptor, loaded from team YAML.
type Agent struct {
	Name                string         `yaml:"name"`
	Output              string         `yaml:"output"`
	RequiredSections    []string       `yaml:"required_sections"`
	FilePermissions     FilePermission `yaml:"file_permissions"`
	WorkflowParticipant bool           `yaml:"workflow_participant"`
	MultiInstance       bool           `yaml:"multi_instance"`
	MaxInstances        int            `yaml:"max_instances"`
	InstanceNames       []string       `yaml:"instance_names"`
}

// HasOutput reports whether this agent produces an output artifact at
// all (no_projects agents never do).
func (a Agent) HasOutput() bool {
	return a.Output != ""
}

// Phase is one step of a team's workflow, loaded from team YAML.
//
// Next and OnReject are only meaningful for SchemaVersion < 2; schema
// 2+ teams derive successor/predecessor from array position and leave
// these empty.
type Phase struct {
	Name         string   `yaml:"name"`
	Owner        string   `yaml:"owner"`
	Output       string   `yaml:"output"`
	Predecessors []string `yaml:"requires"`
	Next         string   `yaml:"next"`
	OnReject     string   `yaml:"on_reject"`
}

// Workflow holds the tunable knobs and role identities a team
// declares alongside its phase list.
type Workflow struct {
	Coordinator        string `yaml:"coordinator"`
	NoteTaker          string `yaml:"note_taker"`
	AckTimeoutSeconds  int    `yaml:"ack_timeout_seconds"`
	AckPollIntervalSec int    `yaml:"ack_poll_interval_seconds"`
}

// NoteTakerAgent resolves the note_taker/coordinator synonym: note_taker
// wins when both are set, matching the source project's
// get_note_taker_file preference.
func (w Workflow) NoteTakerAgent() string {
	if w.NoteTaker != "" {
		return w.NoteTaker
	}
	return w.Coordinator
}

const defaultAckTimeoutSeconds = 60
const defaultAckPollIntervalSeconds = 6

// AckTimeout returns the configured ack timeout in seconds, or the
// protocol default of 60 if unset.
func (w Workflow) AckTimeout() int {
	if w.AckTimeoutSeconds > 0 {
		return w.AckTimeoutSeconds
	}
	return defaultAckTimeoutSeconds
}

// AckPollInterval returns the configured poll interval in seconds, or
// the protocol default of 6 if unset.
func (w Workflow) AckPollInterval() int {
	if w.AckPollIntervalSec > 0 {
		return w.AckPollIntervalSec
	}
	return defaultAckPollIntervalSeconds
}

// Team is the immutable, once-per-invocation configuration describing
// a workflow graph: its agents, its ordered phases, and its knobs.
type Team struct {
	Name          string   `yaml:"name"`
	SchemaVersion int      `yaml:"schema_version"`
	Agents        []Agent  `yaml:"agents"`
	Phases        []Phase  `yaml:"phases"`
	Workflow      Workflow `yaml:"workflow"`
}

// AgentByName returns the agent descriptor with the given name, or nil
// if no such agent exists in the team.
func (t *Team) AgentByName(name string) *Agent {
	for i := range t.Agents {
		if t.Agents[i].Name == name {
			return &t.Agents[i]
		}
	}
	return nil
}

// PhaseByName returns the phase with the given name (case-insensitive,
// matching the source router's lookup), or nil.
func (t *Team) PhaseByName(name string) *Phase {
	for i := range t.Phases {
		if equalFold(t.Phases[i].Name, name) {
			return &t.Phases[i]
		}
	}
	return nil
}

// PhaseIndex returns the index of the named phase within t.Phases, or
// -1 if not found.
func (t *Team) PhaseIndex(name string) int {
	for i := range t.Phases {
		if equalFold(t.Phases[i].Name, name) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// HandoffStatus is the outcome recorded in a handoff record.
type HandoffStatus string

const (
	StatusComplete HandoffStatus = "COMPLETE"
	StatusRejected HandoffStatus = "REJECTED"
)

// Handoff is the serialized record written to the queue, one file per
// handoff, never modified in place once written.
type Handoff struct {
	ID           string        `yaml:"id"`
	Timestamp    string        `yaml:"timestamp"`
	FromAgent    string        `yaml:"from_agent"`
	ToAgent      string        `yaml:"to_agent"`
	Project      string        `yaml:"project"`
	Team         string        `yaml:"team"`
	Status       HandoffStatus `yaml:"status"`
	Acknowledged bool          `yaml:"acknowledged"`
}

// RouterAction is the verdict shape emitted by the phase router.
type RouterAction string

const (
	ActionAssign   RouterAction = "assign"
	ActionComplete RouterAction = "complete"
	ActionEscalate RouterAction = "escalate"
)

// RouterResult is the phase router's pure output: exactly the shape
// spec'd for both the schema>=2 and legacy routing variants.
type RouterResult struct {
	Action    RouterAction `json:"action"`
	NextPhase string       `json:"next_phase,omitempty"`
	NextAgent string       `json:"next_agent,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// Decision is the input to the phase router: whether the owning agent
// approved or rejected the phase's artifact.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Verdict is the stop-gate's final answer, marshaled to stdout as
// JSON.
type Verdict struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// Approve builds an approve verdict.
func Approve() Verdict {
	return Verdict{Decision: "approve"}
}

// Block builds a block verdict with a human-readable reason.
func Block(reason string) Verdict {
	return Verdict{Decision: "block", Reason: reason}
}

// StatusFile is the sibling audit record written next to an agent's
// output artifact after auto-progression.
type StatusFile struct {
	Status    string `yaml:"status"`
	Reason    string `yaml:"reason,omitempty"`
	Timestamp string `yaml:"timestamp"`
}
