// Package eventbus is a best-effort, in-process pub/sub fan-out of
// coordination-core events for the read-only ops console (cmd/ops-console).
// It is purely a spectator feed: nothing in internal/stopgate,
// internal/handoffqueue, or internal/phaserouter depends on it, and
// losing an event here never affects protocol correctness.
//
// Grounded directly on ODSapper-CLIAIMONITOR's internal/events package
// (bus.go, types.go): the subscription/backpressure/drop-counter shape
// is kept nearly verbatim, re-typed for this domain's three event
// kinds instead of the teacher's six dashboard event kinds.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of a coordination-core event published to the bus.
type Kind string

const (
	KindHandoffEnqueued     Kind = "handoff_enqueued"
	KindHandoffAcknowledged Kind = "handoff_acknowledged"
	KindRouterDecision      Kind = "router_decision"
)

// Event is a single fan-out message. Payload carries kind-specific
// fields as a flat string map, kept deliberately loose since this is a
// spectator feed, not a contract any protocol code parses back.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Project   string            `json:"project"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent builds an Event with a fresh id and the current time.
func NewEvent(kind Kind, project string, payload map[string]string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Project:   project,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
