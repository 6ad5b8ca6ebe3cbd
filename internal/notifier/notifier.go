// Package notifier implements C6, the wake notifier: the side-effectful
// bridge between an acknowledged/enqueued handoff and the next agent's
// dormant terminal session. It is built behind a Notifier interface
// with at least two implementations, per spec.md §9's explicit
// instruction that "implicit tmux coupling" be replaced with an
// interface boundary: a tmux adapter for real invocations and a
// Recording adapter for tests.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/notifications.Manager
// for the multi-channel dispatch shape (log every attempt, treat each
// channel's failure as independent and non-fatal) and
// internal/notifications/terminal.go for the runtime.GOOS gating
// pattern reused here for the desktop-toast channel.
package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nolanhq/stopgate/internal/coreerrors"
	"github.com/nolanhq/stopgate/internal/tmux"
)

// Notifier delivers a wake signal to a dormant agent's terminal
// session. Delivery is always best-effort: a false return or an error
// means the queue record is still authoritative and the next agent
// will find it on its own next poll.
type Notifier interface {
	Wake(ctx context.Context, team, agent, message string) (delivered bool, err error)
}

// TmuxNotifier implements the 4-step wake protocol from spec.md §4.6
// against a real tmux installation.
type TmuxNotifier struct {
	ops    *tmux.Ops
	logger *log.Logger
}

// NewTmuxNotifier builds a Notifier backed by the tmux singleton.
func NewTmuxNotifier(logger *log.Logger) *TmuxNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &TmuxNotifier{ops: tmux.Get(), logger: logger}
}

// Wake implements the protocol: probe session existence, send a
// literal "q" to exit copy-mode, sleep ~50ms, then transmit the wake
// line followed by Enter. Every subprocess call already carries its
// own 1-2s timeout inside internal/tmux; failures here are always
// logged and returned as a *coreerrors.DeliveryError, never panicked.
func (n *TmuxNotifier) Wake(ctx context.Context, team, agent, message string) (bool, error) {
	session := tmux.SessionName(team, agent)

	if !n.ops.HasSession(ctx, session) {
		n.logger.Printf("[wake-notifier] session %s not found; delivery skipped, queue record persists", session)
		return false, &coreerrors.DeliveryError{Target: session, Reason: "session does not exist"}
	}

	if err := n.ops.SendLiteralKey(ctx, session, "q"); err != nil {
		n.logger.Printf("[wake-notifier] failed to send copy-mode exit to %s: %v", session, err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := n.ops.SendLine(ctx, session, message); err != nil {
		n.logger.Printf("[wake-notifier] failed to deliver wake line to %s: %v", session, err)
		return false, &coreerrors.DeliveryError{Target: session, Reason: "delivering wake line failed", Err: err}
	}

	n.logger.Printf("[wake-notifier] delivered wake to %s", session)
	return true, nil
}

// WakeLine builds the literal wake payload per spec.md §4.6:
// "HANDOFF_<short-id>: Handoff from <agent> - project '<name>' ready for <next>".
func WakeLine(handoffID, fromAgent, project, nextAgent string) string {
	short := handoffID
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return fmt.Sprintf("HANDOFF_%s: Handoff from %s - project '%s' ready for %s", short, fromAgent, project, nextAgent)
}

// Recording is an in-memory Notifier for tests: it never shells out,
// simply records every call it receives.
type Recording struct {
	Calls []RecordedWake
	Allow bool // if false, Wake reports delivery failure without error
}

// RecordedWake captures one call to Wake for test assertions.
type RecordedWake struct {
	Team, Agent, Message string
}

// NewRecording builds a Recording notifier that reports successful
// delivery by default.
func NewRecording() *Recording {
	return &Recording{Allow: true}
}

func (r *Recording) Wake(_ context.Context, team, agent, message string) (bool, error) {
	r.Calls = append(r.Calls, RecordedWake{Team: team, Agent: agent, Message: message})
	return r.Allow, nil
}
