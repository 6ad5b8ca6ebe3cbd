// Package tmux wraps the tmux CLI for the wake-notifier's side
// channel: it can check whether a named session exists and send it
// literal keystrokes, nothing more. It is the single place in the
// module that shells out to tmux.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/wezterm/ops.go, which
// wraps wezterm.exe's CLI the same way: a singleton, a mutex, a
// per-call timeout, and rate limiting between pane operations. The
// teacher's rate limiter was a hand-rolled waitForInterval
// (time.Since + time.Sleep); this build replaces it with
// golang.org/x/time/rate, the idiomatic library for the same job,
// grounded on its presence as an enrichment dependency across the
// retrieval pack.
package tmux

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var logger = log.New(os.Stderr, "[tmux] ", log.LstdFlags)

// Ops provides rate-limited, timeout-bounded tmux CLI operations.
type Ops struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	commandTimeout time.Duration
}

var (
	instance     *Ops
	instanceOnce sync.Once
)

// Get returns the process-wide singleton Ops instance, matching the
// teacher's wezterm.Get() pattern.
func Get() *Ops {
	instanceOnce.Do(func() {
		instance = &Ops{
			limiter:        rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
			commandTimeout: 2 * time.Second,
		}
	})
	return instance
}

// SessionName builds the wake channel's session naming convention:
// agent-<team>-<agent>.
func SessionName(team, agent string) string {
	return fmt.Sprintf("agent-%s-%s", team, agent)
}

func (o *Ops) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tmux", args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("tmux command timed out after %s", o.commandTimeout)
	}
	return output, err
}

// HasSession reports whether a tmux session with the given name
// exists.
func (o *Ops) HasSession(ctx context.Context, session string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := o.run(ctx, "has-session", "-t", session)
	if err != nil {
		logger.Printf("session %s not found: %v", session, err)
	}
	return err == nil
}

// SendLiteralKey sends a single literal key (no Enter) to a session,
// used to exit copy-mode before delivering the wake line.
func (o *Ops) SendLiteralKey(ctx context.Context, session, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	output, err := o.run(ctx, "send-keys", "-t", session, "-l", key)
	if err != nil {
		return fmt.Errorf("send-keys %q to %s: %w (output: %s)", key, session, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// SendLine transmits text literally followed by a carriage return
// (Enter), delivering it as a single logical wake line.
func (o *Ops) SendLine(ctx context.Context, session, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.run(ctx, "send-keys", "-t", session, "-l", text); err != nil {
		return fmt.Errorf("send-keys text to %s: %w", session, err)
	}
	if _, err := o.run(ctx, "send-keys", "-t", session, "Enter"); err != nil {
		return fmt.Errorf("send-keys Enter to %s: %w", session, err)
	}
	return nil
}
