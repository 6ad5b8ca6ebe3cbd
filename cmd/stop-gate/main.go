// Command stop-gate is the hook entry point for C7: it reads one JSON
// document from standard input, resolves the invoking agent's context
// from the process environment, runs the stop-gate state machine, and
// writes the verdict to standard output.
//
// Grounded on ODSapper-CLIAIMONITOR's cmd/captain-register/main.go for
// the small single-purpose CLI shape (flags for overrides, log.* for
// diagnostics, a single top-level error path).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nolanhq/stopgate/internal/eventbus"
	"github.com/nolanhq/stopgate/internal/handoffhistory"
	"github.com/nolanhq/stopgate/internal/paths"
	"github.com/nolanhq/stopgate/internal/stopgate"
)

func main() {
	natsURL := flag.String("nats-url", "", "optional NATS URL to mirror coordination events to")
	assignerCmd := flag.String("assigner-cmd", "", "optional external command invoked as <cmd> <project> <next_phase> <next_agent> on auto-progression assign")
	flag.Parse()

	logger := log.New(os.Stderr, "[validate-phase-complete] ", log.LstdFlags)

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Printf("reading standard input: %v", err)
		fmt.Println(`{"decision":"block","reason":"stop-gate: failed to read standard input"}`)
		return
	}

	env := paths.FromProcess()
	nolanRoot := env.NolanRoot
	if nolanRoot == "" {
		nolanRoot = os.Getenv(paths.EnvAgentDir)
	}

	gate := stopgate.NewGate(nolanRoot, logger)
	if stateRoot, err := env.StateRoot(); err == nil {
		if history, err := handoffhistory.Open(filepath.Join(stateRoot, "handoff-history.db")); err != nil {
			logger.Printf("opening handoff history store: %v", err)
		} else {
			defer history.Close()
			gate.History = history
		}
	}
	if *assignerCmd != "" {
		gate.Assigner = stopgate.ExternalAssigner{Command: []string{*assignerCmd}, Timeout: 2 * time.Second}
	}
	if *natsURL != "" {
		bridge, err := eventbus.DialNatsBridge(*natsURL)
		if err != nil {
			logger.Printf("connecting to nats at %s: %v", *natsURL, err)
		} else {
			defer bridge.Close()
			bus := eventbus.New()
			bridge.Mirror(bus)
			gate.Events = bus
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	verdict := gate.Decide(ctx, env, input)
	if err := stopgate.DecodeVerdict(os.Stdout, verdict); err != nil {
		logger.Printf("encoding verdict: %v", err)
	}
}
