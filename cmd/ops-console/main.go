// Command ops-console serves the read-only spectator view: a
// websocket feed of live coordination events (internal/eventbus) plus
// a REST query over handoff history
// (internal/handoffhistory).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nolanhq/stopgate/internal/eventbus"
	"github.com/nolanhq/stopgate/internal/handoffhistory"
	"github.com/nolanhq/stopgate/internal/opsconsole"
	"github.com/nolanhq/stopgate/internal/paths"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP listen address")
	natsURL := flag.String("nats-url", "", "NATS URL to subscribe to for remote coordination events (without it the live feed has no event source)")
	flag.Parse()

	logger := log.New(os.Stderr, "[ops-console] ", log.LstdFlags)

	env := paths.FromProcess()
	stateRoot, err := env.StateRoot()
	if err != nil {
		logger.Fatalf("resolving state root: %v", err)
	}

	history, err := handoffhistory.Open(filepath.Join(stateRoot, "handoff-history.db"))
	if err != nil {
		logger.Fatalf("opening handoff history store: %v", err)
	}
	defer history.Close()

	hub := opsconsole.NewHub(logger)
	go hub.Run()

	if *natsURL != "" {
		bridge, err := eventbus.DialNatsBridge(*natsURL)
		if err != nil {
			logger.Fatalf("connecting to nats at %s: %v", *natsURL, err)
		}
		defer bridge.Close()

		bus := eventbus.New()
		hub.Mirror(bus)
		if err := bridge.SubscribeRemote(bus.Publish); err != nil {
			logger.Fatalf("subscribing to nats: %v", err)
		}
	} else {
		bus := eventbus.New()
		hub.Mirror(bus)
	}

	server := opsconsole.NewServer(hub, history, logger)
	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("serving: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
