package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// Subjects used for the optional NATS fan-out. A process that embeds a
// server publishes here; any process (including a remote cmd/ops-console)
// can subscribe without sharing this Bus in memory.
const (
	SubjectHandoffEnqueued     = "handoff.enqueued"
	SubjectHandoffAcknowledged = "handoff.acknowledged"
	SubjectRouterDecision      = "router.decision"
)

func subjectFor(kind Kind) string {
	switch kind {
	case KindHandoffEnqueued:
		return SubjectHandoffEnqueued
	case KindHandoffAcknowledged:
		return SubjectHandoffAcknowledged
	case KindRouterDecision:
		return SubjectRouterDecision
	default:
		return "router.unknown"
	}
}

func kindForSubject(subject string) Kind {
	switch subject {
	case SubjectHandoffEnqueued:
		return KindHandoffEnqueued
	case SubjectHandoffAcknowledged:
		return KindHandoffAcknowledged
	case SubjectRouterDecision:
		return KindRouterDecision
	default:
		return Kind(subject)
	}
}

// EmbeddedServerConfig configures an in-process NATS server for a
// single-node deployment that still wants a network-reachable event
// feed (cmd/ops-console running on another host). Grounded on
// internal/nats/server.go's EmbeddedServerConfig/EmbeddedServer.
type EmbeddedServerConfig struct {
	Port int // 0 picks the NATS default (4222)
}

// EmbeddedServer wraps a nats-server instance started in-process.
type EmbeddedServer struct {
	srv  *natsserver.Server
	port int
}

// NewEmbeddedServer starts an embedded NATS server and blocks until it
// is ready for connections or 10s elapse.
func NewEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	port := cfg.Port
	if port <= 0 {
		port = 4222
	}

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventbus: creating embedded NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("eventbus: embedded NATS server not ready for connections")
	}

	return &EmbeddedServer{srv: srv, port: port}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// Shutdown stops the embedded server and waits for it to fully drain.
func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}

// NatsBridge best-effort mirrors Bus events onto a NATS connection, so
// a remote cmd/ops-console can subscribe without running in the same
// process as cmd/stop-gate. It is purely additive: a publish failure
// here is logged and swallowed, never surfaced to the caller, since
// losing a spectator event must never affect handoff protocol
// correctness. Grounded on internal/nats/client.go's Client.
type NatsBridge struct {
	conn *nc.Conn
}

// DialNatsBridge connects to a NATS server (typically one started by
// NewEmbeddedServer, or a URL given by a command's -nats-url flag) with
// indefinite reconnect, matching internal/nats/client.go's NewClient.
func DialNatsBridge(url string) (*NatsBridge, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[eventbus] nats disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Printf("[eventbus] nats reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connecting to nats at %s: %w", url, err)
	}
	return &NatsBridge{conn: conn}, nil
}

// Close closes the underlying NATS connection.
func (nb *NatsBridge) Close() {
	if nb.conn != nil {
		nb.conn.Close()
	}
}

// Mirror subscribes to every event kind on bus and republishes each as
// JSON to the subject matching its kind. Intended to be run once, right
// after constructing both the Bus and the NatsBridge.
func (nb *NatsBridge) Mirror(bus *Bus) {
	ch := bus.Subscribe(nil)
	go func() {
		for evt := range ch {
			data, err := json.Marshal(evt)
			if err != nil {
				log.Printf("[eventbus] marshaling event %s for nats: %v", evt.ID, err)
				continue
			}
			if err := nb.conn.Publish(subjectFor(evt.Kind), data); err != nil {
				log.Printf("[eventbus] publishing event %s to nats: %v", evt.ID, err)
			}
		}
	}()
}

// SubscribeRemote subscribes to every coordination-core subject on the
// NATS connection and delivers decoded events to handler. Used by a
// cmd/ops-console instance that has no local Bus of its own.
func (nb *NatsBridge) SubscribeRemote(handler func(Event)) error {
	subjects := []string{SubjectHandoffEnqueued, SubjectHandoffAcknowledged, SubjectRouterDecision}
	for _, subject := range subjects {
		subject := subject
		_, err := nb.conn.Subscribe(subject, func(msg *nc.Msg) {
			var evt Event
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				log.Printf("[eventbus] decoding nats message on %s: %v", subject, err)
				return
			}
			if evt.Kind == "" {
				evt.Kind = kindForSubject(subject)
			}
			handler(evt)
		})
		if err != nil {
			return fmt.Errorf("eventbus: subscribing to %s: %w", subject, err)
		}
	}
	return nil
}
