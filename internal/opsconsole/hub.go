// Package opsconsole implements the read-only HTTP+websocket spectator
// view (cmd/ops-console): a live feed of coordination-core events plus
// a query surface over handoff history. It consumes
// internal/eventbus and internal/handoffhistory; nothing in the
// coordination core depends back on it.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/server package: the
// Hub/Client broadcast shape is kept nearly verbatim from hub.go, with
// the client→server direction dropped entirely (spectators never send
// commands, so readPump only watches for disconnects), and
// handlers.go's mux routing/respondJSON/respondError helpers adapted
// for this package's narrower, read-only route set.
package opsconsole

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nolanhq/stopgate/internal/eventbus"
)

const clientSendBuffer = 256

// Client is one connected websocket spectator.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans eventbus events out to every connected websocket spectator.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	logger     *log.Logger
}

// NewHub creates an empty Hub. Call Run in its own goroutine before
// registering any clients.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, clientSendBuffer),
		logger:     logger,
	}
}

// Run is the hub's main loop; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Mirror subscribes to every eventbus event and broadcasts each to
// connected spectators as JSON. Intended to run once per Hub lifetime.
func (h *Hub) Mirror(bus *eventbus.Bus) {
	ch := bus.Subscribe(nil)
	go func() {
		for evt := range ch {
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Printf("[ops-console] marshaling event %s: %v", evt.ID, err)
				continue
			}
			h.broadcast <- data
		}
	}()
}

func (h *Hub) registerClient(c *Client)   { h.register <- c }
func (h *Hub) unregisterClient(c *Client) { h.unregister <- c }

// readPump drains (and discards) any frame a spectator sends, purely to
// detect disconnects; spectators never issue commands over the socket.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump relays broadcast messages queued for this client to its
// websocket connection until the hub closes its send channel.
func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
