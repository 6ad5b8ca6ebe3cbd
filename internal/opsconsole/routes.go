package opsconsole

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nolanhq/stopgate/internal/handoffhistory"
)

var upgrader = websocket.Upgrader{
	// The spectator feed is read-only and carries no credentials; any
	// origin may open a socket to watch it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the ops console's HTTP+websocket surface.
type Server struct {
	hub     *Hub
	history *handoffhistory.Store
	logger  *log.Logger
}

// NewServer builds a Server wired to hub (for /ws) and history (for the
// REST history query); its Router method returns the handler to pass to
// http.Server.
func NewServer(hub *Hub, history *handoffhistory.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{hub: hub, history: history, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{project}/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[ops-console] websocket upgrade failed: %v", err)
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.hub.registerClient(client)

	go client.readPump()
	go client.writePump()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.history.RecentForProject(project, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to query handoff history")
		return
	}

	s.respondJSON(w, map[string]interface{}{
		"project": project,
		"records": records,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("[ops-console] encoding response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
