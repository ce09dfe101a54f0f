package api

import (
	"encoding/json"
	"net/http"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
	"github.com/aerobench/sweep-orchestrator/internal/history"
	"github.com/aerobench/sweep-orchestrator/internal/pool"
	"github.com/aerobench/sweep-orchestrator/internal/resultstore"
)

// Store reads recorded points and the overall summary of one result tree.
type Store interface {
	Scan() ([]resultstore.ScannedPoint, error)
	LoadOverall() (*domain.OverallSummary, error)
}

// History lists past engine invocations, newest first.
type History interface {
	ListInvocations(opts history.ListOptions) ([]*domain.Invocation, error)
}

// AgentPool reports connected pool agents and queue depth.
type AgentPool interface {
	Agents() []pool.AgentStatus
	QueuedCount() int
}

// Server is the HTTP API server over one sweep output tree. History and
// agents are optional, their endpoints answer empty without them.
type Server struct {
	store   Store
	history History
	agents  AgentPool
	root    string
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
}

// NewServer creates a new API server
func NewServer(store Store, hist History, agents AgentPool, root, addr string) *Server {
	s := &Server{
		store:   store,
		history: hist,
		agents:  agents,
		root:    root,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/points", s.listPointsHandler())
	s.mux.HandleFunc("/api/scenarios", s.listScenariosHandler())
	s.mux.HandleFunc("/api/agents", s.listAgentsHandler())
	s.mux.HandleFunc("/api/history", s.listHistoryHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/", s.indexHandler())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route table, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func (s *Server) indexHandler() http.HandlerFunc {
	endpoints := []string{
		"/api/status",
		"/api/points",
		"/api/scenarios",
		"/api/agents",
		"/api/history",
		"/api/events",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, map[string]interface{}{
			"name":      "sweep-orchestrator",
			"root":      s.root,
			"endpoints": endpoints,
		})
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
