package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PointEvent builds the event broadcast when a point record lands on disk.
func PointEvent(p PointResponse) SSEEvent {
	return SSEEvent{Type: "point", Data: p}
}

// StatusEvent builds the event broadcast when the aggregate counts change.
func StatusEvent(st StatusResponse) SSEEvent {
	return SSEEvent{Type: "status", Data: st}
}

// ConfigEvent builds the event broadcast when the sweep config changes on disk.
func ConfigEvent(path string) SSEEvent {
	return SSEEvent{Type: "config", Data: map[string]string{"path": path}}
}

// SSEHub fans events out to connected clients. The run loop owns the client
// set alone, registration and teardown go through channels.
type SSEHub struct {
	clients    map[chan SSEEvent]bool
	broadcast  chan SSEEvent
	register   chan chan SSEEvent
	unregister chan chan SSEEvent
	stop       chan struct{}
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients:    make(map[chan SSEEvent]bool),
		broadcast:  make(chan SSEEvent),
		register:   make(chan chan SSEEvent),
		unregister: make(chan chan SSEEvent),
		stop:       make(chan struct{}),
	}
}

// Run starts the SSE hub and blocks until Stop
func (h *SSEHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// Evict clients that stopped reading
					close(client)
					delete(h.clients, client)
				}
			}

		case <-h.stop:
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Broadcast sends an event to all clients
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	case <-h.stop:
	}
}

// Stop shuts the hub down and disconnects every client
func (h *SSEHub) Stop() {
	close(h.stop)
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		// Buffered so one slow flush does not get the client evicted
		client := make(chan SSEEvent, 8)
		s.sseHub.register <- client

		notify := r.Context().Done()
		go func() {
			<-notify
			select {
			case s.sseHub.unregister <- client:
			case <-s.sseHub.stop:
			}
		}()

		for event := range client {
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
