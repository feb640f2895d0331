package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"conclave/internal/engine"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans run events out to websocket clients. A client subscribes either
// to one run or to everything.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*websocket.Conn]string // conn -> run filter, "" means all
	broadcast chan engine.Event
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan engine.Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client, filter := range h.clients {
				if filter != "" && filter != ev.RunID {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Broadcast(ev engine.Event) {
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "run", ev.RunID)
	}
}

func (h *Hub) Register(conn *websocket.Conn, runFilter string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = runFilter
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// handleWebSocket upgrades the connection and streams events until the
// client goes away. ?run=<id> narrows the feed to one run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, r.URL.Query().Get("run"))
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
