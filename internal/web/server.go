// Package web exposes the HTTP surface: protocol catalogue, roster, run
// submission and inspection, schedules, and a websocket event feed.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"conclave/internal/store"
)

type Server struct {
	coord     *engine.Coordinator
	store     *store.Store
	registry  *protocol.Registry
	roster    roster.Roster
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(coord *engine.Coordinator, st *store.Store, reg *protocol.Registry, ros roster.Roster, cfg config.WebConfig, version string) *Server {
	return &Server{
		coord:     coord,
		store:     st,
		registry:  reg,
		roster:    ros,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// SetCoordinator attaches the coordinator after construction. The server's
// Sink must exist before the coordinator does, so wiring happens in two
// steps; call this before Start.
func (s *Server) SetCoordinator(coord *engine.Coordinator) {
	s.coord = coord
}

// Sink returns the event sink that feeds the websocket hub. Wire it into
// the coordinator so browser clients see runs live.
func (s *Server) Sink() engine.EventSink {
	return func(ev engine.Event) {
		s.hub.Broadcast(ev)
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && !s.checkAuth(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts the configured token as a bearer header, basic-auth
// password, or the "token" query parameter (websocket clients cannot set
// headers).
func (s *Server) checkAuth(r *http.Request) bool {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if _, pass, ok := r.BasicAuth(); ok {
		token = pass
	} else {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth)) == 1
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
