package web

import (
	"encoding/json"
	"net/http"
	"time"

	"conclave/internal/engine"
	"conclave/internal/schedule"
	"conclave/internal/store"
	"github.com/google/uuid"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/protocols", s.listProtocols)
	mux.HandleFunc("GET /api/workers", s.listWorkers)

	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.cancelRun)

	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listProtocols(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry.List())
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.roster)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var sub engine.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.coord.Submit(sub)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	jsonResponse(w, map[string]string{"run_id": run.ID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	// The store has every run the coordinator ever persisted, including
	// those from before a restart; fall back to memory without one.
	if s.store != nil {
		runs, err := s.store.ListRuns(100)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResponse(w, runs)
		return
	}
	jsonResponse(w, s.coord.List())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if run, ok := s.coord.Get(id); ok {
		jsonResponse(w, run)
		return
	}
	if s.store != nil {
		run, err := s.store.GetRun(id)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run != nil {
			jsonResponse(w, run)
			return
		}
	}
	jsonError(w, "run not found", http.StatusNotFound)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Cancel(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelling"})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "no store configured", http.StatusNotImplemented)
		return
	}
	schedules, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, schedules)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "no store configured", http.StatusNotImplemented)
		return
	}

	var body struct {
		Name       string   `json:"name"`
		ProtocolID string   `json:"protocol_id"`
		Question   string   `json:"question"`
		Workers    []string `json:"workers,omitempty"`
		Rounds     int      `json:"rounds,omitempty"`
		Schedule   string   `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Question == "" || body.ProtocolID == "" {
		jsonError(w, "protocol_id and question are required", http.StatusBadRequest)
		return
	}
	if _, err := s.registry.Get(body.ProtocolID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	next := schedule.NextRun(normalized)
	if next == nil {
		jsonError(w, "schedule would never fire", http.StatusBadRequest)
		return
	}

	sr := &store.ScheduledRun{
		ID:         uuid.NewString(),
		Name:       body.Name,
		ProtocolID: body.ProtocolID,
		Question:   body.Question,
		Workers:    body.Workers,
		Rounds:     body.Rounds,
		Schedule:   normalized,
		Status:     "active",
		NextRunAt:  next,
	}
	if err := s.store.SaveScheduledRun(sr); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	jsonResponse(w, sr)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "no store configured", http.StatusNotImplemented)
		return
	}
	if err := s.store.DeleteScheduledRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"version":   s.version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"protocols": len(s.registry.List()),
		"workers":   len(s.roster),
	})
}
