// Package api exposes run status and live event streams over HTTP. It is a
// read-and-cancel surface; runs are started from the CLI.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmloop/agent/internal/agent"
	"github.com/warmloop/agent/internal/runstore"
)

// Server serves run records from the store and streams live events from
// the bus.
type Server struct {
	store  *runstore.Store
	bus    *Bus
	logger zerolog.Logger
}

func NewServer(store *runstore.Store, bus *Bus, logger zerolog.Logger) *Server {
	return &Server{store: store, bus: bus, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /runs/{id}/events", s.handleEvents)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.MarkCancelled(r.Context(), id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	rec, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams the run's append-only event log over SSE: replay
// everything persisted, then follow the log until the client disconnects
// or the run reaches a terminal state. The live bus is only a wakeup; all
// data is read from the log by event ID, so nothing is duplicated or
// dropped on timestamp ties.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// subscribe before the first drain so nothing falls in the gap
	live, cancel := s.bus.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var cursor int64
	drain := func() (done bool) {
		events, err := s.store.ListEvents(r.Context(), id, cursor)
		if err != nil {
			s.logger.Warn().Err(err).Str("run_id", id).Msg("event drain failed")
			return false
		}
		for _, ev := range events {
			writeSSE(w, ev.Event)
			cursor = ev.ID
			if ev.Type == agent.EventRunFinished || ev.Type == agent.EventRunFailed {
				done = true
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		return done
	}

	if drain() || terminal(rec.Status) {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			// heartbeat doubles as a catch-up for missed wakeups
			if drain() {
				return
			}
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-live:
			if drain() {
				return
			}
			// terminal notification whose persist was dropped: stop anyway
			if ev.Type == agent.EventRunFinished || ev.Type == agent.EventRunFailed {
				return
			}
		}
	}
}

func terminal(st agent.Status) bool {
	switch st {
	case agent.StatusFinished, agent.StatusFailed, agent.StatusCancelled:
		return true
	default:
		return false
	}
}

func writeSSE(w http.ResponseWriter, ev agent.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
