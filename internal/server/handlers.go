package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mailbrief/internal/core"
	"mailbrief/internal/ingest"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.store.Ping(); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	checks["database"] = "ok"

	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// handleListItems returns the items of one ingest day, defaulting to
// the most recent day with any items.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		latest, err := s.store.LatestIngestDate()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		date = latest
	}

	items, err := s.store.ListItemsByIngestDate(date)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []core.Item{}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"date":  date,
		"items": items,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(false)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []core.Source{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// ingestRequest is the optional JSON body of POST /api/ingest/run.
type ingestRequest struct {
	TargetDate string `json:"target_date"`
	Force      bool   `json:"force"`
}

// handleRunIngest executes an ingestion run and streams its progress
// events as SSE, one event per message, flushed as they happen. The
// stream always ends with a complete or error event.
func (s *Server) handleRunIngest(w http.ResponseWriter, r *http.Request) {
	if s.runIngest == nil {
		s.respondError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion is not available on this deployment"))
		return
	}

	// An empty or absent body means a default rolling-window run.
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event ingest.Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			s.log.Error("failed to encode progress event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	opts := ingest.RunOptions{TargetDate: req.TargetDate, Force: req.Force}
	if err := s.runIngest(r.Context(), opts, emit); err != nil {
		// The run already emitted its terminal error event; nothing
		// more can be sent on a started stream.
		s.log.Error("ingest run failed", "error", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
