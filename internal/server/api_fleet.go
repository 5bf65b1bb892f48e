package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"argus/internal/discovery"
	"argus/internal/models"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

func (s *Server) handleGetFleet(w http.ResponseWriter, r *http.Request) {
	if s.fleet == nil {
		writeJSON(w, http.StatusOK, models.Fleet{})
		return
	}
	writeJSON(w, http.StatusOK, s.fleet.Current().Redacted())
}

func (s *Server) handleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.discovery == nil {
		writeError(w, http.StatusServiceUnavailable, "discovery not configured")
		return
	}
	err := s.discovery.Start(s.baseCtx)
	if errors.Is(err, discovery.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		log.Printf("starting discovery: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "discovery started"})
}

func (s *Server) handleListDiscoveryRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.store.ListDiscoveryRuns(r.Context(), limit)
	if err != nil {
		log.Printf("listing discovery runs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
