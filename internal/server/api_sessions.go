package server

import (
	"net/http"

	"argus/internal/models"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeJSON(w, http.StatusOK, []models.SessionRecord{})
		return
	}
	writeJSON(w, http.StatusOK, s.poller.CurrentSessions())
}

// handleTriggerPoll queues a poll; the batch arrives as a session_update event.
func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	s.poller.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"status": "monitoring started"})
}
