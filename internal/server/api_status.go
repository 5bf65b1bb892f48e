package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"argus/internal/models"
)

type statusResponse struct {
	DiscoveryRunning bool                 `json:"discovery_running"`
	LastRun          *models.DiscoveryRun `json:"last_run"`
	LastPoll         *time.Time           `json:"last_poll"`
	Subscribers      int                  `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if s.discovery != nil {
		resp.DiscoveryRunning = s.discovery.Running()
	}
	last, err := s.store.LastDiscoveryRun(r.Context())
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		log.Printf("loading last discovery run: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	default:
		resp.LastRun = last
	}
	if s.poller != nil {
		if t := s.poller.LastPoll(); !t.IsZero() {
			resp.LastPoll = &t
		}
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
