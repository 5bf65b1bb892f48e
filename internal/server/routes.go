package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"argus/internal/events"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.With(rateLimit(s.triggerLimiter)).Get("/monitor", s.handleTriggerPoll)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Get("/status", s.handleStatus)
		r.Get("/fleet", s.handleGetFleet)

		r.With(rateLimit(s.triggerLimiter)).Post("/discovery", s.handleStartDiscovery)
		r.Get("/discovery/runs", s.handleListDiscoveryRuns)

		r.Get("/sessions", s.handleListSessions)
		r.With(rateLimit(s.triggerLimiter)).Post("/sessions/poll", s.handleTriggerPoll)
	})

	if s.hub != nil {
		s.router.Group(func(r chi.Router) {
			r.Use(corsMiddleware(s.corsOrigin))
			r.Get("/api/events", s.hub.ServeSSE)
		})
		s.router.Method(http.MethodGet, "/ws", events.NewWebSocketHandler(s.hub, s.corsOrigin))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
