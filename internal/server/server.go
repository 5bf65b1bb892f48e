// Package server exposes the fleet, the discovery ledger and the session
// feed over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"argus/internal/discovery"
	"argus/internal/events"
	"argus/internal/fleet"
	"argus/internal/poller"
	"argus/internal/store"
)

// Trigger endpoints share one limiter: a burst of 5, refilled every 2s.
const (
	DefaultTriggerRate  = rate.Limit(0.5)
	DefaultTriggerBurst = 5
)

type Server struct {
	router     chi.Router
	store      *store.Store
	fleet      fleet.Reader
	discovery  *discovery.Cycle
	poller     *poller.Poller
	hub        *events.Hub
	corsOrigin string

	// baseCtx outlives requests; background discovery runs under it.
	baseCtx        context.Context
	triggerLimiter *rate.Limiter
}

func NewServer(s *store.Store, opts ...Option) *Server {
	srv := &Server{
		router:         chi.NewRouter(),
		store:          s,
		baseCtx:        context.Background(),
		triggerLimiter: rate.NewLimiter(DefaultTriggerRate, DefaultTriggerBurst),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithFleet(f fleet.Reader) Option {
	return func(s *Server) { s.fleet = f }
}

func WithDiscovery(c *discovery.Cycle) Option {
	return func(s *Server) { s.discovery = c }
}

func WithPoller(p *poller.Poller) Option {
	return func(s *Server) { s.poller = p }
}

func WithHub(h *events.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithBaseContext sets the context background work started by a request
// runs under. Cancel it on shutdown.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

func WithTriggerLimit(every time.Duration, burst int) Option {
	return func(s *Server) { s.triggerLimiter = rate.NewLimiter(rate.Every(every), burst) }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
