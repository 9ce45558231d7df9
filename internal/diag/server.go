// Package diag is the optional HTTP diagnostics server: a health check,
// a point-in-time connection snapshot, and a Prometheus scrape endpoint,
// mounted with the same chi router and middleware stack
// flowpbx-flowpbx's internal/api.Server uses for its own routes.
package diag

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airtap-go/airplay2/internal/diag/middleware"
)

// Server holds the chi router and the collectors registered against it.
// It is entirely optional: cmd/airplay2-sender only constructs one when
// -diag-addr is non-empty (spec.md's diagnostics surface is ambient, not
// part of the core wire protocol).
type Server struct {
	router    *chi.Mux
	startedAt time.Time
	status    func() StatusSnapshot
	limiter   *middleware.IPRateLimiter
}

// StatusSnapshot is the JSON body served at GET /api/v1/status.
type StatusSnapshot struct {
	State      string  `json:"state"`
	DeviceID   string  `json:"device_id,omitempty"`
	DeviceName string  `json:"device_name,omitempty"`
	UptimeSecs float64 `json:"uptime_seconds"`
}

// NewServer constructs the diagnostics HTTP handler. statusFn is polled
// on every request to /api/v1/status; registry is the prometheus
// registry exposed at /metrics (typically prometheus.DefaultRegisterer's
// underlying *prometheus.Registry, or a dedicated one per connection).
func NewServer(statusFn func() StatusSnapshot, registry *prometheus.Registry, corsOrigins string) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startedAt: time.Now(),
		status:    statusFn,
		limiter:   middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
	}
	s.routes(registry, corsOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter's background cleanup goroutine.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) routes(registry *prometheus.Registry, corsOrigins string) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(corsOrigins)))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.RateLimit(s.limiter))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.status()
	snap.UptimeSecs = time.Since(s.startedAt).Seconds()
	writeJSON(w, http.StatusOK, snap)
}
