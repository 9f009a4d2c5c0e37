// Package httpapi exposes the health/status/admin HTTP surface on top of
// chi, with the same middleware-chain and routing setup pattern used
// throughout this codebase's HTTP servers.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentry/internal/storage"
	"github.com/aristath/sentry/internal/webhook"
)

// MarketDataPinger is the lightweight availability check used by /health.
type MarketDataPinger interface {
	Ping(ctx context.Context) error
}

// SchedulerLiveness reports when the scheduler last completed a tick.
type SchedulerLiveness interface {
	LastTick() time.Time
}

// Config wires everything the HTTP surface needs.
type Config struct {
	Log             zerolog.Logger
	Port            int
	DB              *storage.DB
	Alerts          *storage.AlertRepository
	Market          MarketDataPinger
	Scheduler       SchedulerLiveness
	Helius          *webhook.HeliusHandler
	AdminConfirmKey string // header name checked for a non-empty value before live /database/cleanup runs
}

// Server is the sentry monitoring agent's HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	startedAt time.Time
	port      int
	db        *storage.DB
	alerts    *storage.AlertRepository
	market    MarketDataPinger
	scheduler SchedulerLiveness
	confirmHdr string
}

const requestTimeout = 30 * time.Second

// staleSchedulerAfter is how long without a completed tick before the
// scheduler is considered degraded; twice the 5-minute hot interval
// default so a single slow tick doesn't flap /health.
const staleSchedulerAfter = 10 * time.Minute

// New constructs a Server with routes registered but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "httpapi").Logger(),
		startedAt:  time.Now(),
		port:       cfg.Port,
		db:         cfg.DB,
		alerts:     cfg.Alerts,
		market:     cfg.Market,
		scheduler:  cfg.Scheduler,
		confirmHdr: cfg.AdminConfirmKey,
	}
	if s.confirmHdr == "" {
		s.confirmHdr = "X-Admin-Confirm"
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Helius)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(requestTimeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Admin-Confirm"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(helius *webhook.HeliusHandler) {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/memory", s.handleMemory)
	s.router.Post("/memory/gc", s.handleMemoryGC)
	s.router.Get("/database/cleanup", s.handleDatabaseCleanup)
	s.router.Post("/database/cleanup", s.handleDatabaseCleanup)

	if helius != nil {
		s.router.Post("/webhooks/helius", helius.ServeHTTP)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Start begins serving. Blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
