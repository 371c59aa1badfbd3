// Package server exposes the dashboard and admin API over chi.
// It is a thin presentation layer: all decisions live in the scheduler
// and the stores.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/config"
	"dmvwatch/internal/history"
	"dmvwatch/internal/scheduler"
	"dmvwatch/internal/subscriptions"
	"dmvwatch/pkg/logx"
)

// Discoverer refreshes the known-office cache on demand.
type Discoverer interface {
	Discover(ctx context.Context) ([]checker.Office, error)
}

type Server struct {
	cfg   *config.Config
	sched *scheduler.Scheduler
	subs  *subscriptions.Store
	hist  *history.Store // optional
	disc  Discoverer     // optional
	log   logx.Logger

	mu         sync.RWMutex
	discovered []checker.Office
}

func New(cfg *config.Config, sched *scheduler.Scheduler, subs *subscriptions.Store, hist *history.Store, disc Discoverer, log logx.Logger) *Server {
	return &Server{
		cfg:   cfg,
		sched: sched,
		subs:  subs,
		hist:  hist,
		disc:  disc,
		log:   log,
	}
}

// RefreshOffices runs discovery and replaces the cache. Best-effort: on
// error the previous cache stays.
func (s *Server) RefreshOffices(ctx context.Context) ([]checker.Office, error) {
	if s.disc == nil {
		return nil, nil
	}
	offices, err := s.disc.Discover(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.discovered = offices
	s.mu.Unlock()
	return offices, nil
}

func (s *Server) discoveredOffices() []checker.Office {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]checker.Office(nil), s.discovered...)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", s.handleDashboard)
	r.Get("/health", s.handleHealth)
	r.Get("/api/results", s.handleResults)
	r.Get("/api/offices", s.handleOffices)
	r.Get("/api/history", s.handleHistory)

	// Admin: bearer token required. Subscription reads and writes are both
	// gated; the dashboard passes the token through from its form.
	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/api/subscriptions", s.handleListSubscriptions)
		r.Post("/api/subscriptions", s.handleUpsertSubscription)
		r.Delete("/api/subscriptions", s.handleDeleteSubscription)
		r.Post("/api/test-sms", s.handleTestSMS)
		r.Post("/api/test-email", s.handleTestEmail)
		r.Post("/api/admin/discover-offices", s.handleDiscoverOffices)
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info("http server listening", logx.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		// Should not happen with our own types; fall back to a fixed body.
		status = http.StatusInternalServerError
		b = []byte(`{"error":"internal"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
