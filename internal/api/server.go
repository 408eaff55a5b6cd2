// Package api serves the read-only status surface: health, line and call
// state for the administration layer, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chtugha/voicebridge/internal/database"
)

// CallInfo is one live call as reported by the signaling engine.
type CallInfo struct {
	SessionID   string    `json:"session_id"`
	CallerPhone string    `json:"caller_phone"`
	LineID      int64     `json:"line_id"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at"`
}

// CallProvider exposes live call state.
type CallProvider interface {
	ActiveCalls() []CallInfo
}

// Server is the HTTP status listener.
type Server struct {
	httpServer *http.Server
	limiter    *IPRateLimiter
	logger     *slog.Logger

	lines database.LineRepository
	calls CallProvider
	reg   *prometheus.Registry
}

// NewServer creates the status server on the given port.
func NewServer(port int, lines database.LineRepository, calls CallProvider, reg *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		limiter: NewIPRateLimiter(DefaultRateLimitConfig()),
		logger:  logger.With("subsystem", "api"),
		lines:   lines,
		calls:   calls,
		reg:     reg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RateLimit(s.limiter))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/lines", s.handleLines)
		r.Get("/calls", s.handleCalls)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http listener starting", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lineView is the public shape of a SIP line. Credentials stay private.
type lineView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Extension     string `json:"extension"`
	RegistrarHost string `json:"registrar_host"`
	Enabled       bool   `json:"enabled"`
	Status        string `json:"status"`
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.lines.List(r.Context())
	if err != nil {
		s.logger.Error("listing lines failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing lines failed"})
		return
	}
	views := make([]lineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, lineView{
			ID:            l.ID,
			Name:          l.Name,
			Extension:     l.Extension,
			RegistrarHost: l.RegistrarHost,
			Enabled:       l.Enabled,
			Status:        string(l.Status),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lines": views})
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	calls := s.calls.ActiveCalls()
	if calls == nil {
		calls = []CallInfo{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}
