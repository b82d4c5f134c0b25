// Package server runs the small operational HTTP surface: liveness and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultAddr = "127.0.0.1:9464"

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Pending       int     `json:"pending"`
	Journal       string  `json:"journal,omitempty"` // "ok", "error" or empty when disabled
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	addr    string
	metrics http.Handler
	pending func() int
	journal Pinger
	started time.Time
	logger  *slog.Logger
	server  *http.Server
}

type ServerConfig struct {
	Addr    string
	Metrics http.Handler // optional; /metrics is not mounted when nil
	Pending func() int   // optional; queued inbound messages
	Journal Pinger       // optional
	Logger  *slog.Logger
}

func New(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:    cfg.Addr,
		metrics: cfg.Metrics,
		pending: cfg.Pending,
		journal: cfg.Journal,
		started: time.Now(),
		logger:  cfg.Logger,
	}
}

// Router builds the chi mux with all routes wired.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.pending != nil {
		resp.Pending = s.pending()
	}
	code := http.StatusOK
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.journal.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Journal = "error"
			code = http.StatusServiceUnavailable
		} else {
			resp.Journal = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return errors.New("server: listen failed: " + err.Error())
	}
	s.logger.Info("ops server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
