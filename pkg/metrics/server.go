// HTTP server for the Prometheus metrics endpoint
//
// Serves /metrics for scraping plus /health and /ready probes, with
// optional basic authentication on /metrics.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klipper-filament-width/pkg/log"
)

// Server serves Prometheus metrics over HTTP
type Server struct {
	addr   string
	server *http.Server
	mux    *http.ServeMux

	// Optional basic auth
	username string
	password string

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	logger *log.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Address to listen on (e.g., ":9100" or "127.0.0.1:9100")
	Address string

	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a metrics server exporting m.
func NewServer(m *SensorMetrics, config ServerConfig) *Server {
	s := &Server{
		addr:     config.Address,
		mux:      http.NewServeMux(),
		username: config.Username,
		password: config.Password,
		logger:   log.GetLogger("metrics"),
	}

	s.mux.Handle("/metrics", s.withAuth(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel yields a
// startup or serve error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetRunning marks the server ready without listening, for embedding the
// handler in another server.
func (s *Server) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.startTime = time.Now()
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if s.IsRunning() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready\n"))
}

// withAuth enforces basic auth when credentials are configured.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.username == "" && s.password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		// Constant-time comparison
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="Filament Width Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStatus returns server status for diagnostics
func (s *Server) GetStatus() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]any{
		"address": s.addr,
		"running": s.running,
	}
	if s.running {
		status["uptime"] = time.Since(s.startTime).Seconds()
	}
	return status
}
