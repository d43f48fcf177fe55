// Package server exposes the service's HTTP surface: the WebSocket audio
// ingestion endpoint, session cancellation, health probes, and the Prometheus
// metrics endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remoteree/patient-note-taker-asean/internal/health"
	"github.com/remoteree/patient-note-taker-asean/internal/observe"
	"github.com/remoteree/patient-note-taker-asean/internal/session"
	"github.com/remoteree/patient-note-taker-asean/pkg/store"
)

const shutdownTimeout = 15 * time.Second

// Config wires the server's collaborators.
type Config struct {
	// ListenAddr is the TCP address to listen on.
	ListenAddr string

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Controller drives session lifecycles.
	Controller *session.Controller

	// Registry resolves live sessions for the cancel endpoint.
	Registry *session.Registry

	// Hub routes transcript events to attached connections. It must be the
	// same instance the controller pushes to.
	Hub *Hub

	// Verifier validates connection credentials.
	Verifier *TokenVerifier

	// Store is read for health checks and outcome metrics.
	Store store.Store

	// Health serves the liveness and readiness probes.
	Health *health.Handler

	// Metrics records HTTP and session instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Server is the HTTP front of the transcription service.
type Server struct {
	cfg        Config
	controller *session.Controller
	registry   *session.Registry
	hub        *Hub
	verifier   *TokenVerifier
	store      store.Store
	metrics    *observe.Metrics
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		cfg:        cfg,
		controller: cfg.Controller,
		registry:   cfg.Registry,
		hub:        cfg.Hub,
		verifier:   cfg.Verifier,
		store:      cfg.Store,
		metrics:    m,
	}
}

// Handler builds the full route table. The WebSocket endpoint is mounted
// outside the observability middleware: wrapping the response writer breaks
// the connection hijack, and a span per long-lived connection is useless
// anyway.
func (s *Server) Handler() http.Handler {
	root := http.NewServeMux()
	root.HandleFunc("GET /ws/transcribe", s.handleTranscribe)

	api := http.NewServeMux()
	api.HandleFunc("DELETE /sessions/{id}", s.handleCancel)
	if s.cfg.Health != nil {
		s.cfg.Health.Register(api)
	}
	api.Handle("GET /metrics", promhttp.Handler())

	root.Handle("/", observe.Instrument(s.metrics, api))
	return root
}

// Run serves until ctx is cancelled, then shuts down gracefully. Live
// WebSocket sessions are closed by the shutdown; their batch finalisation
// continues on detached contexts.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			slog.Info("listening with TLS", "addr", s.cfg.ListenAddr)
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			slog.Info("listening", "addr", s.cfg.ListenAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
