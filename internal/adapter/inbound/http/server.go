package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/sentinelscan/internal/port/inbound"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
	"github.com/Sentinel-Gate/sentinelscan/internal/service"
)

// Server is the inbound adapter exposing the scan engine over HTTP.
// Routes: POST /v1/evaluate, GET /v1/stats, GET /v1/audit, GET /health,
// GET /metrics.
type Server struct {
	evaluator inbound.Evaluator
	stats     *service.MetricsService
	audit     outbound.AuditStore

	server    *http.Server
	addr      string
	certFile  string
	keyFile   string
	keyHashes []string
	dialect   string
	version   string
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *Metrics
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8484" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAPIKeyHashes enables Bearer-token auth against the given key hashes.
func WithAPIKeyHashes(hashes []string) Option {
	return func(s *Server) {
		s.keyHashes = hashes
	}
}

// WithAuditStore exposes the audit trail at /v1/audit.
func WithAuditStore(store outbound.AuditStore) Option {
	return func(s *Server) {
		s.audit = store
	}
}

// WithDialect sets the backend dialect reported by /health.
func WithDialect(dialect string) Option {
	return func(s *Server) {
		s.dialect = dialect
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an HTTP server wrapping the given evaluator.
func NewServer(evaluator inbound.Evaluator, stats *service.MetricsService, opts ...Option) *Server {
	s := &Server{
		evaluator: evaluator,
		stats:     stats,
		addr:      "127.0.0.1:8484",
		logger:    slog.Default(),
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Handler builds the full route tree with middleware applied.
func (s *Server) Handler() http.Handler {
	// Middleware order (outermost first): metrics capture full duration,
	// then request ID enrichment, then auth.
	var api http.Handler = http.HandlerFunc(s.route)
	api = APIKeyMiddleware(s.keyHashes)(api)
	api = RequestIDMiddleware(s.logger)(api)
	api = MetricsMiddleware(s.metrics)(api)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	mux.Handle("/", api)
	return mux
}

// Start begins accepting connections and blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// route dispatches the authenticated API paths.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/evaluate":
		s.handleEvaluate(w, r)
	case "/v1/stats":
		s.handleStats(w, r)
	case "/v1/audit":
		s.handleAudit(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
