// Package server provides the HTTP server implementation for the form service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/sheetforms/internal/config"
	apierrors "github.com/devrev/sheetforms/internal/errors"
	"github.com/devrev/sheetforms/internal/handler"
	"github.com/devrev/sheetforms/internal/health"
	"github.com/devrev/sheetforms/internal/metrics"
	"github.com/devrev/sheetforms/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Route paths. The /.netlify/functions paths serve forms embedded before the
// v1 paths existed.
const (
	PathDefinition       = "/v1/forms/definition"
	PathSubmissions      = "/v1/forms/submissions"
	LegacyPathDefinition = "/.netlify/functions/form-definition"
	LegacyPathSubmit     = "/.netlify/functions/submit"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	metrics      *metrics.Metrics
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          config.ServerConfig
}

// NewServer creates a new HTTP server. m may be nil to disable request metrics.
func NewServer(cfg config.ServerConfig, handlers *handler.Handlers, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		metrics:      m,
		errorHandler: apierrors.NewHandler(logger),
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Setup middleware chain
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.metrics))
	}
	middlewareChain = append(middlewareChain, middleware.CORS(s.cfg.CORSOrigins))
	if s.cfg.MaxBodyBytes > 0 {
		middlewareChain = append(middlewareChain, middleware.MaxBody(s.cfg.MaxBodyBytes))
	}
	if s.cfg.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.RequestTimeout))
	}

	// Apply middleware to router
	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// Form routes. OPTIONS is routed so CORS can answer preflights.
	for _, path := range []string{PathDefinition, LegacyPathDefinition} {
		s.router.HandleFunc(path, s.handlers.GetFormDefinition).Methods(http.MethodGet, http.MethodOptions)
	}
	for _, path := range []string{PathSubmissions, LegacyPathSubmit} {
		s.router.HandleFunc(path, s.handlers.Submit).Methods(http.MethodPost, http.MethodOptions)
	}

	// Not found handler
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeNotFound, "endpoint not found", requestID)
	})

	// Method not allowed handler
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeMethodNotAllowed, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.Int("port", s.cfg.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
